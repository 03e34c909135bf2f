package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"zhiku-rag/internal/model"
	"zhiku-rag/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ChunkSearchRepository 定义了对切块索引的检索操作。
// 两种检索都在排序前先按租户过滤, 不同租户的数据互不可见。
type ChunkSearchRepository interface {
	SearchByVector(ctx context.Context, tenantID, queryID string, queryVector []float32, limit int) ([]model.ChunkQueryResult, error)
	SearchByKeyword(ctx context.Context, tenantID, queryID, keyword string, limit int) ([]model.ChunkQueryResult, error)
}

type chunkSearchRepository struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewChunkSearchRepository 创建一个新的 ChunkSearchRepository 实例。
func NewChunkSearchRepository(esClient *elasticsearch.Client, indexName string) ChunkSearchRepository {
	return &chunkSearchRepository{
		esClient:  esClient,
		indexName: indexName,
	}
}

// SearchByVector 按向量相似度检索切块, 结果按相关度从高到低排列。
// 租户过滤放在 knn 子句内部, 在召回阶段即生效。
func (r *chunkSearchRepository) SearchByVector(ctx context.Context, tenantID, queryID string, queryVector []float32, limit int) ([]model.ChunkQueryResult, error) {
	log.Infof("[SearchRepository] 开始向量检索, tenant: %s, limit: %d", tenantID, limit)

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              limit,
			"num_candidates": limit * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"tenant_id": tenantID},
			},
		},
		"size": limit,
	}

	return r.search(ctx, tenantID, queryID, esQuery)
}

// SearchByKeyword 按关键词全文检索切块, 作为向量检索的补充通道。
func (r *chunkSearchRepository) SearchByKeyword(ctx context.Context, tenantID, queryID, keyword string, limit int) ([]model.ChunkQueryResult, error) {
	log.Infof("[SearchRepository] 开始关键词检索, tenant: %s, limit: %d", tenantID, limit)

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"chunk_text": keyword,
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"tenant_id": tenantID},
				},
			},
		},
		"size": limit,
	}

	return r.search(ctx, tenantID, queryID, esQuery)
}

func (r *chunkSearchRepository) search(ctx context.Context, tenantID, queryID string, esQuery map[string]interface{}) ([]model.ChunkQueryResult, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(r.indexName),
		r.esClient.Search.WithBody(&buf),
		r.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[SearchRepository] 向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchRepository] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.ChunkQueryResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ChunkQueryResult{
			TenantID:   hit.Source.TenantID,
			QueryID:    queryID,
			Chunk:      hit.Source.ToChunk(),
			Similarity: hit.Score,
		})
	}

	log.Infof("[SearchRepository] 检索完成, tenant: %s, 命中 %d 条", tenantID, len(results))
	return results, nil
}
