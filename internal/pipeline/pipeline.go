// Package pipeline 实现文档入库与查询应答的三个队列消费阶段:
// 文本抽取(extract)、切块向量化(embed)与检索应答(search)。
// 每个 Worker 对应一个主题的消费者, 实现 kafka.TaskProcessor 接口;
// 处理失败时返回错误, 由消费者按退避策略重新投递。
package pipeline

import (
	"context"
	"io"

	"zhiku-rag/internal/model"
)

// ObjectStore 是流水线所需对象存储操作的窄接口, 由 storage.BucketStore 实现。
type ObjectStore interface {
	Stat(ctx context.Context, objectName string) (int64, error)
	Get(ctx context.Context, objectName string) ([]byte, error)
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// ProduceFunc 向指定主题投递一个任务, 由 kafka.Produce 实现。
type ProduceFunc func(ctx context.Context, topic string, task any) error

// IndexChunkFunc 将一个切块写入向量索引, 由 es.IndexChunk 实现。
type IndexChunkFunc func(ctx context.Context, indexName string, chunk model.EsChunk) error

// QueryAnswerer 执行一次完整的检索增强生成流程, 由 service.SearchService 实现。
type QueryAnswerer interface {
	AnswerQuery(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) (*model.QueryResult, error)
}
