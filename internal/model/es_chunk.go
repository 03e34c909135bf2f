package model

// EsChunk 代表存储在 Elasticsearch 中的切块文档, 以 chunk_id 作为 _id,
// 重复写入覆盖同一份文档, 保证索引操作幂等。
type EsChunk struct {
	ChunkID     string    `json:"chunk_id"`
	TenantID    string    `json:"tenant_id"`
	DocID       string    `json:"doc_id"`
	DocName     string    `json:"doc_name"`
	ChunkText   string    `json:"chunk_text"`
	PageNumber  int       `json:"page_number"`
	BeginOffset int       `json:"begin_offset"`
	EndOffset   int       `json:"end_offset"`
	Vector      []float32 `json:"vector"`
}

// ToChunk 把索引文档还原为 DocumentChunk, 向量不随结果返回。
func (e EsChunk) ToChunk() DocumentChunk {
	return DocumentChunk{
		ID:          e.ChunkID,
		TenantID:    e.TenantID,
		DocID:       e.DocID,
		DocName:     e.DocName,
		ChunkText:   e.ChunkText,
		PageNumber:  e.PageNumber,
		BeginOffset: e.BeginOffset,
		EndOffset:   e.EndOffset,
	}
}

// ChunkQueryResult 是向量检索返回的单条结果, 也是查询响应里
// list_chunks 数组的元素结构。
type ChunkQueryResult struct {
	TenantID   string        `json:"tenant_id"`
	QueryID    string        `json:"query_id"`
	Chunk      DocumentChunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
}

// QueryResult 是一次查询应答的最终结果: 生成的回答、引用的切块列表
// 与查询标识。Status 为 "success" 时 Message 才有意义。
type QueryResult struct {
	Message    string             `json:"message"`
	ListChunks []ChunkQueryResult `json:"list_chunks"`
	QueryID    string             `json:"query_id"`
	Status     string             `json:"status"`
}
