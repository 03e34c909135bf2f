// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ExtractTask 是文档上传后投递给抽取消费者的任务。
type ExtractTask struct {
	DocumentName string `json:"document_name"`
	TenantID     string `json:"tenant_id"`
}

// EmbedTask 是抽取完成后投递给嵌入消费者的任务。
// 租户等元数据都在抽取产物内, 任务本身只带文档名。
type EmbedTask struct {
	DocumentName string `json:"document_name"`
}

// SearchTask 是查询受理后投递给检索消费者的任务。
type SearchTask struct {
	TenantID  string `json:"tenant_id"`
	QueryID   string `json:"query_id"`
	QueryText string `json:"query_text"`
}
