package model

import "time"

// 查询消息的生命周期状态。状态只沿 pending -> completed / failed 单向流转,
// 终态不再被复用: 同一 query_id 的重试会插入新行。
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Message 对应数据库中的 message 表, 记录一次查询的受理与结果。
type Message struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TenantID  string    `gorm:"type:varchar(256);not null;index;column:tenant_id" json:"tenant_id"`
	QueryID   string    `gorm:"type:varchar(128);not null;index;column:query_id" json:"query_id"`
	QueryText string    `gorm:"type:text;not null;column:query_text" json:"query_text"`
	Status    string    `gorm:"type:varchar(16);not null;default:pending;column:status" json:"status"`
	Result    string    `gorm:"type:text;column:result" json:"result"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

func (Message) TableName() string {
	return "message"
}

// ResultToken 对应 result_token 表, 按序号保存流式回答的每一个增量片段。
type ResultToken struct {
	ID          uint   `gorm:"primaryKey;autoIncrement;column:id"`
	MessageID   uint   `gorm:"not null;index;column:fk_message_id"`
	TokenNumber int    `gorm:"not null;column:token_number"`
	TokenText   string `gorm:"type:text;not null;column:token_text"`
}

func (ResultToken) TableName() string {
	return "result_token"
}

// ChunkMessage 对应 chunk_message 表, 记录回答引用了哪些切块。
type ChunkMessage struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;column:id"`
	MessageID uint   `gorm:"not null;index;column:fk_message_id"`
	ChunkID   string `gorm:"type:varchar(768);not null;column:fk_document_chunk_id"`
}

func (ChunkMessage) TableName() string {
	return "chunk_message"
}
