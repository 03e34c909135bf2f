// Package model 定义了数据库表与管道载荷对应的 Go 结构体。
package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// TenantIDMinLength 与 TenantIDMaxLength 约束租户标识的长度。
	TenantIDMinLength = 3
	TenantIDMaxLength = 256
)

// ValidateTenantID 校验租户标识是否符合长度约束。
func ValidateTenantID(tenantID string) error {
	n := utf8.RuneCountInString(tenantID)
	if n < TenantIDMinLength || n > TenantIDMaxLength {
		return fmt.Errorf("tenant_id 长度必须在 %d 到 %d 之间, 当前为 %d", TenantIDMinLength, TenantIDMaxLength, n)
	}
	return nil
}

// PageTable 代表从文档某一页抽取出的表格。
type PageTable struct {
	Page  int              `json:"page"`
	Cells []map[string]any `json:"cells"`
}

// PageImage 代表从文档某一页抽取出的图片的位置信息。
type PageImage struct {
	Page      int `json:"page"`
	PositionX int `json:"position_x"`
	PositionY int `json:"position_y"`
	Width     int `json:"width"`
	Height    int `json:"height"`
}

// Document 对应数据库中的 document 表, 同时也是抽取阶段写入对象存储、
// 嵌入阶段读回的 JSON 载荷。Pages 按页序保存原始文本, 随行序列化为 JSON 列;
// Tables 与 Images 只存在于抽取产物中, 不落库。
type Document struct {
	ID             string      `gorm:"primaryKey;type:varchar(64);column:id" json:"doc_id"`
	TenantID       string      `gorm:"type:varchar(256);not null;index;column:tenant_id" json:"tenant_id"`
	Name           string      `gorm:"type:varchar(512);not null;column:name" json:"doc_name"`
	Pages          []string    `gorm:"type:json;serializer:json;column:pages" json:"pages"`
	EmbeddingModel string      `gorm:"type:varchar(128);column:embedding_model_name" json:"embedding_model_name,omitempty"`
	Tables         []PageTable `gorm:"-" json:"tables,omitempty"`
	Images         []PageImage `gorm:"-" json:"images,omitempty"`
	CreatedAt      time.Time   `gorm:"autoCreateTime" json:"-"`
}

func (Document) TableName() string {
	return "document"
}

// DocumentChunk 对应数据库中的 document_chunk 表。
// Embedding 只在管道内存中流转, 向量本体写入 Elasticsearch;
// DocName 冗余自 document 表, 查询结果通过索引侧带回。
type DocumentChunk struct {
	ID          string    `gorm:"primaryKey;type:varchar(768);column:id" json:"chunk_id"`
	TenantID    string    `gorm:"type:varchar(256);not null;index;column:tenant_id" json:"tenant_id"`
	DocID       string    `gorm:"type:varchar(64);not null;index;column:fk_doc_id" json:"doc_id"`
	DocName     string    `gorm:"-" json:"doc_name"`
	ChunkText   string    `gorm:"type:text;not null;column:chunk_text" json:"chunk_text"`
	PageNumber  int       `gorm:"not null;column:page_number" json:"page_number"`
	BeginOffset int       `gorm:"not null;column:begin_offset" json:"begin_offset"`
	EndOffset   int       `gorm:"not null;column:end_offset" json:"end_offset"`
	Embedding   []float32 `gorm:"-" json:"-"`
}

func (DocumentChunk) TableName() string {
	return "document_chunk"
}

// NewDocumentChunk 构造一个切块并校验字段约束, 任何一条不满足即返回错误:
// 文本非空、页码与偏移量非负、end_offset 不小于 begin_offset。
func NewDocumentChunk(chunkID, tenantID, docID, docName, chunkText string, pageNumber, beginOffset, endOffset int) (DocumentChunk, error) {
	if chunkID == "" {
		return DocumentChunk{}, errors.New("chunk_id 不能为空")
	}
	if chunkText == "" {
		return DocumentChunk{}, errors.New("chunk_text 不能为空")
	}
	if pageNumber < 0 {
		return DocumentChunk{}, fmt.Errorf("page_number 不能为负数: %d", pageNumber)
	}
	if beginOffset < 0 {
		return DocumentChunk{}, fmt.Errorf("begin_offset 不能为负数: %d", beginOffset)
	}
	if endOffset < beginOffset {
		return DocumentChunk{}, fmt.Errorf("end_offset(%d) 不能小于 begin_offset(%d)", endOffset, beginOffset)
	}
	return DocumentChunk{
		ID:          chunkID,
		TenantID:    tenantID,
		DocID:       docID,
		DocName:     docName,
		ChunkText:   chunkText,
		PageNumber:  pageNumber,
		BeginOffset: beginOffset,
		EndOffset:   endOffset,
	}, nil
}
