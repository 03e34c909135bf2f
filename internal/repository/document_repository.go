// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"

	"zhiku-rag/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository 定义了对 document 与 document_chunk 表的数据操作接口。
type DocumentRepository interface {
	InsertDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error
	GetDocumentByID(ctx context.Context, docID string) (*model.Document, error)
	CountChunksByDocID(ctx context.Context, docID string) (int64, error)
	DeleteDocument(ctx context.Context, docID string) error
	CleanTenant(ctx context.Context, tenantID string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// InsertDocument 在一个事务里写入文档记录和它的全部切块。
// 文档与切块都按主键冲突跳过, 重复写入同一份文档不会产生新行也不会报错。
func (r *documentRepository) InsertDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(doc).Error; err != nil {
			return fmt.Errorf("写入文档记录失败: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(chunks, 100).Error; err != nil {
			return fmt.Errorf("写入切块记录失败: %w", err)
		}
		return nil
	})
}

// GetDocumentByID 根据文档 ID 查找文档记录。
func (r *documentRepository) GetDocumentByID(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CountChunksByDocID 统计某个文档已入库的切块数量。
func (r *documentRepository) CountChunksByDocID(ctx context.Context, docID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).Where("fk_doc_id = ?", docID).Count(&count).Error
	return count, err
}

// DeleteDocument 在一个事务里删除文档及其全部切块, 先删切块再删文档。
func (r *documentRepository) DeleteDocument(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fk_doc_id = ?", docID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除文档切块失败: %w", err)
		}
		if err := tx.Where("id = ?", docID).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("删除文档记录失败: %w", err)
		}
		return nil
	})
}

// CleanTenant 在一个事务里清空某个租户的全部文档数据。
// 租户没有任何数据时是无害的空操作。
func (r *documentRepository) CleanTenant(ctx context.Context, tenantID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("清理租户切块失败: %w", err)
		}
		if err := tx.Where("tenant_id = ?", tenantID).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("清理租户文档失败: %w", err)
		}
		return nil
	})
}
