package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zhiku-rag/internal/model"
	"zhiku-rag/internal/repository"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/storage"

	"gorm.io/gorm"
)

// DeleteByQueryFunc 按查询条件从向量索引删除切块, 由 es.DeleteByQuery 实现。
type DeleteByQueryFunc func(ctx context.Context, indexName string, query map[string]any) error

// ObjectStore 是文档维护操作需要的对象存储窄接口, 由 storage.BucketStore 实现。
type ObjectStore interface {
	Remove(ctx context.Context, objectName string) error
	PresignedGetURL(objectName string, expiry time.Duration) (string, error)
}

// 预签名下载链接的有效期为1小时
const downloadURLExpiry = time.Hour

// DocumentInfoDTO 是文档审计接口的返回结构: 文档行、切块数量与原始文件的
// 限时下载链接。
type DocumentInfoDTO struct {
	Document    *model.Document `json:"document"`
	ChunkCount  int64           `json:"chunk_count"`
	UploadedAt  model.LocalTime `json:"uploaded_at"`
	DownloadURL string          `json:"download_url,omitempty"`
}

// DocumentService 定义了文档管理与维护操作。删除操作依次清理对象存储、
// 关系库与向量索引: 对象先于数据行删除, 失败重试时仍能按文档名定位对象;
// 任何一步失败都让操作报错, 重试对三方都是幂等的。
type DocumentService interface {
	GetDocument(ctx context.Context, docID string) (*DocumentInfoDTO, error)
	DeleteDocument(ctx context.Context, docID string) error
	CleanTenant(ctx context.Context, tenantID string) error
}

type documentService struct {
	docRepo       repository.DocumentRepository
	deleteByQuery DeleteByQueryFunc
	indexName     string
	store         ObjectStore
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, deleteByQuery DeleteByQueryFunc, indexName string, store ObjectStore) DocumentService {
	return &documentService{
		docRepo:       docRepo,
		deleteByQuery: deleteByQuery,
		indexName:     indexName,
		store:         store,
	}
}

// GetDocument 返回文档行、切块数量与原始文件的下载链接, 供审计使用。
// 下载链接生成失败不阻断审计, 只是链接留空。
func (s *documentService) GetDocument(ctx context.Context, docID string) (*DocumentInfoDTO, error) {
	doc, err := s.docRepo.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	count, err := s.docRepo.CountChunksByDocID(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("统计文档切块数量失败: %w", err)
	}
	downloadURL, err := s.store.PresignedGetURL(storage.RawObjectName(doc.Name), downloadURLExpiry)
	if err != nil {
		log.Warnf("[DocumentService] 生成下载链接失败, DocID: %s, Error: %v", docID, err)
		downloadURL = ""
	}
	return &DocumentInfoDTO{
		Document:    doc,
		ChunkCount:  count,
		UploadedAt:  model.LocalTime(doc.CreatedAt),
		DownloadURL: downloadURL,
	}, nil
}

// DeleteDocument 级联删除文档: 原始对象与抽取产物、全部切块关系行、
// 向量索引中的切块。文档行已不存在时跳过对象清理, 其余步骤照常执行,
// 因而重复删除不报错。
func (s *documentService) DeleteDocument(ctx context.Context, docID string) error {
	log.Infof("[DocumentService] 开始删除文档, DocID: %s", docID)

	doc, err := s.docRepo.GetDocumentByID(ctx, docID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warnf("[DocumentService] 文档行不存在, 跳过对象清理, DocID: %s", docID)
	case err != nil:
		return fmt.Errorf("查询待删除文档失败: %w", err)
	default:
		if err := s.store.Remove(ctx, storage.RawObjectName(doc.Name)); err != nil {
			log.Errorf("[DocumentService] 删除原始文档对象失败, DocID: %s, Error: %v", docID, err)
			return fmt.Errorf("删除原始文档对象失败: %w", err)
		}
		if err := s.store.Remove(ctx, storage.ExtractedObjectName(doc.Name)); err != nil {
			log.Errorf("[DocumentService] 删除抽取产物对象失败, DocID: %s, Error: %v", docID, err)
			return fmt.Errorf("删除抽取产物对象失败: %w", err)
		}
	}

	if err := s.docRepo.DeleteDocument(ctx, docID); err != nil {
		log.Errorf("[DocumentService] 删除文档关系行失败, DocID: %s, Error: %v", docID, err)
		return err
	}
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"doc_id": docID},
		},
	}
	if err := s.deleteByQuery(ctx, s.indexName, query); err != nil {
		log.Errorf("[DocumentService] 清理文档索引切块失败, DocID: %s, Error: %v", docID, err)
		return fmt.Errorf("清理文档索引切块失败: %w", err)
	}
	log.Infof("[DocumentService] 文档删除完成, DocID: %s", docID)
	return nil
}

// CleanTenant 清空一个租户的全部文档与切块, 租户无数据时为无操作。
// 只清理关系库与向量索引, 对象存储中的原始文件不在此处批量回收。
func (s *documentService) CleanTenant(ctx context.Context, tenantID string) error {
	if err := model.ValidateTenantID(tenantID); err != nil {
		return err
	}
	log.Infof("[DocumentService] 开始清空租户数据, TenantID: %s", tenantID)
	if err := s.docRepo.CleanTenant(ctx, tenantID); err != nil {
		log.Errorf("[DocumentService] 清空租户关系数据失败, TenantID: %s, Error: %v", tenantID, err)
		return err
	}
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"tenant_id": tenantID},
		},
	}
	if err := s.deleteByQuery(ctx, s.indexName, query); err != nil {
		log.Errorf("[DocumentService] 清理租户索引切块失败, TenantID: %s, Error: %v", tenantID, err)
		return fmt.Errorf("清理租户索引切块失败: %w", err)
	}
	log.Infof("[DocumentService] 租户数据清空完成, TenantID: %s", tenantID)
	return nil
}
