// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"zhiku-rag/internal/model"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/storage"
	"zhiku-rag/pkg/tasks"

	"github.com/google/uuid"
)

// ErrDocumentTooLarge 表示上传的文档超过了配置的大小上限。
var ErrDocumentTooLarge = errors.New("文档大小超过上限")

// ObjectPutter 是入库服务需要的对象写入操作, 由 storage.BucketStore 实现。
type ObjectPutter interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// ProduceFunc 向指定主题投递一个任务, 由 kafka.Produce 实现。
type ProduceFunc func(ctx context.Context, topic string, task any) error

// IngestService 负责文档入库的同步部分: 校验、落原始对象、投递抽取任务。
// 后续的抽取与向量化在队列消费端异步完成。
type IngestService interface {
	// UploadDocument 保存原始文档并投递抽取任务, 返回系统内的文档名。
	UploadDocument(ctx context.Context, tenantID, fileName string, file io.Reader, size int64, contentType string) (string, error)
}

type ingestService struct {
	putter       ObjectPutter
	produce      ProduceFunc
	extractTopic string
	maxFileSize  int64
}

// NewIngestService 创建一个新的 IngestService 实例。maxFileSizeMB 为
// 上传大小上限（MB）, 与抽取阶段的准入上限保持一致。
func NewIngestService(putter ObjectPutter, produce ProduceFunc, extractTopic string, maxFileSizeMB int64) IngestService {
	return &ingestService{
		putter:       putter,
		produce:      produce,
		extractTopic: extractTopic,
		maxFileSize:  maxFileSizeMB * 1024 * 1024,
	}
}

// UploadDocument 处理一次文档上传。对象名带 uuid 前缀, 同名文件互不覆盖;
// 原始内容存放在 raw/ 前缀下, 投递失败时上传整体失败。
func (s *ingestService) UploadDocument(ctx context.Context, tenantID, fileName string, file io.Reader, size int64, contentType string) (string, error) {
	if err := model.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	fileName = filepath.Base(fileName)
	if fileName == "" || fileName == "." || fileName == "/" {
		return "", errors.New("文件名不能为空")
	}
	if size <= 0 {
		return "", errors.New("文件内容为空")
	}
	if size > s.maxFileSize {
		return "", fmt.Errorf("%w: %d 字节, 上限 %d 字节", ErrDocumentTooLarge, size, s.maxFileSize)
	}

	documentName := fmt.Sprintf("%s_%s", uuid.NewString(), fileName)
	objectName := storage.RawObjectName(documentName)
	log.Infof("[IngestService] 开始上传文档, TenantID: %s, Object: %s, 大小: %d 字节", tenantID, objectName, size)

	if err := s.putter.Put(ctx, objectName, file, size, contentType); err != nil {
		log.Errorf("[IngestService] 保存原始文档失败, Object: %s, Error: %v", objectName, err)
		return "", fmt.Errorf("保存原始文档失败: %w", err)
	}

	task := tasks.ExtractTask{DocumentName: documentName, TenantID: tenantID}
	if err := s.produce(ctx, s.extractTopic, task); err != nil {
		log.Errorf("[IngestService] 投递抽取任务失败, DocumentName: %s, Error: %v", documentName, err)
		return "", fmt.Errorf("投递抽取任务失败: %w", err)
	}

	log.Infof("[IngestService] 文档上传完成并已排队, DocumentName: %s", documentName)
	return documentName, nil
}
