package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"zhiku-rag/internal/model"
	"zhiku-rag/pkg/extract"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/storage"
	"zhiku-rag/pkg/tasks"

	"github.com/google/uuid"
)

// ExtractWorker 消费抽取主题: 下载原始文档, 调用抽取服务得到分页文本,
// 把抽取产物写回对象存储并投递向量化任务。
type ExtractWorker struct {
	extractor      extract.Extractor
	store          ObjectStore
	produce        ProduceFunc
	embedTopic     string
	embeddingModel string
	maxFileSize    int64
}

// NewExtractWorker 创建一个新的 ExtractWorker 实例。maxFileSizeMB 为
// 允许处理的原始文档大小上限（MB）。
func NewExtractWorker(
	extractor extract.Extractor,
	store ObjectStore,
	produce ProduceFunc,
	embedTopic string,
	embeddingModel string,
	maxFileSizeMB int64,
) *ExtractWorker {
	return &ExtractWorker{
		extractor:      extractor,
		store:          store,
		produce:        produce,
		embedTopic:     embedTopic,
		embeddingModel: embeddingModel,
		maxFileSize:    maxFileSizeMB * 1024 * 1024,
	}
}

// Process 处理一条抽取任务。任何阶段失败都返回错误, 交由队列按退避重投。
func (w *ExtractWorker) Process(ctx context.Context, payload []byte) error {
	var task tasks.ExtractTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("解析抽取任务失败: %w", err)
	}
	if task.DocumentName == "" {
		return errors.New("抽取任务缺少 document_name")
	}
	if err := model.ValidateTenantID(task.TenantID); err != nil {
		return fmt.Errorf("抽取任务租户非法: %w", err)
	}
	log.Infof("[ExtractWorker] 开始处理文档, DocumentName: %s, TenantID: %s", task.DocumentName, task.TenantID)

	// 1. 检查原始对象存在且大小在允许范围内
	rawObject := storage.RawObjectName(task.DocumentName)
	size, err := w.store.Stat(ctx, rawObject)
	if err != nil {
		log.Errorf("[ExtractWorker] 原始文档不存在, Object: %s, Error: %v", rawObject, err)
		return fmt.Errorf("原始文档不可用: %w", err)
	}
	if size == 0 {
		log.Warnf("[ExtractWorker] 文档 '%s' 内容为空, 处理中止", task.DocumentName)
		return errors.New("文档内容为空")
	}
	if size > w.maxFileSize {
		log.Warnf("[ExtractWorker] 文档 '%s' 大小 %d 字节超过上限 %d 字节, 处理中止", task.DocumentName, size, w.maxFileSize)
		return fmt.Errorf("文档大小 %d 字节超过上限 %d 字节", size, w.maxFileSize)
	}
	log.Infof("[ExtractWorker] 步骤1: 原始文档检查通过, 大小: %d 字节", size)

	// 2. 下载原始文档并抽取分页文本
	data, err := w.store.Get(ctx, rawObject)
	if err != nil {
		log.Errorf("[ExtractWorker] 下载原始文档失败, Object: %s, Error: %v", rawObject, err)
		return fmt.Errorf("下载原始文档失败: %w", err)
	}
	doc, err := w.extractor.Extract(ctx, bytes.NewReader(data), task.DocumentName)
	if err != nil {
		log.Errorf("[ExtractWorker] 文本抽取失败, DocumentName: %s, Error: %v", task.DocumentName, err)
		return fmt.Errorf("文本抽取失败: %w", err)
	}
	if len(doc.Pages) == 0 {
		log.Warnf("[ExtractWorker] 文档 '%s' 未抽取出任何页面, 处理中止", task.DocumentName)
		return errors.New("未能从文档中抽取出任何页面")
	}
	log.Infof("[ExtractWorker] 步骤2: 文本抽取成功, 共 %d 页", len(doc.Pages))

	// 3. 补全文档标识并写回抽取产物
	doc.ID = uuid.NewString()
	doc.TenantID = task.TenantID
	doc.EmbeddingModel = w.embeddingModel
	artifact, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("序列化抽取产物失败: %w", err)
	}
	extractedObject := storage.ExtractedObjectName(task.DocumentName)
	if err := w.store.Put(ctx, extractedObject, bytes.NewReader(artifact), int64(len(artifact)), "application/json"); err != nil {
		log.Errorf("[ExtractWorker] 写入抽取产物失败, Object: %s, Error: %v", extractedObject, err)
		return fmt.Errorf("写入抽取产物失败: %w", err)
	}
	log.Infof("[ExtractWorker] 步骤3: 抽取产物已写入, Object: %s, DocID: %s", extractedObject, doc.ID)

	// 4. 投递向量化任务
	if err := w.produce(ctx, w.embedTopic, tasks.EmbedTask{DocumentName: task.DocumentName}); err != nil {
		log.Errorf("[ExtractWorker] 投递向量化任务失败, DocumentName: %s, Error: %v", task.DocumentName, err)
		return fmt.Errorf("投递向量化任务失败: %w", err)
	}
	log.Infof("[ExtractWorker] 文档处理完成, DocumentName: %s, DocID: %s", task.DocumentName, doc.ID)
	return nil
}
