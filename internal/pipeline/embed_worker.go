package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"zhiku-rag/internal/chunker"
	"zhiku-rag/internal/embedder"
	"zhiku-rag/internal/model"
	"zhiku-rag/internal/repository"
	"zhiku-rag/pkg/log"
	"zhiku-rag/pkg/storage"
	"zhiku-rag/pkg/tasks"
)

// EmbedWorker 消费向量化主题: 读取抽取产物, 切块、生成向量、事务写库,
// 最后把切块同步到向量索引。切块主键是确定性的, 同一文档被重复投递时
// 数据库与索引都不会产生重复数据。
type EmbedWorker struct {
	chunker          chunker.Chunker
	batcher          embedder.Batcher
	docRepo          repository.DocumentRepository
	store            ObjectStore
	indexChunk       IndexChunkFunc
	indexName        string
	maxMemoryPercent float64
}

// NewEmbedWorker 创建一个新的 EmbedWorker 实例。
func NewEmbedWorker(
	ck chunker.Chunker,
	batcher embedder.Batcher,
	docRepo repository.DocumentRepository,
	store ObjectStore,
	indexChunk IndexChunkFunc,
	indexName string,
	maxMemoryPercent float64,
) *EmbedWorker {
	return &EmbedWorker{
		chunker:          ck,
		batcher:          batcher,
		docRepo:          docRepo,
		store:            store,
		indexChunk:       indexChunk,
		indexName:        indexName,
		maxMemoryPercent: maxMemoryPercent,
	}
}

// Process 处理一条向量化任务。准入检查依次为: 抽取产物存在、产物可解析为
// 合法文档、系统内存低于阈值; 任何一项不通过都返回错误交由队列重投。
func (w *EmbedWorker) Process(ctx context.Context, payload []byte) error {
	var task tasks.EmbedTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("解析向量化任务失败: %w", err)
	}
	if task.DocumentName == "" {
		return errors.New("向量化任务缺少 document_name")
	}
	log.Infof("[EmbedWorker] 开始处理文档, DocumentName: %s", task.DocumentName)

	// 1. 抽取产物必须存在
	objectName := storage.ExtractedObjectName(task.DocumentName)
	if _, err := w.store.Stat(ctx, objectName); err != nil {
		log.Errorf("[EmbedWorker] 抽取产物不存在, Object: %s, Error: %v", objectName, err)
		return fmt.Errorf("抽取产物不可用: %w", err)
	}
	data, err := w.store.Get(ctx, objectName)
	if err != nil {
		log.Errorf("[EmbedWorker] 下载抽取产物失败, Object: %s, Error: %v", objectName, err)
		return fmt.Errorf("下载抽取产物失败: %w", err)
	}
	log.Infof("[EmbedWorker] 步骤1: 抽取产物下载成功, 大小: %d 字节", len(data))

	// 2. 产物必须能解析为合法文档
	doc, err := decodeExtractedDocument(data)
	if err != nil {
		log.Errorf("[EmbedWorker] 抽取产物校验失败, Object: %s, Error: %v", objectName, err)
		return fmt.Errorf("抽取产物校验失败: %w", err)
	}
	log.Infof("[EmbedWorker] 步骤2: 文档校验通过, DocID: %s, TenantID: %s, 共 %d 页", doc.ID, doc.TenantID, len(doc.Pages))

	// 3. 内存水位检查
	if err := checkMemoryBudget(w.maxMemoryPercent); err != nil {
		log.Warnf("[EmbedWorker] 内存准入未通过, DocumentName: %s, Error: %v", task.DocumentName, err)
		return err
	}

	// 4. 文本切块
	chunks, err := w.chunker.Chunk(doc)
	if err != nil {
		log.Errorf("[EmbedWorker] 文本切块失败, DocID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("文本切块失败: %w", err)
	}
	log.Infof("[EmbedWorker] 步骤4: 文本切块完成, 共生成 %d 个切块", len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[EmbedWorker] 未生成任何切块, 处理中止, DocID: %s", doc.ID)
		return errors.New("未生成任何切块")
	}

	// 5. 生成向量
	if err := w.batcher.Embed(ctx, chunks); err != nil {
		log.Errorf("[EmbedWorker] 向量生成失败, DocID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("向量生成失败: %w", err)
	}
	log.Infof("[EmbedWorker] 步骤5: 向量生成完成")

	// 6. 文档与切块一个事务写库
	if err := w.docRepo.InsertDocument(ctx, doc, chunks); err != nil {
		log.Errorf("[EmbedWorker] 写入数据库失败, DocID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("写入数据库失败: %w", err)
	}
	log.Infof("[EmbedWorker] 步骤6: 文档与 %d 个切块已写入数据库", len(chunks))

	// 7. 事务提交后同步向量索引, 以 chunk_id 作为 _id 幂等覆盖
	for i, chunk := range chunks {
		esChunk := model.EsChunk{
			ChunkID:     chunk.ID,
			TenantID:    chunk.TenantID,
			DocID:       chunk.DocID,
			DocName:     chunk.DocName,
			ChunkText:   chunk.ChunkText,
			PageNumber:  chunk.PageNumber,
			BeginOffset: chunk.BeginOffset,
			EndOffset:   chunk.EndOffset,
			Vector:      chunk.Embedding,
		}
		if err := w.indexChunk(ctx, w.indexName, esChunk); err != nil {
			log.Errorf("[EmbedWorker] 同步切块 %d/%d 到向量索引失败, ChunkID: %s, Error: %v", i+1, len(chunks), chunk.ID, err)
			return fmt.Errorf("同步切块 %s 到向量索引失败: %w", chunk.ID, err)
		}
	}
	log.Infof("[EmbedWorker] 文档处理完成, DocID: %s, 共 %d 个切块", doc.ID, len(chunks))
	return nil
}

// decodeExtractedDocument 解析抽取产物并校验文档的完整性:
// 租户标识在边界内、文档标识非空、至少包含一页文本。
func decodeExtractedDocument(data []byte) (*model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("抽取产物不是合法的 JSON: %w", err)
	}
	if err := model.ValidateTenantID(doc.TenantID); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, errors.New("抽取产物缺少 doc_id")
	}
	if doc.Name == "" {
		return nil, errors.New("抽取产物缺少 doc_name")
	}
	if len(doc.Pages) == 0 {
		return nil, errors.New("抽取产物不包含任何页面")
	}
	return &doc, nil
}
