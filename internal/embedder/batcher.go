// Package embedder 负责为文档切块批量生成向量。
package embedder

import (
	"context"
	"fmt"

	"zhiku-rag/internal/model"
	"zhiku-rag/pkg/embedding"
	"zhiku-rag/pkg/log"
)

// Batcher 按固定批量为切块生成向量, 结果原地写回切块的 Embedding 字段。
type Batcher interface {
	Embed(ctx context.Context, chunks []model.DocumentChunk) error
}

type batcher struct {
	client        embedding.Client
	batchSize     int
	maxTextLength int
}

// NewBatcher 创建批量嵌入器。batchSize 是单次 API 调用携带的切块数,
// 不能超过嵌入 API 的单次条数上限; maxTextLength 是每条文本送入模型前
// 的字符截断上限。
func NewBatcher(client embedding.Client, batchSize, maxTextLength int) (Batcher, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch_size 必须不小于 1, 当前为 %d", batchSize)
	}
	if batchSize > embedding.MaxInputsPerRequest {
		return nil, fmt.Errorf("batch_size(%d) 不能超过单次调用条数上限(%d)", batchSize, embedding.MaxInputsPerRequest)
	}
	if maxTextLength < 1 {
		return nil, fmt.Errorf("max_text_length 必须不小于 1, 当前为 %d", maxTextLength)
	}
	return &batcher{client: client, batchSize: batchSize, maxTextLength: maxTextLength}, nil
}

// Embed 依序处理每个批次, 每批一次 API 调用, 返回向量按位置赋给对应切块。
// 任何一批失败都会立即中止并返回错误, 已写回的向量保持不变但不应再被使用。
func (b *batcher) Embed(ctx context.Context, chunks []model.DocumentChunk) error {
	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = truncateRunes(chunk.ChunkText, b.maxTextLength)
		}

		embeddings, err := b.client.CreateEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("第 %d 批切块向量生成失败: %w", start/b.batchSize+1, err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("向量数量与切块数量不一致: 期望 %d, 实际 %d", len(batch), len(embeddings))
		}

		for i := range batch {
			batch[i].Embedding = embeddings[i]
		}
		log.Infof("[Embedder] 已完成 %d/%d 个切块的向量生成", end, len(chunks))
	}
	return nil
}

// truncateRunes 按字符数截断文本, 多字节字符不会被截成半个。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
