// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"zhiku-rag/internal/config"
	"zhiku-rag/pkg/log"

	"github.com/cenkalti/backoff/v4"
)

// MaxInputsPerRequest 是单次 API 调用允许携带的文本条数上限。
const MaxInputsPerRequest = 96

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient 根据配置的 provider 创建嵌入客户端, 不支持的提供方直接报错。
func NewClient(cfg config.EmbeddingConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "dashscope":
		return &openAICompatibleClient{
			cfg:    cfg,
			client: &http.Client{Timeout: 60 * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("不支持的嵌入模型提供方: %q", cfg.Provider)
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// CreateEmbeddings 在一次 API 调用中获取一批文本的向量, 返回的向量与输入
// 文本按位置一一对应。对 429 与 5xx 响应按指数退避重试, 其余错误立即返回。
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("输入文本列表不能为空")
	}
	if len(texts) > MaxInputsPerRequest {
		return nil, fmt.Errorf("单次调用最多携带 %d 条文本, 当前为 %d", MaxInputsPerRequest, len(texts))
	}

	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))

	var embeddings [][]float32
	operation := func() error {
		var err error
		embeddings, err = c.createEmbeddingsOnce(ctx, texts)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 60 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, err
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取 %d 个向量", len(embeddings))
	return embeddings, nil
}

func (c *openAICompatibleClient) createEmbeddingsOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create embedding request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络层错误可重试。
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Warnf("[EmbeddingClient] Embedding API 返回 %s, 准备重试", resp.Status)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(texts)))
	}

	result := make([][]float32, len(embeddingResp.Data))
	for i, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("received empty embedding from api at position %d", i))
		}
		result[i] = d.Embedding
	}
	return result, nil
}
