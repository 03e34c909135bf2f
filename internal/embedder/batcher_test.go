package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"zhiku-rag/internal/model"
	"zhiku-rag/pkg/embedding"
)

// fakeEmbeddingClient 记录每次调用收到的文本, 返回可定位来源批次的向量。
type fakeEmbeddingClient struct {
	calls   [][]string
	failAt  int // 第几次调用返回错误, 0 表示不失败
	shorted bool
}

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (f *fakeEmbeddingClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failAt > 0 && len(f.calls) == f.failAt {
		return nil, fmt.Errorf("provider unavailable")
	}

	n := len(texts)
	if f.shorted {
		n-- // 少回一个向量
	}
	result := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, []float32{float32(len(f.calls)), float32(i)})
	}
	return result, nil
}

func makeChunks(t *testing.T, n int) []model.DocumentChunk {
	t.Helper()
	chunks := make([]model.DocumentChunk, 0, n)
	for i := 0; i < n; i++ {
		chunk, err := model.NewDocumentChunk(
			fmt.Sprintf("tenant-a_doc.pdf_doc-1_1_%d", i*10),
			"tenant-a", "doc-1", "doc.pdf",
			fmt.Sprintf("chunk text %d", i), 1, i*10, i*10+10)
		if err != nil {
			t.Fatalf("NewDocumentChunk: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestNewBatcherValidation(t *testing.T) {
	if _, err := NewBatcher(&fakeEmbeddingClient{}, 0, 1024); err == nil {
		t.Fatal("expected error for batch_size 0")
	}
	if _, err := NewBatcher(&fakeEmbeddingClient{}, embedding.MaxInputsPerRequest+1, 1024); err == nil {
		t.Fatal("expected error for batch_size above the per-call input ceiling")
	}
	if _, err := NewBatcher(&fakeEmbeddingClient{}, 64, 0); err == nil {
		t.Fatal("expected error for max_text_length 0")
	}
}

func TestEmbedBatchesInOrder(t *testing.T) {
	client := &fakeEmbeddingClient{}
	b, err := NewBatcher(client, 64, 1024)
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}

	chunks := makeChunks(t, 150)
	if err := b.Embed(context.Background(), chunks); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(client.calls) != 3 {
		t.Fatalf("expected 3 API calls, got %d", len(client.calls))
	}
	wantSizes := []int{64, 64, 22}
	for i, call := range client.calls {
		if len(call) != wantSizes[i] {
			t.Errorf("call %d carried %d texts, want %d", i, len(call), wantSizes[i])
		}
	}

	// 批次按顺序执行: 向量第一分量标记批次号, 第二分量标记批内位置。
	if chunks[0].Embedding[0] != 1 || chunks[0].Embedding[1] != 0 {
		t.Errorf("chunk 0 embedding = %v, want batch 1 position 0", chunks[0].Embedding)
	}
	if chunks[63].Embedding[0] != 1 || chunks[63].Embedding[1] != 63 {
		t.Errorf("chunk 63 embedding = %v, want batch 1 position 63", chunks[63].Embedding)
	}
	if chunks[64].Embedding[0] != 2 || chunks[64].Embedding[1] != 0 {
		t.Errorf("chunk 64 embedding = %v, want batch 2 position 0", chunks[64].Embedding)
	}
	if chunks[149].Embedding[0] != 3 || chunks[149].Embedding[1] != 21 {
		t.Errorf("chunk 149 embedding = %v, want batch 3 position 21", chunks[149].Embedding)
	}
}

func TestEmbedTruncatesLongText(t *testing.T) {
	client := &fakeEmbeddingClient{}
	b, err := NewBatcher(client, 64, 1024)
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}

	long, err := model.NewDocumentChunk("tenant-a_doc.pdf_doc-1_1_0", "tenant-a", "doc-1", "doc.pdf",
		strings.Repeat("长", 2000), 1, 0, 2000)
	if err != nil {
		t.Fatalf("NewDocumentChunk: %v", err)
	}

	if err := b.Embed(context.Background(), []model.DocumentChunk{long}); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	sent := client.calls[0][0]
	if got := len([]rune(sent)); got != 1024 {
		t.Errorf("sent text length = %d runes, want 1024", got)
	}
}

func TestEmbedShortTextNotPadded(t *testing.T) {
	client := &fakeEmbeddingClient{}
	b, _ := NewBatcher(client, 64, 1024)

	chunks := makeChunks(t, 1)
	if err := b.Embed(context.Background(), chunks); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if client.calls[0][0] != chunks[0].ChunkText {
		t.Errorf("short text must pass through unchanged, got %q", client.calls[0][0])
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	client := &fakeEmbeddingClient{shorted: true}
	b, _ := NewBatcher(client, 64, 1024)

	err := b.Embed(context.Background(), makeChunks(t, 10))
	if err == nil {
		t.Fatal("expected error when vector count does not match batch size")
	}
	if !strings.Contains(err.Error(), "不一致") {
		t.Errorf("error should mention the count mismatch, got: %v", err)
	}
}

func TestEmbedAbortsOnBatchFailure(t *testing.T) {
	client := &fakeEmbeddingClient{failAt: 2}
	b, _ := NewBatcher(client, 64, 1024)

	chunks := makeChunks(t, 150)
	err := b.Embed(context.Background(), chunks)
	if err == nil {
		t.Fatal("expected error when a batch fails")
	}

	// 第二批失败后不再发起第三批调用。
	if len(client.calls) != 2 {
		t.Errorf("expected processing to stop after the failing batch, got %d calls", len(client.calls))
	}
	if chunks[149].Embedding != nil {
		t.Errorf("chunks past the failing batch must stay without embeddings")
	}
}

func TestEmbedNoChunks(t *testing.T) {
	client := &fakeEmbeddingClient{}
	b, _ := NewBatcher(client, 64, 1024)

	if err := b.Embed(context.Background(), nil); err != nil {
		t.Fatalf("Embed on empty input: %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("empty input must not call the API, got %d calls", len(client.calls))
	}
}
