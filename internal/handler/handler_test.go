package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"zhiku-rag/internal/model"
	"zhiku-rag/internal/service"
	"zhiku-rag/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeIngestService struct {
	documentName string
	err          error
	gotTenantID  string
	gotFileName  string
	gotSize      int64
	gotContent   []byte
}

func (f *fakeIngestService) UploadDocument(ctx context.Context, tenantID, fileName string, file io.Reader, size int64, contentType string) (string, error) {
	f.gotTenantID = tenantID
	f.gotFileName = fileName
	f.gotSize = size
	f.gotContent, _ = io.ReadAll(file)
	if f.err != nil {
		return "", f.err
	}
	return f.documentName, nil
}

type fakeSearchService struct {
	result     *model.QueryResult
	message    *model.Message
	chunks     []model.ChunkQueryResult
	err        error
	lastMethod string
	gotLimit   int
}

func (f *fakeSearchService) AnswerQuery(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) (*model.QueryResult, error) {
	f.lastMethod = "AnswerQuery"
	f.gotLimit = chunksLimit
	return f.result, f.err
}

func (f *fakeSearchService) AnswerQueryStream(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int, forward llm.MessageWriter) (*model.QueryResult, error) {
	f.lastMethod = "AnswerQueryStream"
	f.gotLimit = chunksLimit
	return f.result, f.err
}

func (f *fakeSearchService) GetResult(ctx context.Context, tenantID, queryID string) (*model.Message, error) {
	f.lastMethod = "GetResult"
	return f.message, f.err
}

func (f *fakeSearchService) SearchChunks(ctx context.Context, tenantID, queryID, queryText string, chunksLimit int) ([]model.ChunkQueryResult, error) {
	f.lastMethod = "SearchChunks"
	f.gotLimit = chunksLimit
	return f.chunks, f.err
}

func (f *fakeSearchService) KeywordSearch(ctx context.Context, tenantID, queryID, keyword string, chunksLimit int) ([]model.ChunkQueryResult, error) {
	f.lastMethod = "KeywordSearch"
	f.gotLimit = chunksLimit
	return f.chunks, f.err
}

type fakeDocumentService struct {
	info          *service.DocumentInfoDTO
	err           error
	deletedDocID  string
	cleanedTenant string
}

func (f *fakeDocumentService) GetDocument(ctx context.Context, docID string) (*service.DocumentInfoDTO, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeDocumentService) DeleteDocument(ctx context.Context, docID string) error {
	f.deletedDocID = docID
	return f.err
}

func (f *fakeDocumentService) CleanTenant(ctx context.Context, tenantID string) error {
	f.cleanedTenant = tenantID
	return f.err
}

func newUploadRequest(t *testing.T, tenantID, fileName, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if tenantID != "" {
		require.NoError(t, w.WriteField("tenant_id", tenantID))
	}
	if fileName != "" {
		fw, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/document/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func TestUploadHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ingest := &fakeIngestService{documentName: "uuid-1_report.pdf"}
	h := NewDocumentHandler(ingest, &fakeDocumentService{})

	r := gin.New()
	r.POST("/document/upload", h.Upload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUploadRequest(t, "tenant-a", "report.pdf", "hello world"))

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)
	assert.Equal(t, "Document uuid-1_report.pdf uploaded and queued for processing", got["message"])
	assert.Equal(t, "uuid-1_report.pdf", got["document_name"])
	assert.Equal(t, "tenant-a", got["tenant_id"])
	assert.Equal(t, "pending", got["status"])

	assert.Equal(t, "tenant-a", ingest.gotTenantID)
	assert.Equal(t, "report.pdf", ingest.gotFileName)
	assert.Equal(t, []byte("hello world"), ingest.gotContent)
	assert.Equal(t, int64(len("hello world")), ingest.gotSize)
}

func TestUploadHandlerRejectsBadRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		tenantID string
		fileName string
	}{
		{name: "missing tenant", tenantID: "", fileName: "report.pdf"},
		{name: "tenant too short", tenantID: "ab", fileName: "report.pdf"},
		{name: "missing file", tenantID: "tenant-a", fileName: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingest := &fakeIngestService{documentName: "x"}
			h := NewDocumentHandler(ingest, &fakeDocumentService{})
			r := gin.New()
			r.POST("/document/upload", h.Upload)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, newUploadRequest(t, tt.tenantID, tt.fileName, "hello"))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, ingest.gotTenantID, "service may not be called for a rejected request")
		})
	}
}

func TestUploadHandlerMapsOversizeTo413(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ingest := &fakeIngestService{err: service.ErrDocumentTooLarge}
	h := NewDocumentHandler(ingest, &fakeDocumentService{})
	r := gin.New()
	r.POST("/document/upload", h.Upload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newUploadRequest(t, "tenant-a", "big.pdf", "content"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetDocumentHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs := &fakeDocumentService{info: &service.DocumentInfoDTO{
		Document:   &model.Document{ID: "doc-1", TenantID: "tenant-a", Name: "report.pdf"},
		ChunkCount: 4,
	}}
	h := NewDocumentHandler(&fakeIngestService{}, docs)
	r := gin.New()
	r.GET("/document/:doc_id", h.GetDocument)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/document/doc-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)
	data := got["data"].(map[string]any)
	assert.Equal(t, float64(4), data["chunk_count"])
}

func TestGetDocumentHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandler(&fakeIngestService{}, &fakeDocumentService{err: gorm.ErrRecordNotFound})
	r := gin.New()
	r.GET("/document/:doc_id", h.GetDocument)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/document/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	search := &fakeSearchService{result: &model.QueryResult{
		Message:    "回答内容",
		ListChunks: []model.ChunkQueryResult{},
		QueryID:    "q-1",
		Status:     "success",
	}}
	h := NewSearchHandler(search)
	r := gin.New()
	r.POST("/search/query", h.Query)

	body := `{"tenant_id":"tenant-a","query_id":"q-1","query_text":"什么是知识库"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody(t, w)
	assert.Equal(t, "回答内容", got["message"])
	assert.Equal(t, "q-1", got["query_id"])
	assert.Equal(t, "success", got["status"])
	assert.NotNil(t, got["list_chunks"])
	assert.Equal(t, service.DefaultChunksLimit, search.gotLimit, "omitted chunks_limit falls back to the default")
}

func TestQueryHandlerValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing query_text", body: `{"tenant_id":"tenant-a","query_id":"q-1"}`},
		{name: "missing query_id", body: `{"tenant_id":"tenant-a","query_text":"hi"}`},
		{name: "tenant too short", body: `{"tenant_id":"ab","query_id":"q-1","query_text":"hi"}`},
		{name: "limit out of range", body: `{"tenant_id":"tenant-a","query_id":"q-1","query_text":"hi","chunks_limit":1001}`},
		{name: "not json", body: `tenant-a`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := &fakeSearchService{}
			h := NewSearchHandler(search)
			r := gin.New()
			r.POST("/search/query", h.Query)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/search/query", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, search.lastMethod, "service may not be called for a rejected request")
		})
	}
}

func TestGetResultHandlerNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewSearchHandler(&fakeSearchService{err: gorm.ErrRecordNotFound})
	r := gin.New()
	r.GET("/search/result", h.GetResult)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search/result?tenant_id=tenant-a&query_id=q-1", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchChunksHandlerModes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		body       string
		wantMethod string
	}{
		{
			name:       "default vector mode",
			body:       `{"tenant_id":"tenant-a","query_id":"q-1","query_text":"hi"}`,
			wantMethod: "SearchChunks",
		},
		{
			name:       "keyword mode",
			body:       `{"tenant_id":"tenant-a","query_id":"q-1","query_text":"hi","mode":"keyword"}`,
			wantMethod: "KeywordSearch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := &fakeSearchService{chunks: []model.ChunkQueryResult{}}
			h := NewSearchHandler(search)
			r := gin.New()
			r.POST("/search/chunks", h.SearchChunks)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/search/chunks", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantMethod, search.lastMethod)
		})
	}
}

func TestAdminDeleteDocumentHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs := &fakeDocumentService{}
	h := NewAdminHandler(docs, nil)
	r := gin.New()
	r.DELETE("/admin/document/:doc_id", h.DeleteDocument)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/document/doc-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "doc-1", docs.deletedDocID)
}

func TestAdminCleanTenantHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs := &fakeDocumentService{}
	h := NewAdminHandler(docs, nil)
	r := gin.New()
	r.POST("/admin/tenant/clean", h.CleanTenant)

	body := `{"tenant_id":"tenant-a"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/tenant/clean", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-a", docs.cleanedTenant)
}
