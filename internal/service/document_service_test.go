package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"zhiku-rag/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeDocRepo struct {
	doc            *model.Document
	chunkCount     int64
	deletedDocs    []string
	cleanedTenants []string
	deleteErr      error
	cleanErr       error
}

func (r *fakeDocRepo) InsertDocument(_ context.Context, _ *model.Document, _ []model.DocumentChunk) error {
	return nil
}

func (r *fakeDocRepo) GetDocumentByID(_ context.Context, docID string) (*model.Document, error) {
	if r.doc == nil || r.doc.ID != docID {
		return nil, gorm.ErrRecordNotFound
	}
	return r.doc, nil
}

func (r *fakeDocRepo) CountChunksByDocID(_ context.Context, _ string) (int64, error) {
	return r.chunkCount, nil
}

func (r *fakeDocRepo) DeleteDocument(_ context.Context, docID string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletedDocs = append(r.deletedDocs, docID)
	return nil
}

func (r *fakeDocRepo) CleanTenant(_ context.Context, tenantID string) error {
	if r.cleanErr != nil {
		return r.cleanErr
	}
	r.cleanedTenants = append(r.cleanedTenants, tenantID)
	return nil
}

type fakeObjectStore struct {
	removed    []string
	removeErr  error
	presignErr error
}

func (s *fakeObjectStore) Remove(_ context.Context, objectName string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, objectName)
	return nil
}

func (s *fakeObjectStore) PresignedGetURL(objectName string, _ time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://minio.local/" + objectName, nil
}

type capturedDelete struct {
	index string
	query map[string]any
}

func captureDeleteByQuery(deleted *[]capturedDelete, err error) DeleteByQueryFunc {
	return func(_ context.Context, indexName string, query map[string]any) error {
		if err != nil {
			return err
		}
		*deleted = append(*deleted, capturedDelete{index: indexName, query: query})
		return nil
	}
}

func termValue(t *testing.T, query map[string]any, field string) string {
	t.Helper()
	inner, ok := query["query"].(map[string]any)
	require.True(t, ok, "query must be wrapped in a query clause")
	term, ok := inner["term"].(map[string]any)
	require.True(t, ok, "expected a term clause")
	value, ok := term[field].(string)
	require.True(t, ok, "expected a term on %s", field)
	return value
}

func TestGetDocumentReturnsChunkCountAndDownloadURL(t *testing.T) {
	repo := &fakeDocRepo{
		doc:        &model.Document{ID: "doc-1", TenantID: "tenant-a", Name: "abc_report.pdf"},
		chunkCount: 42,
	}
	svc := NewDocumentService(repo, captureDeleteByQuery(nil, nil), "doc_chunks", &fakeObjectStore{})

	info, err := svc.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", info.Document.ID)
	assert.Equal(t, int64(42), info.ChunkCount)
	assert.Equal(t, "https://minio.local/raw/abc_report.pdf", info.DownloadURL)
}

func TestGetDocumentToleratesPresignFailure(t *testing.T) {
	repo := &fakeDocRepo{doc: &model.Document{ID: "doc-1", Name: "abc_report.pdf"}}
	store := &fakeObjectStore{presignErr: fmt.Errorf("minio down")}
	svc := NewDocumentService(repo, captureDeleteByQuery(nil, nil), "doc_chunks", store)

	info, err := svc.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err, "audit must not fail just because the download link could not be signed")
	assert.Empty(t, info.DownloadURL)
}

func TestGetDocumentNotFound(t *testing.T) {
	svc := NewDocumentService(&fakeDocRepo{}, captureDeleteByQuery(nil, nil), "doc_chunks", &fakeObjectStore{})
	_, err := svc.GetDocument(context.Background(), "ghost")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteDocumentCleansObjectsRelationalAndIndex(t *testing.T) {
	repo := &fakeDocRepo{doc: &model.Document{ID: "doc-1", Name: "abc_report.pdf"}}
	store := &fakeObjectStore{}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", store)

	require.NoError(t, svc.DeleteDocument(context.Background(), "doc-1"))
	assert.Equal(t, []string{"raw/abc_report.pdf", "extracted/abc_report.pdf.json"}, store.removed)
	assert.Equal(t, []string{"doc-1"}, repo.deletedDocs)
	require.Len(t, deleted, 1)
	assert.Equal(t, "doc_chunks", deleted[0].index)
	assert.Equal(t, "doc-1", termValue(t, deleted[0].query, "doc_id"))
}

func TestDeleteDocumentMissingRowSkipsObjects(t *testing.T) {
	repo := &fakeDocRepo{}
	store := &fakeObjectStore{}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", store)

	require.NoError(t, svc.DeleteDocument(context.Background(), "ghost"), "deleting an already-deleted document must stay a no-op")
	assert.Empty(t, store.removed)
	assert.Equal(t, []string{"ghost"}, repo.deletedDocs)
	assert.Len(t, deleted, 1)
}

func TestDeleteDocumentObjectRemovalFailureAborts(t *testing.T) {
	repo := &fakeDocRepo{doc: &model.Document{ID: "doc-1", Name: "abc_report.pdf"}}
	store := &fakeObjectStore{removeErr: fmt.Errorf("minio down")}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", store)

	require.Error(t, svc.DeleteDocument(context.Background(), "doc-1"))
	assert.Empty(t, repo.deletedDocs, "rows must survive so a retry can still locate the objects by name")
	assert.Empty(t, deleted)
}

func TestDeleteDocumentRelationalFailureSkipsIndex(t *testing.T) {
	repo := &fakeDocRepo{doc: &model.Document{ID: "doc-1", Name: "abc_report.pdf"}, deleteErr: fmt.Errorf("mysql down")}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", &fakeObjectStore{})

	require.Error(t, svc.DeleteDocument(context.Background(), "doc-1"))
	assert.Empty(t, deleted, "the index must not be touched when the relational delete fails")
}

func TestDeleteDocumentIndexFailureSurfaces(t *testing.T) {
	repo := &fakeDocRepo{doc: &model.Document{ID: "doc-1", Name: "abc_report.pdf"}}
	svc := NewDocumentService(repo, captureDeleteByQuery(nil, fmt.Errorf("es down")), "doc_chunks", &fakeObjectStore{})

	err := svc.DeleteDocument(context.Background(), "doc-1")
	require.Error(t, err, "a failed index cleanup must surface so the caller can retry")
	assert.Equal(t, []string{"doc-1"}, repo.deletedDocs)
}

func TestCleanTenant(t *testing.T) {
	repo := &fakeDocRepo{}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", &fakeObjectStore{})

	require.NoError(t, svc.CleanTenant(context.Background(), "tenant-a"))
	assert.Equal(t, []string{"tenant-a"}, repo.cleanedTenants)
	require.Len(t, deleted, 1)
	assert.Equal(t, "tenant-a", termValue(t, deleted[0].query, "tenant_id"))
}

func TestCleanTenantValidatesTenantID(t *testing.T) {
	repo := &fakeDocRepo{}
	var deleted []capturedDelete
	svc := NewDocumentService(repo, captureDeleteByQuery(&deleted, nil), "doc_chunks", &fakeObjectStore{})

	require.Error(t, svc.CleanTenant(context.Background(), "ab"))
	assert.Empty(t, repo.cleanedTenants)
	assert.Empty(t, deleted)
}
