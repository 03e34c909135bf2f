package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"zhiku-rag/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	objects map[string][]byte
	err     error
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: make(map[string][]byte)}
}

func (p *fakePutter) Put(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	if p.err != nil {
		return p.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	p.objects[objectName] = data
	return nil
}

type produceRecord struct {
	topic string
	task  any
}

func recordProduce(records *[]produceRecord, err error) ProduceFunc {
	return func(_ context.Context, topic string, task any) error {
		if err != nil {
			return err
		}
		*records = append(*records, produceRecord{topic: topic, task: task})
		return nil
	}
}

func TestUploadDocument(t *testing.T) {
	putter := newFakePutter()
	var produced []produceRecord
	svc := NewIngestService(putter, recordProduce(&produced, nil), "doc.extract", 10)

	name, err := svc.UploadDocument(context.Background(), "tenant-a", "report.pdf", strings.NewReader("%PDF content"), 12, "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "_report.pdf"), "document name keeps the original file name: %s", name)
	assert.Greater(t, len(name), len("_report.pdf"), "document name carries a unique prefix")

	data, ok := putter.objects["raw/"+name]
	require.True(t, ok, "raw object must be stored under the raw/ prefix")
	assert.Equal(t, "%PDF content", string(data))

	require.Len(t, produced, 1)
	assert.Equal(t, "doc.extract", produced[0].topic)
	task, ok := produced[0].task.(tasks.ExtractTask)
	require.True(t, ok)
	assert.Equal(t, name, task.DocumentName)
	assert.Equal(t, "tenant-a", task.TenantID)
}

func TestUploadDocumentNamesAreUnique(t *testing.T) {
	putter := newFakePutter()
	var produced []produceRecord
	svc := NewIngestService(putter, recordProduce(&produced, nil), "doc.extract", 10)

	first, err := svc.UploadDocument(context.Background(), "tenant-a", "report.pdf", strings.NewReader("a"), 1, "application/pdf")
	require.NoError(t, err)
	second, err := svc.UploadDocument(context.Background(), "tenant-a", "report.pdf", strings.NewReader("b"), 1, "application/pdf")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "same file name must not collide")
	assert.Len(t, putter.objects, 2)
}

func TestUploadDocumentStripsPathComponents(t *testing.T) {
	putter := newFakePutter()
	var produced []produceRecord
	svc := NewIngestService(putter, recordProduce(&produced, nil), "doc.extract", 10)

	name, err := svc.UploadDocument(context.Background(), "tenant-a", "../../etc/passwd", strings.NewReader("x"), 1, "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, "_passwd"))
	assert.NotContains(t, name, "/")
}

func TestUploadDocumentValidation(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		fileName string
		size     int64
	}{
		{"tenant too short", "ab", "report.pdf", 10},
		{"tenant empty", "", "report.pdf", 10},
		{"empty file", "tenant-a", "report.pdf", 0},
		{"oversized file", "tenant-a", "report.pdf", 2 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			putter := newFakePutter()
			var produced []produceRecord
			svc := NewIngestService(putter, recordProduce(&produced, nil), "doc.extract", 1)

			_, err := svc.UploadDocument(context.Background(), tt.tenantID, tt.fileName, strings.NewReader("x"), tt.size, "application/pdf")
			require.Error(t, err)
			assert.Empty(t, putter.objects, "nothing may be stored for a rejected upload")
			assert.Empty(t, produced)
		})
	}
}

func TestUploadDocumentOversizeIsSentinel(t *testing.T) {
	var produced []produceRecord
	svc := NewIngestService(newFakePutter(), recordProduce(&produced, nil), "doc.extract", 1)

	_, err := svc.UploadDocument(context.Background(), "tenant-a", "big.pdf", strings.NewReader("x"), 2*1024*1024, "application/pdf")
	require.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestUploadDocumentProduceFailure(t *testing.T) {
	putter := newFakePutter()
	var produced []produceRecord
	svc := NewIngestService(putter, recordProduce(&produced, assert.AnError), "doc.extract", 10)

	_, err := svc.UploadDocument(context.Background(), "tenant-a", "report.pdf", strings.NewReader("x"), 1, "application/pdf")
	require.Error(t, err, "upload fails as a whole when the task cannot be queued")
}
