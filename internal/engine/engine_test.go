package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type fakeEngine struct {
	name    string
	accepts string
	calls   atomic.Int32
	err     error
	cleared atomic.Bool
}

func (f *fakeEngine) Name() string { return f.name }
func (f *fakeEngine) CanConvert(mimeType string) bool { return mimeType == f.accepts }
func (f *fakeEngine) Close() error { return nil }
func (f *fakeEngine) Clear() { f.cleared.Store(true) }

func (f *fakeEngine) Convert(_ context.Context, doc *models.MaterializedDocument, _ models.ConvertDocumentsOptions) (*models.ConvertedDocument, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ConvertedDocument{
		Status: models.ConversionSuccess,
		Chunks: []models.DocumentChunk{{Page: 1, Kind: "text", Content: string(doc.Content)}},
	}, nil
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"a.pdf", []byte("%PDF-1.4\n%..."), "application/pdf"},
		{"notes.md", []byte("# Title\n\nbody"), "text/markdown"},
		{"plain", []byte("hello world"), "text/plain"},
		{"scan.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png"},
		{"blob.tiff", []byte{0x13, 0x37, 0x00, 0x42, 0x99}, "image/tiff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMIME(tt.name, tt.content))
		})
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	textEngine := &fakeEngine{name: "text", accepts: "text/plain"}
	r := NewRegistry(logger.NewTestLogger(), textEngine)

	out := r.Convert(context.Background(), &models.MaterializedDocument{Name: "a.txt", Content: []byte("Hello")}, models.ConvertDocumentsOptions{})
	assert.Equal(t, models.ConversionSuccess, out.Status)
	assert.Equal(t, "a.txt", out.Filename)
	assert.Equal(t, "text/plain", out.Metadata.MimeType)
	assert.Contains(t, out.Timings, StageConvert)

	out = r.Convert(context.Background(), &models.MaterializedDocument{Name: "a.bin", Content: []byte{0x7f, 'E', 'L', 'F', 2, 1, 1}}, models.ConvertDocumentsOptions{})
	assert.Equal(t, models.ConversionFailure, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, ComponentEngine, out.Errors[0].ComponentType)
	assert.Equal(t, "registry", out.Errors[0].ModuleName)
}

func TestRegistry_EngineErrorBecomesFailure(t *testing.T) {
	broken := &fakeEngine{name: "broken", accepts: "text/plain", err: errors.New("boom")}
	r := NewRegistry(logger.NewTestLogger(), broken)

	out := r.Convert(context.Background(), &models.MaterializedDocument{Name: "a.txt", Content: []byte("x")}, models.ConvertDocumentsOptions{})
	assert.Equal(t, models.ConversionFailure, out.Status)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "broken", out.Errors[0].ModuleName)
	assert.Equal(t, "boom", out.Errors[0].ErrorMessage)

	// failures are not cached
	r.Convert(context.Background(), &models.MaterializedDocument{Name: "a.txt", Content: []byte("x")}, models.ConvertDocumentsOptions{})
	assert.Equal(t, int32(2), broken.calls.Load())
}

func TestRegistry_CacheAndClear(t *testing.T) {
	e := &fakeEngine{name: "text", accepts: "text/plain"}
	r := NewRegistry(logger.NewTestLogger(), e)
	doc := func(name string) *models.MaterializedDocument {
		return &models.MaterializedDocument{Name: name, Content: []byte("same bytes")}
	}

	first := r.Convert(context.Background(), doc("a.txt"), models.ConvertDocumentsOptions{})
	second := r.Convert(context.Background(), doc("b.txt"), models.ConvertDocumentsOptions{})
	assert.Equal(t, int32(1), e.calls.Load())
	assert.Equal(t, "a.txt", first.Filename)
	assert.Equal(t, "b.txt", second.Filename)

	second.Timings["extra"] = models.ProfilingItem{}
	third := r.Convert(context.Background(), doc("c.txt"), models.ConvertDocumentsOptions{})
	assert.NotContains(t, third.Timings, "extra")

	r.Clear()
	assert.True(t, e.cleared.Load())
	r.Convert(context.Background(), doc("a.txt"), models.ConvertDocumentsOptions{})
	assert.Equal(t, int32(2), e.calls.Load())
}
