package text

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/models"
)

const (
	Name       = "text"
	StageParse = "text_parse"
)

var ErrNotUTF8 = errors.New("text document is not valid UTF-8")

// Engine splits plain text and markdown into paragraph chunks. Markdown
// headings become heading chunks.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return Name }

func (e *Engine) CanConvert(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}

func (e *Engine) Convert(_ context.Context, doc *models.MaterializedDocument, _ models.ConvertDocumentsOptions) (*models.ConvertedDocument, error) {
	start := time.Now()
	if !utf8.Valid(doc.Content) {
		return nil, ErrNotUTF8
	}

	body := strings.ReplaceAll(string(doc.Content), "\r\n", "\n")
	out := &models.ConvertedDocument{
		Metadata: models.DocumentMetadata{
			FileType:  models.Text,
			FileSize:  int64(len(doc.Content)),
			Pages:     1,
			Hash:      engine.Hash(doc.Content),
			CreatedAt: time.Now(),
		},
		Status: models.ConversionSuccess,
	}

	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		kind := "text"
		if strings.HasPrefix(para, "#") && !strings.Contains(para, "\n") {
			kind = "heading"
			para = strings.TrimSpace(strings.TrimLeft(para, "#"))
			if out.Metadata.Title == "" {
				out.Metadata.Title = para
			}
		}
		out.Chunks = append(out.Chunks, models.DocumentChunk{Page: 1, Kind: kind, Content: para})
	}

	out.Timings = map[string]models.ProfilingItem{
		StageParse: models.NewProfilingItem("document", []time.Duration{time.Since(start)}),
	}
	return out, nil
}

func (e *Engine) Close() error { return nil }
