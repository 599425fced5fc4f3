package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	Name = "pdf"

	// StagePage is the timing stage of one page extraction.
	StagePage = "page_parse"

	maxWorkers = 4
)

// Engine extracts the text layer of a PDF page by page.
type Engine struct {
	logger logger.Logger
}

func New(log logger.Logger) *Engine {
	return &Engine{logger: log.Named("pdf")}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) CanConvert(mimeType string) bool {
	return mimeType == "application/pdf"
}

type pageResult struct {
	text    string
	err     error
	elapsed time.Duration
}

func (e *Engine) Convert(ctx context.Context, doc *models.MaterializedDocument, _ models.ConvertDocumentsOptions) (*models.ConvertedDocument, error) {
	pdfReader, err := open(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	results := make([]pageResult, numPages)

	// 并行处理每一页
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)
	for i := 1; i <= numPages; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			text, err := pageText(pdfReader, i)
			results[i-1] = pageResult{text: text, err: err, elapsed: time.Since(start)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &models.ConvertedDocument{
		Metadata: metadata(pdfReader, doc.Content),
		Status:   models.ConversionSuccess,
	}

	var samples []time.Duration
	failedPages := 0
	for i, res := range results {
		samples = append(samples, res.elapsed)
		if res.err != nil {
			failedPages++
			out.Errors = append(out.Errors, models.ErrorItem{
				ComponentType: "document_backend",
				ModuleName:    Name,
				ErrorMessage:  fmt.Sprintf("page %d: %v", i+1, res.err),
			})
			continue
		}
		text := cleanText(res.text)
		if text == "" {
			continue
		}
		out.Chunks = append(out.Chunks, models.DocumentChunk{
			Page:    i + 1,
			Kind:    "text",
			Content: text,
			Metadata: map[string]interface{}{
				"section": fmt.Sprintf("page_%d", i+1),
			},
		})
	}

	switch {
	case failedPages == numPages:
		out.Status = models.ConversionFailure
	case failedPages > 0:
		out.Status = models.ConversionPartialSuccess
	}
	out.Timings = map[string]models.ProfilingItem{
		StagePage: models.NewProfilingItem("page", samples),
	}

	e.logger.Debug("Extracted pdf text",
		logger.String("filename", doc.Name),
		logger.Int("pages", numPages),
		logger.Int("failedPages", failedPages),
	)
	return out, nil
}

func open(content []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	// bytes.Reader implements io.ReaderAt
	reader := bytes.NewReader(content)
	return pdf.NewReader(reader, reader.Size())
}

// pageText recovers from the parser's panics on malformed content streams.
func pageText(r *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed page content: %v", p)
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func metadata(r *pdf.Reader, content []byte) models.DocumentMetadata {
	md := models.DocumentMetadata{
		FileType:  models.PDF,
		FileSize:  int64(len(content)),
		MimeType:  "application/pdf",
		Pages:     r.NumPage(),
		Hash:      engine.Hash(content),
		CreatedAt: time.Now(),
	}

	// 尝试从PDF文档中获取更多信息
	info := r.Trailer().Key("Info")
	if !info.IsNull() {
		if title := info.Key("Title"); !title.IsNull() {
			md.Title = title.Text()
		}
		if author := info.Key("Author"); !author.IsNull() {
			md.Author = author.Text()
		}
	}
	return md
}

func cleanText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func (e *Engine) Close() error {
	return nil
}
