// Package engine holds the conversion engines and the registry that picks one
// per document by sniffing its content.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// Engine converts one materialized document into chunks.
type Engine interface {
	// Name identifies the engine in error items and logs.
	Name() string
	// CanConvert 检查是否可以处理指定MIME类型的文件
	CanConvert(mimeType string) bool
	// Convert returns the converted document. Recoverable problems are reported
	// in the document's Errors and Status; an error means nothing was produced.
	Convert(ctx context.Context, doc *models.MaterializedDocument, opts models.ConvertDocumentsOptions) (*models.ConvertedDocument, error)
	// Close 清理资源
	Close() error
}

// Converter is what the conversion service needs from the engine layer.
type Converter interface {
	Convert(ctx context.Context, doc *models.MaterializedDocument, opts models.ConvertDocumentsOptions) *models.ConvertedDocument
	Clear()
}

// 扩展名到 MIME 类型的映射, used when content sniffing is inconclusive
var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
}

const (
	defaultCacheSize = 64

	ComponentEngine = "engine"
	StageConvert    = "doc_convert"
)

// Registry dispatches documents to the first engine that accepts their MIME
// type and caches results by content hash.
type Registry struct {
	engines []Engine
	logger  logger.Logger

	mu        sync.Mutex
	cache     map[string]models.ConvertedDocument
	cacheSize int
}

func NewRegistry(log logger.Logger, engines ...Engine) *Registry {
	return &Registry{
		engines:   engines,
		logger:    log.Named("engine"),
		cache:     make(map[string]models.ConvertedDocument),
		cacheSize: defaultCacheSize,
	}
}

// Register appends an engine. Earlier engines take precedence.
func (r *Registry) Register(e Engine) {
	r.engines = append(r.engines, e)
}

// DetectMIME sniffs content, falling back to the file extension.
func DetectMIME(name string, content []byte) string {
	detected := strings.SplitN(mimetype.Detect(content).String(), ";", 2)[0]
	if detected == "application/octet-stream" || detected == "text/plain" {
		if byExt, ok := extToMIME[strings.ToLower(filepath.Ext(name))]; ok {
			return byExt
		}
	}
	return detected
}

// Engine returns the engine for mimeType.
func (r *Registry) Engine(mimeType string) (Engine, error) {
	for _, e := range r.engines {
		if e.CanConvert(mimeType) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no engine found for mime type: %s", mimeType)
}

// Convert always returns a document; failures are carried in its status and errors.
func (r *Registry) Convert(ctx context.Context, doc *models.MaterializedDocument, opts models.ConvertDocumentsOptions) *models.ConvertedDocument {
	start := time.Now()
	mimeType := DetectMIME(doc.Name, doc.Content)

	log := logger.FromContext(ctx, r.logger).With(
		logger.String("filename", doc.Name),
		logger.String("mimeType", mimeType),
	)

	e, err := r.Engine(mimeType)
	if err != nil {
		log.Warn("Unsupported document type")
		return failed(doc.Name, "registry", err, time.Since(start))
	}

	key := cacheKey(e.Name(), doc.Content, opts)
	if cached, ok := r.cached(key); ok {
		log.Debug("Serving conversion from cache", logger.String("engine", e.Name()))
		cached.Filename = doc.Name
		return &cached
	}

	out, err := e.Convert(ctx, doc, opts)
	if err != nil {
		log.Error("Conversion failed", logger.String("engine", e.Name()), logger.Error(err))
		return failed(doc.Name, e.Name(), err, time.Since(start))
	}

	out.Filename = doc.Name
	if out.Metadata.MimeType == "" {
		out.Metadata.MimeType = mimeType
	}
	if out.Timings == nil {
		out.Timings = make(map[string]models.ProfilingItem)
	}
	out.Timings[StageConvert] = models.NewProfilingItem("document", []time.Duration{time.Since(start)})

	log.Info("Document converted",
		logger.String("engine", e.Name()),
		logger.String("status", string(out.Status)),
		logger.Int("chunks", len(out.Chunks)),
	)

	if out.Status != models.ConversionFailure {
		r.store(key, *out)
	}
	return out
}

// Clear drops cached conversions and engine-held state.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.cache = make(map[string]models.ConvertedDocument)
	r.mu.Unlock()

	for _, e := range r.engines {
		if c, ok := e.(interface{ Clear() }); ok {
			c.Clear()
		}
	}
	r.logger.Info("Cleared converter caches")
}

// Close closes every engine.
func (r *Registry) Close() error {
	var firstErr error
	for _, e := range r.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close engine %s: %w", e.Name(), err)
		}
	}
	return firstErr
}

func (r *Registry) cached(key string) (models.ConvertedDocument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.cache[key]
	if !ok {
		return doc, false
	}
	return clone(doc), true
}

func (r *Registry) store(key string, doc models.ConvertedDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) >= r.cacheSize {
		for k := range r.cache {
			delete(r.cache, k)
			break
		}
	}
	r.cache[key] = clone(doc)
}

func clone(doc models.ConvertedDocument) models.ConvertedDocument {
	timings := make(map[string]models.ProfilingItem, len(doc.Timings))
	for k, v := range doc.Timings {
		timings[k] = v
	}
	doc.Timings = timings
	doc.Errors = append([]models.ErrorItem(nil), doc.Errors...)
	doc.Chunks = append([]models.DocumentChunk(nil), doc.Chunks...)
	return doc
}

func cacheKey(engine string, content []byte, opts models.ConvertDocumentsOptions) string {
	return fmt.Sprintf("%s:%t:%s", engine, opts.OCREnabled(), Hash(content))
}

func failed(name, module string, err error, elapsed time.Duration) *models.ConvertedDocument {
	return &models.ConvertedDocument{
		Filename: name,
		Status:   models.ConversionFailure,
		Errors: []models.ErrorItem{{
			ComponentType: ComponentEngine,
			ModuleName:    module,
			ErrorMessage:  err.Error(),
		}},
		Timings: map[string]models.ProfilingItem{
			StageConvert: models.NewProfilingItem("document", []time.Duration{elapsed}),
		},
	}
}

// Hash returns the hex sha256 of content, used in document metadata.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
