// Package source turns source descriptors into in-memory documents. It is the
// only place where source bytes are read.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/storage"
)

const defaultMaxConcurrent = 4

// Materializer resolves descriptors of all three kinds.
type Materializer struct {
	resolver      storage.Resolver
	fetcher       Fetcher
	maxConcurrent int
	logger        logger.Logger
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithMaxConcurrent bounds MaterializeAll.
func WithMaxConcurrent(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

func NewMaterializer(resolver storage.Resolver, fetcher Fetcher, log logger.Logger, opts ...Option) *Materializer {
	m := &Materializer{
		resolver:      resolver,
		fetcher:       fetcher,
		maxConcurrent: defaultMaxConcurrent,
		logger:        log.Named("source"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize reads desc fully into memory. It either returns the whole
// document or a *Error, never partial content.
func (m *Materializer) Materialize(ctx context.Context, desc models.SourceDescriptor) (*models.MaterializedDocument, error) {
	switch src := desc.(type) {
	case models.BucketSource:
		return m.fromBucket(ctx, src)
	case models.HttpSource:
		return m.fromHTTP(ctx, src)
	case models.FileSource:
		return m.fromFile(src)
	default:
		return nil, newError(ErrInvalidSource, "", fmt.Sprintf("%T", desc), errors.New("unknown source type"))
	}
}

func (m *Materializer) fromBucket(ctx context.Context, src models.BucketSource) (*models.MaterializedDocument, error) {
	loc, err := models.ParseBucketURI(src.URI)
	if err != nil {
		return nil, newError(ErrInvalidSource, models.SourceKindBucket, src.URI, err)
	}

	store, err := m.resolver.Resolve(ctx, loc.Locator)
	if err != nil {
		return nil, newError(ErrInvalidSource, models.SourceKindBucket, src.URI, err)
	}

	rc, err := store.Get(ctx, loc.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, newError(ErrNotFound, models.SourceKindBucket, src.URI, err)
		}
		return nil, newError(ErrTransportFailure, models.SourceKindBucket, src.URI, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, newError(ErrTransportFailure, models.SourceKindBucket, src.URI, err)
	}

	m.logger.Debug("Materialized bucket source",
		logger.String("uri", src.URI),
		logger.Int("size", len(content)),
	)
	return &models.MaterializedDocument{Name: loc.Key, Content: content}, nil
}

func (m *Materializer) fromHTTP(ctx context.Context, src models.HttpSource) (*models.MaterializedDocument, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, newError(ErrInvalidSource, models.SourceKindHTTP, src.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newError(ErrInvalidSource, models.SourceKindHTTP, src.URL, errors.New("not an absolute http(s) URL"))
	}

	content, err := m.fetcher.Fetch(ctx, src.URL, src.Headers)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
			return nil, newError(ErrNotFound, models.SourceKindHTTP, src.URL, err)
		}
		return nil, newError(ErrTransportFailure, models.SourceKindHTTP, src.URL, err)
	}

	m.logger.Debug("Materialized http source",
		logger.String("url", u.Redacted()),
		logger.Int("size", len(content)),
	)
	return &models.MaterializedDocument{Name: nameFromURL(u), Content: content}, nil
}

func (m *Materializer) fromFile(src models.FileSource) (*models.MaterializedDocument, error) {
	content, err := base64.StdEncoding.Strict().DecodeString(src.Base64String)
	if err != nil {
		return nil, newError(ErrDecodeFailure, models.SourceKindFile, src.Filename, err)
	}
	return &models.MaterializedDocument{Name: src.Filename, Content: content}, nil
}

func nameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return u.Hostname()
	}
	return base
}

// Outcome is the result of materializing one descriptor. Exactly one of
// Document and Err is set.
type Outcome struct {
	Source   models.SourceDescriptor
	Document *models.MaterializedDocument
	Err      error
}

// MaterializeAll materializes descs concurrently and returns the outcomes in
// submission order. A failing descriptor does not stop the others.
func (m *Materializer) MaterializeAll(ctx context.Context, descs []models.SourceDescriptor) []Outcome {
	outcomes := make([]Outcome, len(descs))

	var g errgroup.Group
	g.SetLimit(m.maxConcurrent)
	for i, desc := range descs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Source: desc, Err: newError(ErrTransportFailure, desc.Kind(), Describe(desc), err)}
				return nil
			}
			doc, err := m.Materialize(ctx, desc)
			outcomes[i] = Outcome{Source: desc, Document: doc, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		m.logger.Warn("Some sources could not be materialized",
			logger.Int("total", len(descs)),
			logger.Int("failed", failed),
		)
	}
	return outcomes
}

// Describe returns the reference a descriptor is reported under: its URI, URL or filename.
func Describe(desc models.SourceDescriptor) string {
	switch src := desc.(type) {
	case models.BucketSource:
		return src.URI
	case models.HttpSource:
		return src.URL
	case models.FileSource:
		return src.Filename
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", desc), "models.")
}
