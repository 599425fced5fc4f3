package source

import (
	"errors"
	"fmt"

	"github.com/feichai0017/document-converter/internal/models"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidSource    = errors.New("invalid source")
	ErrNotFound         = errors.New("source not found")
	ErrTransportFailure = errors.New("transport failure")
	ErrDecodeFailure    = errors.New("decode failure")
)

// Error is a materialization failure of one descriptor.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind   error
	Source models.SourceKind
	// Ref names the source: the bucket URI, the URL or the filename.
	Ref string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Source, e.Ref, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Ref, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, src models.SourceKind, ref string, err error) *Error {
	return &Error{Kind: kind, Source: src, Ref: ref, Err: err}
}

// StatusError is returned by a Fetcher for a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected HTTP status " + e.Status
}
