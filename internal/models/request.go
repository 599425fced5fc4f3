package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OutputFormat is a rendering the engine can produce.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "md"
	FormatJSON     OutputFormat = "json"
	FormatHTML     OutputFormat = "html"
	FormatText     OutputFormat = "text"
	FormatDocTags  OutputFormat = "doctags"
)

var knownFormats = map[OutputFormat]bool{
	FormatMarkdown: true,
	FormatJSON:     true,
	FormatHTML:     true,
	FormatText:     true,
	FormatDocTags:  true,
}

// ConvertDocumentsOptions are forwarded to the engine. Apart from ToFormats
// and AbortOnError nothing here is interpreted by the request handling.
type ConvertDocumentsOptions struct {
	FromFormats      []string       `json:"from_formats,omitempty"`
	ToFormats        []OutputFormat `json:"to_formats,omitempty"`
	ImageExportMode  string         `json:"image_export_mode,omitempty"`
	DoOCR            *bool          `json:"do_ocr,omitempty"`
	ForceOCR         bool           `json:"force_ocr,omitempty"`
	OCRLang          []string       `json:"ocr_lang,omitempty"`
	PDFBackend       string         `json:"pdf_backend,omitempty"`
	TableMode        string         `json:"table_mode,omitempty"`
	AbortOnError     bool           `json:"abort_on_error,omitempty"`
	ReturnAsFile     bool           `json:"return_as_file,omitempty"`
	DoTableStructure *bool          `json:"do_table_structure,omitempty"`
	IncludeImages    *bool          `json:"include_images,omitempty"`
	ImagesScale      float64        `json:"images_scale,omitempty"`
}

// Formats returns the requested renderings, markdown when none were given.
func (o ConvertDocumentsOptions) Formats() []OutputFormat {
	if len(o.ToFormats) == 0 {
		return []OutputFormat{FormatMarkdown}
	}
	return o.ToFormats
}

// Wants reports whether f was requested.
func (o ConvertDocumentsOptions) Wants(f OutputFormat) bool {
	for _, want := range o.Formats() {
		if want == f {
			return true
		}
	}
	return false
}

// OCREnabled defaults to true like the upstream options.
func (o ConvertDocumentsOptions) OCREnabled() bool {
	return o.DoOCR == nil || *o.DoOCR
}

// Target asks for results to be written to a bucket instead of returned inline.
type Target struct {
	URI string `json:"uri" validate:"required,url"`
}

// ConvertDocumentsRequest is one of three mutually exclusive request shapes,
// selected by which of bucket_sources, http_sources or file_sources is present.
type ConvertDocumentsRequest struct {
	Options ConvertDocumentsOptions
	Kind    SourceKind
	Sources []SourceDescriptor
	Target  *Target
}

type requestEnvelope struct {
	Options       ConvertDocumentsOptions `json:"options"`
	BucketSources []BucketSource          `json:"bucket_sources,omitempty"`
	HTTPSources   []HttpSource            `json:"http_sources,omitempty"`
	FileSources   []FileSource            `json:"file_sources,omitempty"`
	Target        *Target                 `json:"target,omitempty"`
}

var (
	ErrNoSources    = errors.New("one of bucket_sources, http_sources or file_sources is required")
	ErrMixedSources = errors.New("bucket_sources, http_sources and file_sources are mutually exclusive")
)

func (r *ConvertDocumentsRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Options       ConvertDocumentsOptions `json:"options"`
		BucketSources *[]BucketSource         `json:"bucket_sources"`
		HTTPSources   *[]HttpSource           `json:"http_sources"`
		FileSources   *[]FileSource           `json:"file_sources"`
		Target        *Target                 `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	present := 0
	var req ConvertDocumentsRequest
	if raw.BucketSources != nil {
		present++
		req.Kind = SourceKindBucket
		for _, s := range *raw.BucketSources {
			req.Sources = append(req.Sources, s)
		}
	}
	if raw.HTTPSources != nil {
		present++
		req.Kind = SourceKindHTTP
		for _, s := range *raw.HTTPSources {
			req.Sources = append(req.Sources, s)
		}
	}
	if raw.FileSources != nil {
		present++
		req.Kind = SourceKindFile
		for _, s := range *raw.FileSources {
			req.Sources = append(req.Sources, s)
		}
	}

	switch {
	case present == 0:
		return &ValidationError{Fields: []FieldError{{Field: "sources", Message: ErrNoSources.Error()}}}
	case present > 1:
		return &ValidationError{Fields: []FieldError{{Field: "sources", Message: ErrMixedSources.Error()}}}
	}

	req.Options = raw.Options
	req.Target = raw.Target
	*r = req
	return nil
}

func (r ConvertDocumentsRequest) MarshalJSON() ([]byte, error) {
	env := requestEnvelope{Options: r.Options, Target: r.Target}
	for _, src := range r.Sources {
		switch s := src.(type) {
		case BucketSource:
			env.BucketSources = append(env.BucketSources, s)
		case HttpSource:
			env.HTTPSources = append(env.HTTPSources, s)
		case FileSource:
			env.FileSources = append(env.FileSources, s)
		default:
			return nil, fmt.Errorf("unknown source type %T", src)
		}
	}
	return json.Marshal(env)
}

// NewFileRequest builds a file_sources request.
func NewFileRequest(opts ConvertDocumentsOptions, sources ...FileSource) ConvertDocumentsRequest {
	req := ConvertDocumentsRequest{Options: opts, Kind: SourceKindFile}
	for _, s := range sources {
		req.Sources = append(req.Sources, s)
	}
	return req
}

// NewBucketRequest builds a bucket_sources request.
func NewBucketRequest(opts ConvertDocumentsOptions, sources ...BucketSource) ConvertDocumentsRequest {
	req := ConvertDocumentsRequest{Options: opts, Kind: SourceKindBucket}
	for _, s := range sources {
		req.Sources = append(req.Sources, s)
	}
	return req
}

// NewHTTPRequest builds an http_sources request.
func NewHTTPRequest(opts ConvertDocumentsOptions, sources ...HttpSource) ConvertDocumentsRequest {
	req := ConvertDocumentsRequest{Options: opts, Kind: SourceKindHTTP}
	for _, s := range sources {
		req.Sources = append(req.Sources, s)
	}
	return req
}
