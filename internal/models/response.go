package models

import (
	"encoding/json"
	"math"
	"time"
)

// ConversionStatus is the outcome of converting one document or a batch.
type ConversionStatus string

const (
	ConversionSuccess        ConversionStatus = "success"
	ConversionPartialSuccess ConversionStatus = "partial_success"
	ConversionFailure        ConversionStatus = "failure"
)

func (s ConversionStatus) severity() int {
	switch s {
	case ConversionSuccess:
		return 0
	case ConversionPartialSuccess:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of two statuses: failure > partial_success > success.
func Worst(a, b ConversionStatus) ConversionStatus {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// ErrorItem is one error reported while converting a document.
type ErrorItem struct {
	ComponentType string `json:"component_type"`
	ModuleName    string `json:"module_name"`
	ErrorMessage  string `json:"error_message"`
}

// ProfilingItem summarises the samples of one pipeline stage.
type ProfilingItem struct {
	Scope  string  `json:"scope"`
	Count  int     `json:"count"`
	Mean   float64 `json:"avg"`
	Stddev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// NewProfilingItem computes the summary of the given durations, in seconds.
func NewProfilingItem(scope string, samples []time.Duration) ProfilingItem {
	item := ProfilingItem{Scope: scope, Count: len(samples)}
	if len(samples) == 0 {
		return item
	}

	item.Min = math.Inf(1)
	item.Max = math.Inf(-1)
	var sum float64
	for _, d := range samples {
		s := d.Seconds()
		sum += s
		item.Min = math.Min(item.Min, s)
		item.Max = math.Max(item.Max, s)
	}
	item.Mean = sum / float64(len(samples))

	var sq float64
	for _, d := range samples {
		diff := d.Seconds() - item.Mean
		sq += diff * diff
	}
	item.Stddev = math.Sqrt(sq / float64(len(samples)))
	return item
}

// Merge combines two summaries of the same stage as if their samples had been pooled.
func (p ProfilingItem) Merge(o ProfilingItem) ProfilingItem {
	switch {
	case o.Count == 0:
		return p
	case p.Count == 0:
		if o.Scope == "" {
			o.Scope = p.Scope
		}
		return o
	}

	n := float64(p.Count + o.Count)
	mean := (p.Mean*float64(p.Count) + o.Mean*float64(o.Count)) / n
	// pooled population variance: E[x^2] - mean^2
	ex2 := (float64(p.Count)*(p.Stddev*p.Stddev+p.Mean*p.Mean) +
		float64(o.Count)*(o.Stddev*o.Stddev+o.Mean*o.Mean)) / n
	variance := math.Max(ex2-mean*mean, 0)

	return ProfilingItem{
		Scope:  p.Scope,
		Count:  p.Count + o.Count,
		Mean:   mean,
		Stddev: math.Sqrt(variance),
		Min:    math.Min(p.Min, o.Min),
		Max:    math.Max(p.Max, o.Max),
	}
}

// DocumentResponse carries the requested renderings of one document.
// Renderings that were not requested stay nil and are omitted from JSON.
type DocumentResponse struct {
	Filename       string          `json:"filename"`
	MDContent      *string         `json:"md_content,omitempty"`
	JSONContent    json.RawMessage `json:"json_content,omitempty"`
	HTMLContent    *string         `json:"html_content,omitempty"`
	TextContent    *string         `json:"text_content,omitempty"`
	DocTagsContent *string         `json:"doctags_content,omitempty"`
}

// ConvertDocumentResponse is the inline result.
type ConvertDocumentResponse struct {
	Document       DocumentResponse         `json:"document"`
	Status         ConversionStatus         `json:"status"`
	Errors         []ErrorItem              `json:"errors"`
	ProcessingTime float64                  `json:"processing_time"`
	Timings        map[string]ProfilingItem `json:"timings"`
}

// RemoteConvertDocumentResult points at a result written to a bucket.
type RemoteConvertDocumentResult struct {
	ResultURI string                   `json:"result_uri,omitempty"`
	Status    ConversionStatus         `json:"status"`
	Errors    []ErrorItem              `json:"errors"`
	Timings   map[string]ProfilingItem `json:"timings"`
}

// RemoteConvertDocumentsResponse is the remote-write result of a batch.
type RemoteConvertDocumentsResponse struct {
	Results        []RemoteConvertDocumentResult `json:"results"`
	ProcessingTime float64                       `json:"processing_time"`
}

// StatusOKResponse is the body of health and clear endpoints.
type StatusOKResponse struct {
	Status string `json:"status"`
}

// OK returns {"status":"ok"}.
func OK() StatusOKResponse {
	return StatusOKResponse{Status: "ok"}
}
