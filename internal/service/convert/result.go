package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/converters"
)

const (
	jsonContentType = "application/json"
	// ArchiveFilename is the attachment name of zipped results.
	ArchiveFilename = "converted_docs.zip"
)

// ResultPolicy decides whether a request's results are written to a bucket
// instead of returned inline.
type ResultPolicy func(req models.ConvertDocumentsRequest) bool

// TargetPolicy returns results remotely exactly when the request names a target.
func TargetPolicy(req models.ConvertDocumentsRequest) bool {
	return req.Target != nil
}

// Result is the outcome of one request. Exactly one of Inline, Archive and
// Remote is set.
type Result struct {
	Status  models.ConversionStatus
	Meta    models.TaskProcessingMeta
	Inline  *models.ConvertDocumentResponse
	Archive []byte
	Remote  *models.RemoteConvertDocumentsResponse
}

// Payload is a serialized result as returned over HTTP and kept for async tasks.
type Payload struct {
	ContentType string `json:"content_type"`
	Filename    string `json:"filename,omitempty"`
	Body        []byte `json:"body"`
}

// Payload serializes the result.
func (r *Result) Payload() (*Payload, error) {
	switch {
	case r.Archive != nil:
		return &Payload{ContentType: converters.ZipContentType, Filename: ArchiveFilename, Body: r.Archive}, nil
	case r.Inline != nil:
		return jsonPayload(r.Inline)
	case r.Remote != nil:
		return jsonPayload(r.Remote)
	}
	return nil, fmt.Errorf("empty result")
}

func jsonPayload(v interface{}) (*Payload, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Payload{ContentType: jsonContentType, Body: body}, nil
}

// Extension is the file extension the payload is archived under.
func (p *Payload) Extension() string {
	if p.ContentType == converters.ZipContentType {
		return ".zip"
	}
	return ".json"
}

func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload 解析保存的任务结果
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &p, nil
}

// meta counts the items handled so far out of numDocs. Skipped items are
// not processed.
func meta(items []converters.Item, numDocs int) models.TaskProcessingMeta {
	m := models.TaskProcessingMeta{NumDocs: numDocs}
	for _, it := range items {
		if it.Document != nil && skipped(it.Document) {
			continue
		}
		m.NumProcessed++
		if it.Status() == models.ConversionFailure {
			m.NumFailed++
		} else {
			m.NumSucceeded++
		}
	}
	return m
}
