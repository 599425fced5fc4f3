package converters

import (
	"encoding/json"
	"fmt"

	"github.com/feichai0017/document-converter/internal/models"
)

// ComponentSource is the component_type of materialization errors.
const ComponentSource = "source"

// Item is the outcome of one submitted source: either a converted document
// or the error that kept it from being materialized.
type Item struct {
	Name     string
	Kind     models.SourceKind
	Document *models.ConvertedDocument
	Err      error
}

// Status of the item. A materialization error is a failure.
func (it Item) Status() models.ConversionStatus {
	if it.Err != nil || it.Document == nil {
		return models.ConversionFailure
	}
	return it.Document.Status
}

// Errors of the item, engine errors or the single materialization error.
func (it Item) Errors() []models.ErrorItem {
	if it.Err != nil {
		return []models.ErrorItem{{
			ComponentType: ComponentSource,
			ModuleName:    string(it.Kind),
			ErrorMessage:  it.Err.Error(),
		}}
	}
	if it.Document == nil {
		return nil
	}
	return it.Document.Errors
}

// Batch is the assembled outcome of a request.
type Batch struct {
	Items          []Item
	Status         models.ConversionStatus
	Errors         []models.ErrorItem
	Timings        map[string]models.ProfilingItem
	ProcessingTime float64
}

// Assemble combines items in submission order. processingTime is the wall
// clock of the whole batch measured by the caller.
//
// The status is the worst engine-reported status. Sources that could not be
// materialized degrade the batch to partial_success while at least one item
// was converted; when every item fails the batch fails.
func Assemble(items []Item, processingTime float64) *Batch {
	b := &Batch{
		Items:          items,
		Status:         models.ConversionSuccess,
		Errors:         make([]models.ErrorItem, 0),
		Timings:        make(map[string]models.ProfilingItem),
		ProcessingTime: processingTime,
	}

	materializeFailed, failed := 0, 0
	for _, it := range items {
		b.Errors = append(b.Errors, it.Errors()...)

		if it.Err != nil || it.Document == nil {
			materializeFailed++
			failed++
			continue
		}
		if it.Document.Status == models.ConversionFailure {
			failed++
		}
		b.Status = models.Worst(b.Status, it.Document.Status)
		mergeTimings(b.Timings, it.Document.Timings)
	}

	switch {
	case len(items) == 0 || failed == len(items):
		b.Status = models.ConversionFailure
	case materializeFailed > 0:
		b.Status = models.Worst(b.Status, models.ConversionPartialSuccess)
	}
	return b
}

func mergeTimings(dst, src map[string]models.ProfilingItem) {
	for stage, item := range src {
		if existing, ok := dst[stage]; ok {
			dst[stage] = existing.Merge(item)
		} else {
			dst[stage] = item
		}
	}
}

var renderers = map[models.OutputFormat]Renderer{
	models.FormatMarkdown: MarkdownConverter{},
	models.FormatJSON:     NewJSONConverter(),
	models.FormatHTML:     HTMLConverter{},
	models.FormatText:     TextConverter{},
	models.FormatDocTags:  DocTagsConverter{},
}

// RendererFor returns the renderer of format f.
func RendererFor(f models.OutputFormat) (Renderer, error) {
	r, ok := renderers[f]
	if !ok {
		return nil, fmt.Errorf("unsupported output format: %s", f)
	}
	return r, nil
}

// RenderDocument populates only the requested renderings. An item without a
// document yields a response carrying just the filename.
func RenderDocument(it Item, formats []models.OutputFormat) (models.DocumentResponse, error) {
	resp := models.DocumentResponse{Filename: it.Name}
	if it.Document == nil {
		return resp, nil
	}

	for _, f := range formats {
		r, err := RendererFor(f)
		if err != nil {
			return resp, err
		}
		content, err := r.Render(it.Document)
		if err != nil {
			return resp, fmt.Errorf("failed to render %s for %s: %w", f, it.Name, err)
		}

		switch f {
		case models.FormatMarkdown:
			resp.MDContent = &content
		case models.FormatJSON:
			resp.JSONContent = json.RawMessage(content)
		case models.FormatHTML:
			resp.HTMLContent = &content
		case models.FormatText:
			resp.TextContent = &content
		case models.FormatDocTags:
			resp.DocTagsContent = &content
		}
	}
	return resp, nil
}

// Inline builds the inline response of a single-document batch. Status and
// errors are those of the whole batch.
func (b *Batch) Inline(formats []models.OutputFormat) (*models.ConvertDocumentResponse, error) {
	if len(b.Items) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	doc, err := RenderDocument(b.Items[0], formats)
	if err != nil {
		return nil, err
	}
	return &models.ConvertDocumentResponse{
		Document:       doc,
		Status:         b.Status,
		Errors:         b.Errors,
		ProcessingTime: b.ProcessingTime,
		Timings:        b.Timings,
	}, nil
}

// ItemResponse is the per-document response written for remote results.
func ItemResponse(it Item, formats []models.OutputFormat) (*models.ConvertDocumentResponse, error) {
	doc, err := RenderDocument(it, formats)
	if err != nil {
		return nil, err
	}
	timings := make(map[string]models.ProfilingItem)
	if it.Document != nil {
		mergeTimings(timings, it.Document.Timings)
	}
	return &models.ConvertDocumentResponse{
		Document: doc,
		Status:   it.Status(),
		Errors:   append(make([]models.ErrorItem, 0), it.Errors()...),
		Timings:  timings,
	}, nil
}
