package textract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	Name     = "textract"
	StageOCR = "ocr"
)

var ErrOCRDisabled = errors.New("image input requires OCR but do_ocr is false")

// Swappable in tests.
var loadDefaultAWSConfig = config.LoadDefaultConfig

// API is the subset of *textract.Client the engine calls.
type API interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// Engine runs images through AWS Textract.
type Engine struct {
	client API
	config cfg.TextractConfig
	logger logger.Logger
}

// New uses the ambient AWS credential chain.
func New(ctx context.Context, textractCfg cfg.TextractConfig, log logger.Logger) (*Engine, error) {
	var opts []func(*config.LoadOptions) error
	if textractCfg.Region != "" {
		opts = append(opts, config.WithRegion(textractCfg.Region))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return NewWithClient(textract.NewFromConfig(awsCfg), textractCfg, log), nil
}

func NewWithClient(client API, textractCfg cfg.TextractConfig, log logger.Logger) *Engine {
	return &Engine{
		client: client,
		config: textractCfg,
		logger: log.Named("textract"),
	}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) CanConvert(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/png", "image/tiff":
		return true
	}
	return false
}

func (e *Engine) featureTypes() []types.FeatureType {
	var features []types.FeatureType
	if e.config.EnableTables {
		features = append(features, types.FeatureTypeTables)
	}
	if e.config.EnableForms {
		features = append(features, types.FeatureTypeForms)
	}
	return features
}

func (e *Engine) Convert(ctx context.Context, doc *models.MaterializedDocument, opts models.ConvertDocumentsOptions) (*models.ConvertedDocument, error) {
	if !opts.OCREnabled() {
		return nil, ErrOCRDisabled
	}

	start := time.Now()
	blocks, err := e.analyze(ctx, doc.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze document: %w", err)
	}
	elapsed := time.Since(start)

	index := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			index[*b.Id] = b
		}
	}

	out := &models.ConvertedDocument{
		Metadata: models.DocumentMetadata{
			FileType:  models.Image,
			FileSize:  int64(len(doc.Content)),
			Pages:     1,
			Hash:      engine.Hash(doc.Content),
			CreatedAt: time.Now(),
		},
		Status: models.ConversionSuccess,
		Timings: map[string]models.ProfilingItem{
			StageOCR: models.NewProfilingItem("page", []time.Duration{elapsed}),
		},
	}

	if lines := e.lines(blocks); len(lines) > 0 {
		out.Chunks = append(out.Chunks, models.DocumentChunk{
			Page:     1,
			Kind:     "text",
			Content:  strings.Join(lines, "\n"),
			Metadata: map[string]interface{}{"source": Name},
		})
	}

	if e.config.EnableTables {
		for _, table := range tables(blocks, index) {
			out.Chunks = append(out.Chunks, models.DocumentChunk{
				Page:    1,
				Kind:    "table",
				Content: table.text(),
				Metadata: map[string]interface{}{
					"source": Name,
					"rows":   table.Rows,
					"cols":   table.Cols,
					"cells":  table.Cells,
				},
			})
		}
	}

	if e.config.EnableForms {
		for _, form := range forms(blocks, index) {
			out.Chunks = append(out.Chunks, models.DocumentChunk{
				Page:    1,
				Kind:    "key_value",
				Content: fmt.Sprintf("%s: %s", form.Key, form.Value),
				Metadata: map[string]interface{}{
					"source": Name,
					"key":    form.Key,
					"value":  form.Value,
				},
			})
		}
	}

	if len(out.Chunks) == 0 {
		out.Status = models.ConversionPartialSuccess
		out.Errors = append(out.Errors, models.ErrorItem{
			ComponentType: "ocr",
			ModuleName:    Name,
			ErrorMessage:  fmt.Sprintf("no text above confidence %.0f", e.config.MinConfidence),
		})
	}

	e.logger.Debug("Analyzed image",
		logger.String("filename", doc.Name),
		logger.Int("blocks", len(blocks)),
		logger.Duration("elapsed", elapsed),
	)
	return out, nil
}

// analyze uses DetectDocumentText when neither tables nor forms are enabled,
// since AnalyzeDocument needs at least one feature type.
func (e *Engine) analyze(ctx context.Context, content []byte) ([]types.Block, error) {
	document := &types.Document{Bytes: content}

	features := e.featureTypes()
	if len(features) == 0 {
		result, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{Document: document})
		if err != nil {
			return nil, err
		}
		return result.Blocks, nil
	}

	result, err := e.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     document,
		FeatureTypes: features,
	})
	if err != nil {
		return nil, err
	}
	return result.Blocks, nil
}

func (e *Engine) lines(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType == types.BlockTypeLine &&
			block.Confidence != nil &&
			*block.Confidence >= e.config.MinConfidence &&
			block.Text != nil {
			texts = append(texts, *block.Text)
		}
	}
	return texts
}

// Table is a recognized table, cells indexed [row][col].
type Table struct {
	Rows  int
	Cols  int
	Cells [][]string
}

func (t Table) text() string {
	rows := make([]string, 0, len(t.Cells))
	for _, row := range t.Cells {
		rows = append(rows, strings.Join(row, "\t"))
	}
	return strings.Join(rows, "\n")
}

func tables(blocks []types.Block, index map[string]types.Block) []Table {
	var out []Table
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeTable {
			continue
		}

		var cells []types.Block
		for _, id := range childIDs(block) {
			if cell, ok := index[id]; ok && cell.BlockType == types.BlockTypeCell {
				cells = append(cells, cell)
			}
		}

		var rowCount, colCount int32
		for _, cell := range cells {
			rowCount = max(rowCount, aws.ToInt32(cell.RowIndex))
			colCount = max(colCount, aws.ToInt32(cell.ColumnIndex))
		}

		table := Table{Rows: int(rowCount), Cols: int(colCount), Cells: make([][]string, rowCount)}
		for i := range table.Cells {
			table.Cells[i] = make([]string, colCount)
		}
		for _, cell := range cells {
			row, col := aws.ToInt32(cell.RowIndex)-1, aws.ToInt32(cell.ColumnIndex)-1
			if row < 0 || col < 0 {
				continue
			}
			table.Cells[row][col] = childText(cell, index)
		}
		out = append(out, table)
	}
	return out
}

// FormField is one key/value pair.
type FormField struct {
	Key   string
	Value string
}

func forms(blocks []types.Block, index map[string]types.Block) []FormField {
	var out []FormField
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeKeyValueSet ||
			len(block.EntityTypes) == 0 ||
			block.EntityTypes[0] != types.EntityTypeKey {
			continue
		}

		key := childText(block, index)
		var value string
		for _, rel := range block.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if vb, ok := index[id]; ok {
					value = childText(vb, index)
				}
			}
		}
		if key != "" && value != "" {
			out = append(out, FormField{Key: key, Value: value})
		}
	}
	return out
}

func childIDs(block types.Block) []string {
	var ids []string
	for _, rel := range block.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}

func childText(block types.Block, index map[string]types.Block) string {
	var words []string
	for _, id := range childIDs(block) {
		if child, ok := index[id]; ok && child.Text != nil {
			words = append(words, *child.Text)
		}
	}
	return strings.Join(words, " ")
}

func (e *Engine) Close() error {
	return nil
}
