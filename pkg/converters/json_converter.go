package converters

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/feichai0017/document-converter/internal/models"
)

// Renderer produces one output format from a converted document.
type Renderer interface {
	Format() models.OutputFormat
	Render(doc *models.ConvertedDocument) (string, error)
}

// ProcessedDocument is the json_content rendering.
type ProcessedDocument struct {
	Name     string           `json:"name"`
	Status   string           `json:"status"`
	Content  []ChunkContent   `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// ChunkContent 定义文档块内容
type ChunkContent struct {
	Text     string                 `json:"text"`
	Position int                    `json:"position"`
	Page     int                    `json:"page"`
	Type     string                 `json:"type"` // "text", "heading", "table", "key_value"
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentMetadata 定义文档元数据
type DocumentMetadata struct {
	FileName  string   `json:"fileName"`
	FileType  string   `json:"fileType"`
	MimeType  string   `json:"mimeType"`
	FileSize  int64    `json:"fileSize"`
	PageCount int      `json:"pageCount,omitempty"`
	Title     string   `json:"title,omitempty"`
	Author    string   `json:"author,omitempty"`
	Hash      string   `json:"hash,omitempty"`
	Sections  []string `json:"sections"`
}

// JSONConverter renders the structured json_content.
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) Format() models.OutputFormat { return models.FormatJSON }

func (c *JSONConverter) Render(doc *models.ConvertedDocument) (string, error) {
	processed := c.Convert(doc)
	data, err := json.Marshal(processed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(data), nil
}

// Convert builds the structured document from chunks.
func (c *JSONConverter) Convert(doc *models.ConvertedDocument) *ProcessedDocument {
	out := &ProcessedDocument{
		Name:    doc.Filename,
		Status:  string(doc.Status),
		Content: make([]ChunkContent, 0, len(doc.Chunks)),
		Metadata: DocumentMetadata{
			FileName:  doc.Filename,
			FileType:  string(doc.Metadata.FileType),
			MimeType:  doc.Metadata.MimeType,
			FileSize:  doc.Metadata.FileSize,
			PageCount: doc.Metadata.Pages,
			Title:     doc.Metadata.Title,
			Author:    doc.Metadata.Author,
			Hash:      doc.Metadata.Hash,
			Sections:  make([]string, 0),
		},
	}

	// 收集元数据
	sections := make(map[string]bool)
	for i, chunk := range doc.Chunks {
		out.Content = append(out.Content, ChunkContent{
			Text:     chunk.Content,
			Position: i + 1,
			Page:     chunk.Page,
			Type:     chunk.Kind,
			Metadata: chunk.Metadata,
		})
		if section, ok := chunk.Metadata["section"].(string); ok {
			sections[section] = true
		}
	}

	for section := range sections {
		out.Metadata.Sections = append(out.Metadata.Sections, section)
	}
	sort.Strings(out.Metadata.Sections)

	return out
}
