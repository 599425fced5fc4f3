package models

import (
	"time"
)

// FileType 文件类型
type FileType string

const (
	PDF   FileType = "pdf"
	Image FileType = "image"
	Text  FileType = "text"
)

// DocumentMetadata 文档元数据
type DocumentMetadata struct {
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	FileType  FileType  `json:"file_type"`
	FileSize  int64     `json:"file_size"`
	MimeType  string    `json:"mime_type"`
	Pages     int       `json:"pages"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentChunk 文档块
type DocumentChunk struct {
	Page     int                    `json:"page"`
	Kind     string                 `json:"kind"` // "text", "table", "key_value"
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ConvertedDocument is what an engine returns for one materialized document.
// Renderings are produced from the chunks afterwards.
type ConvertedDocument struct {
	Filename string                   `json:"filename"`
	Metadata DocumentMetadata         `json:"metadata"`
	Chunks   []DocumentChunk          `json:"chunks"`
	Status   ConversionStatus         `json:"status"`
	Errors   []ErrorItem              `json:"errors,omitempty"`
	Timings  map[string]ProfilingItem `json:"timings,omitempty"`
}
