package converters

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

// ZipContentType is the media type of WriteZip output.
const ZipContentType = "application/zip"

var extensions = map[models.OutputFormat]string{
	models.FormatMarkdown: ".md",
	models.FormatJSON:     ".json",
	models.FormatHTML:     ".html",
	models.FormatText:     ".txt",
	models.FormatDocTags:  ".doctags",
}

// Extension returns the file extension used for format f.
func Extension(f models.OutputFormat) string {
	return extensions[f]
}

// WriteZip writes one file per requested rendering per converted document.
// Items without a document are skipped; their errors are part of the batch.
func (b *Batch) WriteZip(w io.Writer, formats []models.OutputFormat) error {
	zw := zip.NewWriter(w)

	stems := UniqueStems(b.Items)
	for i, it := range b.Items {
		if it.Document == nil {
			continue
		}
		stem := stems[i]

		for _, f := range formats {
			r, err := RendererFor(f)
			if err != nil {
				return err
			}
			content, err := r.Render(it.Document)
			if err != nil {
				return fmt.Errorf("failed to render %s for %s: %w", f, it.Name, err)
			}

			fw, err := zw.Create(stem + Extension(f))
			if err != nil {
				return fmt.Errorf("failed to add zip entry: %w", err)
			}
			if _, err := io.WriteString(fw, content); err != nil {
				return fmt.Errorf("failed to write zip entry: %w", err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return nil
}

// Stem is the base name of a document without its extension.
func Stem(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "document"
	}
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// UniqueStems returns one file stem per converted item, suffixed _1, _2...
// on collisions. Items without a document get an empty stem.
func UniqueStems(items []Item) []string {
	used := make(map[string]int)
	stems := make([]string, len(items))
	for i, it := range items {
		if it.Document != nil {
			stems[i] = uniqueStem(used, Stem(it.Name))
		}
	}
	return stems
}

func uniqueStem(used map[string]int, stem string) string {
	candidate := stem
	for n := used[stem]; used[candidate] > 0; n++ {
		candidate = fmt.Sprintf("%s_%d", stem, n)
		used[stem] = n + 1
	}
	used[candidate]++
	return candidate
}
