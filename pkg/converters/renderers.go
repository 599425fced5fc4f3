package converters

import (
	"fmt"
	"html"
	"strings"

	"github.com/feichai0017/document-converter/internal/models"
)

// MarkdownConverter renders md_content.
type MarkdownConverter struct{}

func (MarkdownConverter) Format() models.OutputFormat { return models.FormatMarkdown }

func (MarkdownConverter) Render(doc *models.ConvertedDocument) (string, error) {
	blocks := make([]string, 0, len(doc.Chunks))
	for _, chunk := range doc.Chunks {
		switch chunk.Kind {
		case "heading":
			blocks = append(blocks, "## "+chunk.Content)
		case "table":
			blocks = append(blocks, markdownTable(cells(chunk)))
		case "key_value":
			key, value := keyValue(chunk)
			blocks = append(blocks, fmt.Sprintf("- **%s**: %s", key, value))
		default:
			blocks = append(blocks, chunk.Content)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

// HTMLConverter renders html_content as a standalone page.
type HTMLConverter struct{}

func (HTMLConverter) Format() models.OutputFormat { return models.FormatHTML }

func (HTMLConverter) Render(doc *models.ConvertedDocument) (string, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<title>")
	b.WriteString(html.EscapeString(title(doc)))
	b.WriteString("</title>\n</head>\n<body>\n")

	for _, chunk := range doc.Chunks {
		switch chunk.Kind {
		case "heading":
			fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(chunk.Content))
		case "table":
			b.WriteString("<table>\n")
			for _, row := range cells(chunk) {
				b.WriteString("<tr>")
				for _, cell := range row {
					fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cell))
				}
				b.WriteString("</tr>\n")
			}
			b.WriteString("</table>\n")
		case "key_value":
			key, value := keyValue(chunk)
			fmt.Fprintf(&b, "<p><strong>%s</strong>: %s</p>\n", html.EscapeString(key), html.EscapeString(value))
		default:
			fmt.Fprintf(&b, "<p>%s</p>\n", strings.ReplaceAll(html.EscapeString(chunk.Content), "\n", "<br>\n"))
		}
	}

	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

// TextConverter renders text_content.
type TextConverter struct{}

func (TextConverter) Format() models.OutputFormat { return models.FormatText }

func (TextConverter) Render(doc *models.ConvertedDocument) (string, error) {
	parts := make([]string, 0, len(doc.Chunks))
	for _, chunk := range doc.Chunks {
		parts = append(parts, chunk.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// DocTagsConverter renders doctags_content.
type DocTagsConverter struct{}

func (DocTagsConverter) Format() models.OutputFormat { return models.FormatDocTags }

func (DocTagsConverter) Render(doc *models.ConvertedDocument) (string, error) {
	var b strings.Builder
	b.WriteString("<doctag>")
	page := 0
	for _, chunk := range doc.Chunks {
		if page != 0 && chunk.Page != page {
			b.WriteString("<page_break>")
		}
		page = chunk.Page

		switch chunk.Kind {
		case "heading":
			fmt.Fprintf(&b, "<section_header_level_1>%s</section_header_level_1>", chunk.Content)
		case "table":
			b.WriteString("<otsl>")
			for _, row := range cells(chunk) {
				for _, cell := range row {
					fmt.Fprintf(&b, "<fcel>%s", cell)
				}
				b.WriteString("<nl>")
			}
			b.WriteString("</otsl>")
		case "key_value":
			key, value := keyValue(chunk)
			fmt.Fprintf(&b, "<key_value_region><key>%s</key><value>%s</value></key_value_region>", key, value)
		default:
			fmt.Fprintf(&b, "<text>%s</text>", chunk.Content)
		}
	}
	b.WriteString("</doctag>")
	return b.String(), nil
}

func title(doc *models.ConvertedDocument) string {
	if doc.Metadata.Title != "" {
		return doc.Metadata.Title
	}
	return doc.Filename
}

// cells reads a table's grid from metadata, falling back to tab separated content.
func cells(chunk models.DocumentChunk) [][]string {
	if grid, ok := chunk.Metadata["cells"].([][]string); ok {
		return grid
	}
	var grid [][]string
	for _, line := range strings.Split(chunk.Content, "\n") {
		grid = append(grid, strings.Split(line, "\t"))
	}
	return grid
}

func keyValue(chunk models.DocumentChunk) (string, string) {
	key, _ := chunk.Metadata["key"].(string)
	value, _ := chunk.Metadata["value"].(string)
	if key == "" {
		if k, v, ok := strings.Cut(chunk.Content, ": "); ok {
			return k, v
		}
		return chunk.Content, ""
	}
	return key, value
}

func markdownTable(grid [][]string) string {
	if len(grid) == 0 {
		return ""
	}
	escape := func(row []string) string {
		out := make([]string, len(row))
		for i, cell := range row {
			out[i] = strings.ReplaceAll(cell, "|", "\\|")
		}
		return "| " + strings.Join(out, " | ") + " |"
	}

	lines := []string{escape(grid[0])}
	sep := make([]string, len(grid[0]))
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range grid[1:] {
		lines = append(lines, escape(row))
	}
	return strings.Join(lines, "\n")
}
