package pdf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

func TestEngine_CanConvert(t *testing.T) {
	e := New(logger.NewTestLogger())
	assert.True(t, e.CanConvert("application/pdf"))
	assert.False(t, e.CanConvert("image/png"))
	assert.Equal(t, Name, e.Name())
}

func TestEngine_RejectsGarbage(t *testing.T) {
	e := New(logger.NewTestLogger())

	_, err := e.Convert(context.Background(), &models.MaterializedDocument{
		Name:    "broken.pdf",
		Content: []byte("%PDF-1.4 but not really"),
	}, models.ConvertDocumentsOptions{})
	assert.ErrorContains(t, err, "failed to open pdf")
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "line one\nline two", cleanText("  \r\nline one   \r\nline two\t\n\n"))
}
