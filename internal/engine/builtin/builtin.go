// Package builtin assembles the engines that ship with the service.
package builtin

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/engine"
	"github.com/feichai0017/document-converter/internal/engine/pdf"
	"github.com/feichai0017/document-converter/internal/engine/text"
	"github.com/feichai0017/document-converter/internal/engine/textract"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// NewRegistry registers the pdf and text engines, plus Textract for images
// when it is enabled.
func NewRegistry(ctx context.Context, engineCfg cfg.EngineConfig, log logger.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry(log, pdf.New(log), text.New())

	if engineCfg.Textract.Enabled {
		textractEngine, err := textract.New(ctx, engineCfg.Textract, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract engine: %w", err)
		}
		registry.Register(textractEngine)
	}

	return registry, nil
}
