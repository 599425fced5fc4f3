package handlers

import (
	"github.com/feichai0017/document-converter/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Status   *StatusHandler
}

func NewHandlers(
	conversionService ConversionService,
	statusService StatusService,
	allowOrigins []string,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(conversionService, logger),
		Status:   NewStatusHandler(statusService, allowOrigins, logger),
	}
}
