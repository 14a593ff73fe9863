package handlers

import (
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/pkg/converters"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

type Handlers struct {
	Document *DocumentHandler
	Health   *HealthHandler
}

func NewHandlers(
	documentService document.Operator,
	exporter converters.DocumentConverter,
	checks map[string]Check,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, exporter, logger),
		Health:   NewHealthHandler(checks),
	}
}
