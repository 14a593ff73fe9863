package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/pkg/converters"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

type DocumentHandler struct {
	service  document.Operator
	exporter converters.DocumentConverter
	logger   logger.Logger
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RenderResponse carries the operator text of a document.
type RenderResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

// FieldRequest is the body of a field correction.
type FieldRequest struct {
	Value string `json:"value"`
}

func NewDocumentHandler(service document.Operator, exporter converters.DocumentConverter, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:  service,
		exporter: exporter,
		logger:   logger.Named("api"),
	}
}

// GetDocument returns the stored document.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	id, ok := h.docID(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, "Failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListDocuments filters by status and creation window.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	docs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// RenderDocument returns the operator-facing text.
func (h *DocumentHandler) RenderDocument(c *gin.Context) {
	id, ok := h.docID(c)
	if !ok {
		return
	}
	doc, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, "Failed to get document", err)
		return
	}
	text, err := h.service.Render(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, "Failed to render document", err)
		return
	}
	c.JSON(http.StatusOK, RenderResponse{ID: id, Status: string(doc.Status), Text: text})
}

func (h *DocumentHandler) ConfirmDocument(c *gin.Context) {
	h.command(c, "Failed to confirm document", h.service.Confirm)
}

func (h *DocumentHandler) ReshootDocument(c *gin.Context) {
	h.command(c, "Failed to request reshoot", h.service.RequestReshoot)
}

func (h *DocumentHandler) RetryDelivery(c *gin.Context) {
	h.command(c, "Failed to retry delivery", h.service.RetryDelivery)
}

// UpdateField applies one correction, the HTTP twin of a chat edit.
func (h *DocumentHandler) UpdateField(c *gin.Context) {
	id, ok := h.docID(c)
	if !ok {
		return
	}
	var req FieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	doc, err := h.service.SubmitEdit(c.Request.Context(), id, c.Param("field"), req.Value)
	if err != nil {
		h.handleServiceError(c, "Failed to update field", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ExportDocuments streams the filtered documents as an XLSX workbook.
func (h *DocumentHandler) ExportDocuments(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	docs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}
	data, err := h.exporter.Convert(c.Request.Context(), docs)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to export documents", err)
		return
	}

	filename := fmt.Sprintf("waybills_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, converters.ContentType, data)
}

func (h *DocumentHandler) command(c *gin.Context, message string, fn func(ctx context.Context, id int64) (*models.Document, error)) {
	id, ok := h.docID(c)
	if !ok {
		return
	}
	doc, err := fn(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, message, err)
		return
	}
	logger.FromContext(c.Request.Context(), h.logger).Info("operator command",
		logger.String("path", c.FullPath()),
		logger.Int64("doc_id", id),
		logger.String("status", string(doc.Status)),
	)
	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandler) docID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.handleError(c, http.StatusBadRequest, "Invalid document id", err)
		return 0, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (repository.ListFilter, error) {
	var f repository.ListFilter
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := models.Status(strings.TrimSpace(s))
			if !status.Valid() {
				return f, fmt.Errorf("unknown status %q", s)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return f, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
		}
		*dst = t
	}
	if !f.To.IsZero() {
		f.To = f.To.Add(24*time.Hour - time.Nanosecond)
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

// handleServiceError maps domain errors onto status codes.
func (h *DocumentHandler) handleServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		h.handleError(c, http.StatusNotFound, "Документ не найден", err)
	case errors.Is(err, models.ErrInvalidTransition):
		h.handleError(c, http.StatusConflict, message, err)
	case errors.Is(err, models.ErrUnknownField):
		h.handleError(c, http.StatusBadRequest, message, err)
	default:
		h.handleError(c, http.StatusInternalServerError, message, err)
	}
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	log := logger.FromContext(c.Request.Context(), h.logger)
	fields := []logger.Field{logger.String("path", c.Request.URL.Path), logger.Int("status", status)}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.AbortWithStatusJSON(status, response)
}
