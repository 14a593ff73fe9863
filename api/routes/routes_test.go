package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/waybill-processor/api/handlers"
	"github.com/feichai0017/waybill-processor/api/middleware"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/basedir"
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/internal/service/formatter"
	"github.com/feichai0017/waybill-processor/internal/service/session"
	"github.com/feichai0017/waybill-processor/pkg/converters"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/metrics"
)

type server struct {
	engine *gin.Engine
	svc    *document.DocumentService
}

func newServer(t *testing.T, checks map[string]handlers.Check) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	bases := basedir.NewDirectory(repository.NewMemoryBaseRepo(), log)
	m := metrics.New()
	svc := document.NewService(document.Deps{
		Repo:     repository.NewMemoryDocumentRepo(),
		Renderer: formatter.New(bases, 0.7, log),
		Sessions: session.NewMemoryStore(0, 0),
		Metrics:  m,
	}, nil, log)

	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(svc, converters.NewXLSXConverter(bases, log), checks, log), m.Handler(), log)
	return &server{engine: r, svc: svc}
}

func (s *server) seed(t *testing.T, status models.Status) int64 {
	t.Helper()
	ctx := context.Background()
	sm := s.svc.StateMachine()
	id, err := sm.Create(ctx, 1, "file", "/tmp/file.jpg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fields := &models.OcrFields{
		LoadingBase: &models.LoadingBase{Name: models.Ptr("Нефтебаза Южная")},
		LoadingDate: &models.LoadingDate{Value: models.Ptr("2026-02-03")},
		DriverName:  &models.DriverName{Value: models.Ptr("Петров Пётр")},
		ProductType: &models.ProductType{Value: models.Ptr("АИ-95")},
		WeightTotal: &models.WeightTotal{Kg: models.Ptr(int64(27328))},
		Confidence:  0.9,
	}
	if _, err := sm.RecordOCR(ctx, id, models.Outcome{Fields: fields, Confidence: 0.9, Status: status}); err != nil {
		t.Fatalf("RecordOCR: %v", err)
	}
	return id
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeDoc(t *testing.T, w *httptest.ResponseRecorder) models.Document {
	t.Helper()
	var doc models.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return doc
}

func TestHealth(t *testing.T) {
	s := newServer(t, map[string]handlers.Check{
		"redis": func(context.Context) error { return nil },
	})
	w := s.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}

	s = newServer(t, map[string]handlers.Check{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})
	w = s.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("unexpected health %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, models.StatusOcrOK)
	w := s.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "document_transitions_total") {
		t.Fatalf("unexpected metrics %d", w.Code)
	}
}

func TestGetAndRender(t *testing.T) {
	s := newServer(t, nil)
	id := s.seed(t, models.StatusOcrOK)

	w := s.do(http.MethodGet, "/api/v1/documents/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if doc := decodeDoc(t, w); doc.ID != id || doc.Status != models.StatusOcrOK {
		t.Fatalf("unexpected document %+v", doc)
	}

	w = s.do(http.MethodGet, "/api/v1/documents/1/render", "")
	var rendered handlers.RenderResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rendered)
	if !strings.HasPrefix(rendered.Text, "✅ Документ распознан (#1)") || rendered.Status != "ocr_ok" {
		t.Fatalf("unexpected render %+v", rendered)
	}

	if w := s.do(http.MethodGet, "/api/v1/documents/99", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/v1/documents/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCommands(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, models.StatusOcrError)

	w := s.do(http.MethodPost, "/api/v1/documents/1/confirm", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("ocr_error cannot be confirmed, got %d", w.Code)
	}

	w = s.do(http.MethodPatch, "/api/v1/documents/1/fields/weight", `{"value":"27 328"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	doc := decodeDoc(t, w)
	if doc.Status != models.StatusEdited || *doc.Fields.WeightTotal.Kg != 27328 || !doc.Fields.WeightTotal.EditedByUser {
		t.Fatalf("unexpected document %+v", doc)
	}

	w = s.do(http.MethodPost, "/api/v1/documents/1/confirm", "")
	if w.Code != http.StatusOK || decodeDoc(t, w).Status != models.StatusConfirmed {
		t.Fatalf("unexpected confirm %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/v1/documents/1/reshoot", "")
	if w.Code != http.StatusOK || decodeDoc(t, w).Status != models.StatusNeedReshoot {
		t.Fatalf("unexpected reshoot %d", w.Code)
	}

	if w := s.do(http.MethodPatch, "/api/v1/documents/1/fields/driver", `{"value":"x"}`); w.Code != http.StatusConflict {
		t.Fatalf("need_reshoot is terminal, got %d", w.Code)
	}
	if w := s.do(http.MethodPatch, "/api/v1/documents/1/fields/driver", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListAndExport(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, models.StatusOcrOK)
	s.seed(t, models.StatusOcrError)

	w := s.do(http.MethodGet, "/api/v1/documents?status=ocr_error", "")
	var list struct {
		Documents []models.Document `json:"documents"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || list.Count != 1 || list.Documents[0].ID != 2 {
		t.Fatalf("unexpected list %s", w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/v1/documents?status=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = s.do(http.MethodGet, "/api/v1/documents/export", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != converters.ContentType {
		t.Fatalf("unexpected export %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=waybills_") {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(converters.SheetName)
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
}
