package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.TaskProcessed("ocr_ok")
	m.TaskProcessed("ocr_ok")
	m.ObservePass(1, time.Second, nil)
	m.ObservePass(2, time.Second, errors.New("boom"))
	m.Escalated()
	m.Delivery("sent")

	if got := testutil.ToFloat64(m.tasks.WithLabelValues("ocr_ok")); got != 2 {
		t.Fatalf("expected 2 tasks, got %v", got)
	}
	if got := testutil.ToFloat64(m.passes.WithLabelValues("2", "error")); got != 1 {
		t.Fatalf("expected 1 failed pass 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.escalations); got != 1 {
		t.Fatalf("expected 1 escalation, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "waybill_crm_deliveries_total") {
		t.Fatalf("exposition missing delivery counter")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TaskProcessed("x")
	m.ObservePass(1, 0, nil)
	m.Escalated()
	m.Delivery("sent")
	m.Transition("edited")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}
