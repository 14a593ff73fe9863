package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/storage"
)

type recordingHandler struct {
	mu    sync.Mutex
	tasks []*queue.Task
	err   error
	seen  chan struct{}
}

func (h *recordingHandler) HandlePhotoTask(_ context.Context, task *queue.Task) error {
	h.mu.Lock()
	h.tasks = append(h.tasks, task)
	h.mu.Unlock()
	if h.seen != nil {
		h.seen <- struct{}{}
	}
	if task.FileID == "panic" {
		panic("boom")
	}
	return h.err
}

type failingQueue struct {
	err error
}

func (q failingQueue) Enqueue(context.Context, *queue.Task) error { return q.err }

func (q failingQueue) Dequeue(context.Context, time.Duration) (*queue.Task, error) {
	return nil, q.err
}

type sweepStorage struct {
	storage.Noop
	prefix    string
	threshold time.Time
}

func (s *sweepStorage) CleanupBefore(_ context.Context, prefix string, threshold time.Time) (int, error) {
	s.prefix, s.threshold = prefix, threshold
	return 4, nil
}

func TestRunProcessesQueuedTasks(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	h := &recordingHandler{seen: make(chan struct{}, 4)}
	w, err := NewDocumentWorker(&Config{PollTimeout: 10 * time.Millisecond}, q, h, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("NewDocumentWorker: %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, queue.NewPhotoTask(1, id)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-h.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d not processed", i)
		}
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tasks) != 2 || h.tasks[0].FileID != "a" || h.tasks[1].FileID != "b" {
		t.Fatalf("unexpected tasks %+v", h.tasks)
	}
}

func TestPollBackoff(t *testing.T) {
	cfg := &Config{PollTimeout: time.Millisecond, ReconnectBackoff: 2 * time.Second, ErrorBackoff: time.Second}
	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"empty", queue.ErrEmpty, 0},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, 2 * time.Second},
		{"eof", io.EOF, 2 * time.Second},
		{"decode", errors.New("failed to unmarshal task"), time.Second},
	}
	for _, tc := range cases {
		w, _ := NewDocumentWorker(cfg, failingQueue{err: tc.err}, &recordingHandler{}, nil, logger.NewNop())
		if got := w.Poll(context.Background()); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestPollHandlerFailures(t *testing.T) {
	log := logger.NewTestLogger()
	q := queue.NewMemoryQueue(2)
	h := &recordingHandler{err: errors.New("download failed")}
	w, _ := NewDocumentWorker(&Config{PollTimeout: time.Millisecond}, q, h, nil, log)
	ctx := context.Background()

	_ = q.Enqueue(ctx, queue.NewPhotoTask(1, "x"))
	if got := w.Poll(ctx); got != defaultErrorBackoff {
		t.Fatalf("expected error backoff, got %v", got)
	}

	h.err = nil
	_ = q.Enqueue(ctx, queue.NewPhotoTask(1, "panic"))
	if got := w.Poll(ctx); got != defaultErrorBackoff {
		t.Fatalf("a panicking task must not kill the worker, got %v", got)
	}

	msgs := log.Messages("ERROR")
	if len(msgs) != 2 || !strings.Contains(msgs[0], "task failed") {
		t.Fatalf("unexpected error logs %v", msgs)
	}
}

func TestSweep(t *testing.T) {
	st := &sweepStorage{}
	w, _ := NewDocumentWorker(&Config{ArchivePrefix: "waybills", Retention: 48 * time.Hour}, queue.NewMemoryQueue(1), &recordingHandler{}, st, logger.NewNop())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.Sweep(context.Background())
	if err != nil || n != 4 {
		t.Fatalf("Sweep: %d %v", n, err)
	}
	if st.prefix != "waybills" || !st.threshold.Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("unexpected sweep args %q %v", st.prefix, st.threshold)
	}

	w.cfg.Retention = 0
	st.prefix = ""
	if n, _ := w.Sweep(context.Background()); n != 0 || st.prefix != "" {
		t.Fatalf("zero retention must disable the sweep")
	}
}

func TestNewDocumentWorkerRequiresCollaborators(t *testing.T) {
	if _, err := NewDocumentWorker(nil, nil, &recordingHandler{}, nil, logger.NewNop()); err == nil {
		t.Fatalf("expected error without a queue")
	}
}
