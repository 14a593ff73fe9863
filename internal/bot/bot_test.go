package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/basedir"
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/internal/service/formatter"
	"github.com/feichai0017/waybill-processor/internal/service/session"
	"github.com/feichai0017/waybill-processor/pkg/crm/bitrix"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/telegram"
)

type outgoing struct {
	chatID    int64
	messageID int64
	text      string
	kb        telegram.Keyboard
}

type fakeMessenger struct {
	sent     []outgoing
	edited   []outgoing
	answered []string
	updates  [][]telegram.Update
	offsets  []int64
	cancel   context.CancelFunc
}

func (m *fakeMessenger) GetUpdates(_ context.Context, offset int64) ([]telegram.Update, error) {
	m.offsets = append(m.offsets, offset)
	if len(m.updates) == 0 {
		m.cancel()
		return nil, errors.New("context canceled")
	}
	next := m.updates[0]
	m.updates = m.updates[1:]
	return next, nil
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	m.sent = append(m.sent, outgoing{chatID: chatID, text: text, kb: kb})
	return nil
}

func (m *fakeMessenger) EditMessageText(_ context.Context, chatID, messageID int64, text string, kb telegram.Keyboard) error {
	m.edited = append(m.edited, outgoing{chatID: chatID, messageID: messageID, text: text, kb: kb})
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, id, _ string) error {
	m.answered = append(m.answered, id)
	return nil
}

func (m *fakeMessenger) last(t *testing.T) outgoing {
	t.Helper()
	if len(m.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return m.sent[len(m.sent)-1]
}

type fakeCRM struct {
	err error
}

func (c *fakeCRM) Deliver(_ context.Context, text, _ string) (*bitrix.Result, error) {
	return &bitrix.Result{Payload: map[string]any{"text": text}}, c.err
}

type harness struct {
	bot   *Bot
	api   *fakeMessenger
	queue *queue.MemoryQueue
	svc   *document.DocumentService
	crm   *fakeCRM
}

func newHarness(t *testing.T, withCRM bool) *harness {
	t.Helper()
	h := &harness{api: &fakeMessenger{}, queue: queue.NewMemoryQueue(4), crm: &fakeCRM{}}
	deps := document.Deps{
		Repo:     repository.NewMemoryDocumentRepo(),
		Renderer: formatter.New(basedir.NewDirectory(repository.NewMemoryBaseRepo(), logger.NewNop()), 0.7, logger.NewNop()),
		Sessions: session.NewMemoryStore(0, 0),
	}
	if withCRM {
		deps.CRM = h.crm
	}
	h.svc = document.NewService(deps, nil, logger.NewNop())
	h.bot = New(h.api, h.svc, h.queue, logger.NewNop())
	return h
}

// seed stores a recognised document and returns its id.
func (h *harness) seed(t *testing.T, status models.Status) int64 {
	t.Helper()
	ctx := context.Background()
	sm := h.svc.StateMachine()
	id, err := sm.Create(ctx, 10, "file", "/tmp/file.jpg")
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

func press(data string) telegram.Update {
	return telegram.Update{CallbackQuery: &telegram.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &telegram.Message{MessageID: 55, Chat: telegram.Chat{ID: 10}, Text: "✅ Документ распознан (#1)"},
	}}
}

func text(s string) telegram.Update {
	return telegram.Update{Message: &telegram.Message{Chat: telegram.Chat{ID: 10}, Text: s}}
}

func TestPhotoIsEnqueued(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	photo := telegram.Update{Message: &telegram.Message{
		Chat:  telegram.Chat{ID: 10},
		Photo: []telegram.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
	if err := h.bot.HandleUpdate(ctx, photo); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	task, err := h.queue.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if task.Type != queue.TaskTypePhoto || task.ChatID != 10 || task.FileID != "large" {
		t.Fatalf("unexpected task %+v", task)
	}
	if h.api.last(t).text != msgPhotoQueued {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}

	file := telegram.Update{Message: &telegram.Message{
		Chat:     telegram.Chat{ID: 10},
		Document: &telegram.Document{FileID: "scan", MimeType: "image/png"},
	}}
	_ = h.bot.HandleUpdate(ctx, file)
	if h.api.last(t).text != msgFileQueued {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}
}

func TestStartCommand(t *testing.T) {
	h := newHarness(t, false)
	_ = h.bot.HandleUpdate(context.Background(), text("/start@waybill_bot"))
	if h.api.last(t).text != msgStart {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}
}

func TestConfirmWithoutCRM(t *testing.T) {
	h := newHarness(t, false)
	id := h.seed(t, models.StatusOcrOK)

	if err := h.bot.HandleUpdate(context.Background(), press("ok:1")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if len(h.api.answered) != 1 {
		t.Fatalf("callbacks must be acknowledged")
	}
	if h.api.last(t).text != "✅ Принято. Накладная #1 подтверждена." {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}
	doc, _ := h.svc.Get(context.Background(), id)
	if doc.Status != models.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", doc.Status)
	}
}

func TestConfirmDeliveryFailureThenRetry(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, models.StatusOcrOK)
	h.crm.err = errors.New("ACCESS_DENIED: no access")
	ctx := context.Background()

	_ = h.bot.HandleUpdate(ctx, press("ok:1"))
	if len(h.api.edited) != 1 {
		t.Fatalf("expected the result message to be edited")
	}
	edit := h.api.edited[0]
	if edit.messageID != 55 || !strings.HasSuffix(edit.text, "❌ Ошибка отправки в Битрикс: ACCESS_DENIED: no access") {
		t.Fatalf("unexpected edit %+v", edit)
	}
	if edit.kb[0][0].CallbackData != "retry:1" {
		t.Fatalf("expected retry keyboard, got %+v", edit.kb)
	}

	h.crm.err = nil
	_ = h.bot.HandleUpdate(ctx, press("retry:1"))
	edit = h.api.edited[1]
	if edit.text != "✅ Документ распознан (#1)\n\n✅ Отправлено в Битрикс24" || edit.kb[0][0].CallbackData != "noop" {
		t.Fatalf("unexpected edit %+v", edit)
	}
}

func TestEditFlow(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, models.StatusOcrOK)
	ctx := context.Background()

	_ = h.bot.HandleUpdate(ctx, press("edit:1"))
	if m := h.api.last(t); m.text != msgWhatToEdit || m.kb[0][0].CallbackData != "field:1:base_name" {
		t.Fatalf("unexpected reply %+v", m)
	}

	_ = h.bot.HandleUpdate(ctx, press("field:1:driver_name"))
	if h.api.last(t).text != "Введите ФИО водителя:" {
		t.Fatalf("unexpected prompt %q", h.api.last(t).text)
	}

	_ = h.bot.HandleUpdate(ctx, text("Сидоров Сидор"))
	m := h.api.last(t)
	if !strings.HasPrefix(m.text, msgEditSaved) || !strings.Contains(m.text, "Сидоров Сидор") {
		t.Fatalf("unexpected reply %q", m.text)
	}
	if m.kb[0][0].CallbackData != "ok:1" {
		t.Fatalf("expected main keyboard, got %+v", m.kb)
	}

	sent := len(h.api.sent)
	_ = h.bot.HandleUpdate(ctx, text("stray"))
	if len(h.api.sent) != sent {
		t.Fatalf("text without a pending edit must be ignored")
	}
}

func TestReshootThenEditRejected(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, models.StatusOcrError)
	ctx := context.Background()

	_ = h.bot.HandleUpdate(ctx, press("reshoot:1"))
	if !strings.HasPrefix(h.api.last(t).text, "📸 Ок. Переснимите накладную #1") {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}

	_ = h.bot.HandleUpdate(ctx, press("edit:1"))
	if !strings.Contains(h.api.last(t).text, "need_reshoot") {
		t.Fatalf("expected rejection, got %q", h.api.last(t).text)
	}
}

func TestCallbackErrors(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_ = h.bot.HandleUpdate(ctx, press("back:9"))
	if h.api.last(t).text != msgNotFound {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}
	_ = h.bot.HandleUpdate(ctx, press("ok:abc"))
	if h.api.last(t).text != msgBadID {
		t.Fatalf("unexpected reply %q", h.api.last(t).text)
	}

	sent := len(h.api.sent)
	_ = h.bot.HandleUpdate(ctx, press("noop"))
	if len(h.api.sent) != sent || len(h.api.answered) != 3 {
		t.Fatalf("noop must only be acknowledged")
	}
}

func TestRunAdvancesOffset(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.api.cancel = cancel
	h.api.updates = [][]telegram.Update{
		{{UpdateID: 7, Message: &telegram.Message{Chat: telegram.Chat{ID: 10}, Text: "/start"}}},
		{{UpdateID: 8, Message: &telegram.Message{Chat: telegram.Chat{ID: 10}, Text: "/start"}}},
	}

	if err := h.bot.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.api.offsets) < 3 || h.api.offsets[1] != 8 || h.api.offsets[2] != 9 {
		t.Fatalf("unexpected offsets %v", h.api.offsets)
	}
	if len(h.api.sent) != 2 {
		t.Fatalf("expected two replies, got %d", len(h.api.sent))
	}
}
