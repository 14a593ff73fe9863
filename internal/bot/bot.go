package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/service/document"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/telegram"
)

const (
	msgStart         = "Отправьте фото/файл накладной (ТН/ТТН)."
	msgPhotoQueued   = "Фото принято. Поставил в очередь на распознавание."
	msgFileQueued    = "Файл-изображение принято. Поставил в очередь на распознавание."
	msgWhatToEdit    = "Что исправить?"
	msgNotFound      = "Документ не найден."
	msgBadID         = "❌ Некорректный doc_id"
	msgConfirmed     = "✅ Принято. Накладная #%d подтверждена."
	msgReshoot       = "📸 Ок. Переснимите накладную #%d и отправьте новое фото.\nСовет: без бликов, сверху, чтобы был виден низ с ФИО."
	msgEditSaved     = "✅ Сохранил исправление.\n\n"
	msgEditFailed    = "❌ Не смог сохранить: %v"
	msgSentSuffix    = "\n\n✅ Отправлено в Битрикс24"
	msgDeliverFailed = "\n\n❌ Ошибка отправки в Битрикс: %s"
	msgRejected      = "⚠️ Накладная #%d сейчас в статусе %s, действие недоступно."
	msgQueueDown     = "❌ Не удалось поставить фото в очередь, попробуйте ещё раз."

	defaultPollBackoff = 2 * time.Second
)

// Messenger is the part of the Bot API the front-end uses.
type Messenger interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, kb telegram.Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Enqueuer accepts photo tasks for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// callback is one parsed inline button press.
type callback struct {
	chatID    int64
	messageID int64
	text      string
	docID     int64
	field     string
}

type callbackHandler func(ctx context.Context, cb callback) error

// Bot turns chat updates into queued tasks and operator commands.
type Bot struct {
	api      Messenger
	ops      document.Operator
	tasks    Enqueuer
	logger   logger.Logger
	handlers map[string]callbackHandler
	backoff  time.Duration
}

func New(api Messenger, ops document.Operator, tasks Enqueuer, log logger.Logger) *Bot {
	b := &Bot{
		api:     api,
		ops:     ops,
		tasks:   tasks,
		logger:  log.Named("bot"),
		backoff: defaultPollBackoff,
	}
	b.registerHandlers()
	return b
}

func (b *Bot) registerHandlers() {
	b.handlers = map[string]callbackHandler{
		document.ActionConfirm: b.onConfirm,
		document.ActionRetry:   b.onRetry,
		document.ActionReshoot: b.onReshoot,
		document.ActionEdit:    b.onEdit,
		document.ActionBack:    b.onBack,
		document.ActionField:   b.onField,
	}
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started")
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			b.logger.Info("bot stopped")
			return nil
		}
		updates, err := b.api.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn("getUpdates failed", logger.Error(err))
			select {
			case <-time.After(b.backoff):
			case <-ctx.Done():
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if err := b.HandleUpdate(ctx, u); err != nil {
				b.logger.Error("update failed", logger.Int64("update_id", u.UpdateID), logger.Error(err))
			}
		}
	}
}

// HandleUpdate dispatches one update.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) error {
	switch {
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		return b.handleMessage(ctx, u.Message)
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) error {
	chatID := m.Chat.ID
	if fileID := m.ImageFileID(); fileID != "" {
		reply := msgPhotoQueued
		if len(m.Photo) == 0 {
			reply = msgFileQueued
		}
		if err := b.tasks.Enqueue(ctx, queue.NewPhotoTask(chatID, fileID)); err != nil {
			_ = b.api.SendMessage(ctx, chatID, msgQueueDown, nil)
			return fmt.Errorf("failed to enqueue photo: %w", err)
		}
		b.logger.Info("photo enqueued", logger.Int64("chat_id", chatID), logger.String("file_id", fileID))
		return b.api.SendMessage(ctx, chatID, reply, nil)
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		if command(text) == "/start" {
			return b.api.SendMessage(ctx, chatID, msgStart, nil)
		}
		return nil
	}
	return b.onText(ctx, chatID, text)
}

// command strips arguments and a @botname suffix.
func command(text string) string {
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}

func (b *Bot) onText(ctx context.Context, chatID int64, text string) error {
	doc, err := b.ops.ConsumeText(ctx, chatID, text)
	if err != nil {
		b.logger.Warn("edit not saved", logger.Int64("chat_id", chatID), logger.Error(err))
		return b.api.SendMessage(ctx, chatID, fmt.Sprintf(msgEditFailed, err), nil)
	}
	if doc == nil {
		return nil
	}
	rendered, err := b.ops.Render(ctx, doc.ID)
	if err != nil {
		return b.api.SendMessage(ctx, chatID, msgNotFound, nil)
	}
	return b.api.SendMessage(ctx, chatID, msgEditSaved+rendered, document.MainKeyboard(doc.ID))
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) error {
	if err := b.api.AnswerCallback(ctx, q.ID, ""); err != nil {
		b.logger.Debug("answerCallbackQuery failed", logger.Error(err))
	}

	cb := callback{chatID: q.From.ID}
	if q.Message != nil {
		cb.chatID = q.Message.Chat.ID
		cb.messageID = q.Message.MessageID
		cb.text = q.Message.Text
	}
	b.logger.Info("callback", logger.Int64("chat_id", cb.chatID), logger.String("data", q.Data))

	action, rest, _ := strings.Cut(q.Data, ":")
	handler, ok := b.handlers[action]
	if !ok {
		return nil
	}
	idPart, field, _ := strings.Cut(rest, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return b.api.SendMessage(ctx, cb.chatID, msgBadID, nil)
	}
	cb.docID, cb.field = id, field
	return handler(ctx, cb)
}

func (b *Bot) onConfirm(ctx context.Context, cb callback) error {
	doc, err := b.ops.Confirm(ctx, cb.docID)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	if doc.Status == models.StatusConfirmed {
		return b.api.SendMessage(ctx, cb.chatID, fmt.Sprintf(msgConfirmed, doc.ID), nil)
	}
	return b.reportDelivery(ctx, cb, doc)
}

func (b *Bot) onRetry(ctx context.Context, cb callback) error {
	doc, err := b.ops.RetryDelivery(ctx, cb.docID)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	return b.reportDelivery(ctx, cb, doc)
}

// reportDelivery appends the delivery outcome to the message the button was on.
func (b *Bot) reportDelivery(ctx context.Context, cb callback, doc *models.Document) error {
	text, kb := cb.text+msgSentSuffix, document.SentKeyboard()
	if doc.Status == models.StatusDeliveryError {
		text, kb = cb.text+fmt.Sprintf(msgDeliverFailed, doc.Delivery.Error), document.RetryKeyboard(doc.ID)
	}
	if cb.messageID == 0 {
		return b.api.SendMessage(ctx, cb.chatID, strings.TrimSpace(text), kb)
	}
	return b.api.EditMessageText(ctx, cb.chatID, cb.messageID, text, kb)
}

func (b *Bot) onReshoot(ctx context.Context, cb callback) error {
	if _, err := b.ops.RequestReshoot(ctx, cb.docID); err != nil {
		return b.replyError(ctx, cb, err)
	}
	return b.api.SendMessage(ctx, cb.chatID, fmt.Sprintf(msgReshoot, cb.docID), nil)
}

func (b *Bot) onEdit(ctx context.Context, cb callback) error {
	doc, err := b.ops.Get(ctx, cb.docID)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	if !models.CanTransition(doc.Status, models.StatusEdited) {
		return b.replyError(ctx, cb, &models.TransitionError{DocumentID: doc.ID, From: doc.Status, To: models.StatusEdited})
	}
	return b.api.SendMessage(ctx, cb.chatID, msgWhatToEdit, document.EditKeyboard(cb.docID))
}

func (b *Bot) onBack(ctx context.Context, cb callback) error {
	doc, err := b.ops.Get(ctx, cb.docID)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	rendered, err := b.ops.Render(ctx, cb.docID)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	return b.api.SendMessage(ctx, cb.chatID, rendered, document.KeyboardFor(doc))
}

func (b *Bot) onField(ctx context.Context, cb callback) error {
	prompt, err := b.ops.RequestEdit(ctx, cb.chatID, cb.docID, cb.field)
	if err != nil {
		return b.replyError(ctx, cb, err)
	}
	return b.api.SendMessage(ctx, cb.chatID, prompt, nil)
}

// replyError tells the operator why a command did nothing. Only unexpected
// failures are returned to the caller.
func (b *Bot) replyError(ctx context.Context, cb callback, err error) error {
	var te *models.TransitionError
	switch {
	case errors.Is(err, models.ErrDocumentNotFound):
		return b.api.SendMessage(ctx, cb.chatID, msgNotFound, nil)
	case errors.As(err, &te):
		return b.api.SendMessage(ctx, cb.chatID, fmt.Sprintf(msgRejected, te.DocumentID, te.From), nil)
	case errors.Is(err, models.ErrUnknownField):
		return b.api.SendMessage(ctx, cb.chatID, msgWhatToEdit, document.EditKeyboard(cb.docID))
	}
	_ = b.api.SendMessage(ctx, cb.chatID, fmt.Sprintf(msgEditFailed, err), nil)
	return err
}
