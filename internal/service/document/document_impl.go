package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/service/session"
	"github.com/feichai0017/waybill-processor/internal/utils/validator"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/metrics"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/storage"
)

// Task outcomes reported to metrics.
const (
	outcomeIgnored = "ignored"
	outcomeFailed  = "failed"
)

type ServiceConfig struct {
	MinConfidence float64
	VariantDir    string
	ArchivePrefix string
}

// Deps are the collaborators of DocumentService. CRM, Photos and Archive are optional.
type Deps struct {
	Repo      repository.DocumentRepository
	Extractor Extractor
	Media     MediaFetcher
	Notifier  Notifier
	Renderer  Renderer
	Sessions  session.Store
	CRM       Deliverer
	Photos    PhotoChecker
	Archive   storage.Storage
	Metrics   *metrics.Metrics
}

type DocumentService struct {
	deps   Deps
	state  *StateMachine
	config *ServiceConfig
	logger logger.Logger
	now    func() time.Time
}

var (
	_ Operator    = (*DocumentService)(nil)
	_ TaskHandler = (*DocumentService)(nil)
)

func NewService(deps Deps, cfg *ServiceConfig, log logger.Logger) *DocumentService {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = validator.DefaultMinConfidence
	}
	log = log.Named("document")
	return &DocumentService{
		deps:   deps,
		state:  NewStateMachine(deps.Repo, deps.Metrics, log),
		config: cfg,
		logger: log,
		now:    time.Now,
	}
}

// StateMachine exposes the underlying state machine.
func (s *DocumentService) StateMachine() *StateMachine { return s.state }

// HandlePhotoTask downloads, extracts, validates, records and reports one photo.
// Extraction failures end in ocr_error and are not returned; download, store and
// notify failures are.
func (s *DocumentService) HandlePhotoTask(ctx context.Context, task *queue.Task) error {
	if task == nil || task.Type != queue.TaskTypePhoto {
		s.deps.Metrics.TaskProcessed(outcomeIgnored)
		return nil
	}
	log := s.logger.With(logger.Int64("chat_id", task.ChatID), logger.String("file_id", task.FileID))
	if task.FileID == "" {
		s.deps.Metrics.TaskProcessed(outcomeIgnored)
		log.Warn("photo task without file id")
		return nil
	}

	path, err := s.deps.Media.Download(ctx, task.FileID)
	if err != nil {
		s.deps.Metrics.TaskProcessed(outcomeFailed)
		return fmt.Errorf("failed to download %s: %w", task.FileID, err)
	}

	id, err := s.state.Create(ctx, task.ChatID, task.FileID, path)
	if err != nil {
		s.deps.Metrics.TaskProcessed(outcomeFailed)
		return err
	}
	log = log.With(logger.Int64("doc_id", id))
	log.Info("document received", logger.String("path", path))

	s.archive(ctx, task.FileID, path, log)

	out := s.extract(ctx, path, log)
	doc, err := s.state.RecordOCR(ctx, id, out)
	if err != nil {
		s.deps.Metrics.TaskProcessed(outcomeFailed)
		return fmt.Errorf("failed to record extraction for document %d: %w", id, err)
	}
	s.deps.Metrics.TaskProcessed(string(doc.Status))
	log.Info("document recognised",
		logger.String("status", string(doc.Status)),
		logger.Float64("confidence", doc.Confidence),
		logger.String("reason", doc.Reason),
	)

	text := s.deps.Renderer.Render(ctx, doc)
	if err := s.deps.Notifier.SendMessage(ctx, task.ChatID, text, MainKeyboard(id)); err != nil {
		return fmt.Errorf("failed to notify chat %d: %w", task.ChatID, err)
	}
	return nil
}

// extract runs the photo check, the extraction engine and the validation gate.
func (s *DocumentService) extract(ctx context.Context, path string, log logger.Logger) models.Outcome {
	if s.deps.Photos != nil {
		res, err := s.deps.Photos.ValidateFile(path)
		if err != nil {
			return models.Outcome{Status: models.StatusOcrError, Reason: err.Error()}
		}
		if !res.IsValid {
			return models.Outcome{Status: models.StatusOcrError, Reason: "Фото не прошло проверку: " + res.Summary()}
		}
	}

	result, err := s.deps.Extractor.ExtractFile(ctx, path, s.config.VariantDir)
	if err != nil {
		log.Error("extraction failed", logger.Error(err))
		return models.Outcome{Status: models.StatusOcrError, Reason: err.Error()}
	}

	verdict := validator.Validate(result.Fields, s.config.MinConfidence)
	return models.Outcome{
		Fields:     result.Fields,
		Raw:        result.Raw,
		Confidence: verdict.Confidence,
		Status:     verdict.Status(),
		Reason:     verdict.Reason,
	}
}

func (s *DocumentService) archive(ctx context.Context, fileID, path string, log logger.Logger) {
	if s.deps.Archive == nil {
		return
	}
	key, err := storage.Archive(ctx, s.deps.Archive, s.config.ArchivePrefix, fileID, path, s.now())
	if err != nil {
		log.Warn("photo archive failed", logger.Error(err))
		return
	}
	log.Debug("photo archived", logger.String("key", key))
}

func (s *DocumentService) Get(ctx context.Context, id int64) (*models.Document, error) {
	return s.deps.Repo.Get(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, filter repository.ListFilter) ([]*models.Document, error) {
	return s.deps.Repo.List(ctx, filter)
}

func (s *DocumentService) Render(ctx context.Context, id int64) (string, error) {
	doc, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.deps.Renderer.Render(ctx, doc), nil
}

// Confirm marks the document confirmed and, when a CRM is configured, delivers it.
// A failed delivery is recorded on the document rather than returned.
func (s *DocumentService) Confirm(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := s.state.SetConfirmed(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.deps.CRM == nil {
		return doc, nil
	}
	return s.deliver(ctx, doc)
}

// RetryDelivery re-sends a document whose previous delivery failed.
func (s *DocumentService) RetryDelivery(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(doc.Status, models.StatusSent) {
		return nil, &models.TransitionError{DocumentID: id, From: doc.Status, To: models.StatusSent}
	}
	if s.deps.CRM == nil {
		return nil, errors.New("crm delivery is not configured")
	}
	return s.deliver(ctx, doc)
}

func (s *DocumentService) deliver(ctx context.Context, doc *models.Document) (*models.Document, error) {
	text := s.deps.Renderer.RenderDelivery(ctx, doc)
	res, err := s.deps.CRM.Deliver(ctx, text, doc.PhotoPath)

	record := DeliveryResult{Err: err}
	if res != nil {
		record.Payload, record.Response = res.Payload, res.Response
	}
	if err != nil {
		s.deps.Metrics.Delivery(DeliveryError)
		s.logger.Warn("delivery failed", logger.Int64("doc_id", doc.ID), logger.Error(err))
	} else {
		s.deps.Metrics.Delivery(DeliverySent)
	}
	return s.state.SetDeliveryResult(ctx, doc.ID, record)
}

// RequestEdit opens a correction session for field and returns the prompt to show.
func (s *DocumentService) RequestEdit(ctx context.Context, chatID, id int64, field string) (string, error) {
	if strings.TrimSpace(field) == "" {
		return "", models.ErrUnknownField
	}
	doc, err := s.deps.Repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !models.CanTransition(doc.Status, models.StatusEdited) {
		return "", &models.TransitionError{DocumentID: id, From: doc.Status, To: models.StatusEdited}
	}

	f := models.ParseField(field)
	if err := s.deps.Sessions.Begin(ctx, chatID, session.Pending{DocumentID: id, Field: f.String()}); err != nil {
		return "", err
	}
	return FieldPrompt(f), nil
}

// SubmitEdit applies a correction directly.
func (s *DocumentService) SubmitEdit(ctx context.Context, id int64, field, value string) (*models.Document, error) {
	if strings.TrimSpace(field) == "" {
		return nil, models.ErrUnknownField
	}
	if _, err := s.deps.Repo.Get(ctx, id); err != nil {
		return nil, err
	}
	doc, err := s.state.UpdateField(ctx, id, models.Patch{Field: models.ParseField(field), Value: value})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, models.ErrDocumentNotFound
	}
	return doc, nil
}

// ConsumeText applies free text to the pending correction of the chat.
// Without a pending correction the text is dropped and nil, nil is returned.
func (s *DocumentService) ConsumeText(ctx context.Context, chatID int64, text string) (*models.Document, error) {
	p, err := s.deps.Sessions.Consume(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.logger.Debug("text without pending edit dropped", logger.Int64("chat_id", chatID))
		return nil, nil
	}
	return s.SubmitEdit(ctx, p.DocumentID, p.Field, text)
}

// RequestReshoot retires the document; a new photo starts a new document.
func (s *DocumentService) RequestReshoot(ctx context.Context, id int64) (*models.Document, error) {
	return s.state.Transition(ctx, id, models.StatusNeedReshoot, "")
}
