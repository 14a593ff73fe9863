package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/pkg/logger"
	"github.com/feichai0017/waybill-processor/pkg/metrics"
)

// Delivery status values recorded on the document.
const (
	DeliverySent  = "sent"
	DeliveryError = "error"
)

// DeliveryResult is the outcome of one CRM delivery attempt.
type DeliveryResult struct {
	Payload  map[string]any
	Response map[string]any
	Err      error
}

// StateMachine owns every status change of a document. Each operation is a
// single locked read-modify-write through the repository.
type StateMachine struct {
	repo    repository.DocumentRepository
	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

func NewStateMachine(repo repository.DocumentRepository, m *metrics.Metrics, log logger.Logger) *StateMachine {
	return &StateMachine{repo: repo, metrics: m, logger: log.Named("state"), now: time.Now}
}

// Create registers a freshly downloaded photo in status received.
func (sm *StateMachine) Create(ctx context.Context, chatID int64, fileID, photoPath string) (int64, error) {
	id, err := sm.repo.InsertReceived(ctx, chatID, fileID, photoPath)
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}
	sm.metrics.Transition(string(models.StatusReceived))
	return id, nil
}

// RecordOCR stores the extraction outcome and moves received to ocr_ok or ocr_error.
func (sm *StateMachine) RecordOCR(ctx context.Context, id int64, out models.Outcome) (*models.Document, error) {
	if out.Status != models.StatusOcrOK && out.Status != models.StatusOcrError {
		return nil, fmt.Errorf("extraction outcome must be %s or %s, got %s", models.StatusOcrOK, models.StatusOcrError, out.Status)
	}
	return sm.move(ctx, id, out.Status, func(d *models.Document) error {
		d.Fields = out.Fields
		d.Raw = out.Raw
		d.Confidence = models.Clamp01(out.Confidence)
		d.Reason = out.Reason
		return nil
	})
}

// Transition sets a new status. A non-empty reason replaces the stored one.
func (sm *StateMachine) Transition(ctx context.Context, id int64, to models.Status, reason string) (*models.Document, error) {
	return sm.move(ctx, id, to, func(d *models.Document) error {
		if reason != "" {
			d.Reason = reason
		}
		return nil
	})
}

// UpdateField applies one operator correction and marks the document edited.
// An unknown id is a no-op returning nil, nil; callers look the document up first.
func (sm *StateMachine) UpdateField(ctx context.Context, id int64, p models.Patch) (*models.Document, error) {
	doc, err := sm.move(ctx, id, models.StatusEdited, func(d *models.Document) error {
		d.Fields = models.ApplyPatch(d.Fields, p)
		return nil
	})
	if errors.Is(err, models.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sm.logger.Info("field patched",
		logger.Int64("doc_id", id),
		logger.String("field", p.Field.String()),
	)
	return doc, nil
}

// SetConfirmed moves ocr_ok or edited to confirmed and stamps confirmed_at.
func (sm *StateMachine) SetConfirmed(ctx context.Context, id int64) (*models.Document, error) {
	return sm.move(ctx, id, models.StatusConfirmed, func(d *models.Document) error {
		at := sm.now()
		d.ConfirmedAt = &at
		return nil
	})
}

// SetDeliveryResult records a delivery attempt and moves to sent or delivery_error.
// A repeated failure overwrites the previous error.
func (sm *StateMachine) SetDeliveryResult(ctx context.Context, id int64, res DeliveryResult) (*models.Document, error) {
	payload, err := marshalMap(res.Payload)
	if err != nil {
		return nil, err
	}
	response, err := marshalMap(res.Response)
	if err != nil {
		return nil, err
	}

	to := models.StatusSent
	if res.Err != nil {
		to = models.StatusDeliveryError
	}
	return sm.move(ctx, id, to, func(d *models.Document) error {
		d.Delivery.Payload = payload
		d.Delivery.Response = response
		if res.Err != nil {
			d.Delivery.Status = DeliveryError
			d.Delivery.Error = res.Err.Error()
			return nil
		}
		at := sm.now()
		d.Delivery.Status = DeliverySent
		d.Delivery.Error = ""
		d.Delivery.SentAt = &at
		return nil
	})
}

func (sm *StateMachine) move(ctx context.Context, id int64, to models.Status, fn repository.MutateFunc) (*models.Document, error) {
	var from models.Status
	doc, err := sm.repo.Update(ctx, id, func(d *models.Document) error {
		from = d.Status
		if !models.CanTransition(d.Status, to) {
			return &models.TransitionError{DocumentID: id, From: d.Status, To: to}
		}
		if err := fn(d); err != nil {
			return err
		}
		d.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.metrics.Transition(string(to))
	sm.logger.Info("document transitioned",
		logger.Int64("doc_id", id),
		logger.String("from", string(from)),
		logger.String("status", string(to)),
	)
	return doc, nil
}

func marshalMap(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery record: %w", err)
	}
	return raw, nil
}
