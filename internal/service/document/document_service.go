package document

import (
	"context"

	"github.com/feichai0017/waybill-processor/internal/agent/extraction"
	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/repository"
	"github.com/feichai0017/waybill-processor/internal/utils/validator"
	"github.com/feichai0017/waybill-processor/pkg/crm/bitrix"
	"github.com/feichai0017/waybill-processor/pkg/queue"
	"github.com/feichai0017/waybill-processor/pkg/telegram"
)

// Operator is the command surface shared by the chat bot and the HTTP API.
type Operator interface {
	Get(ctx context.Context, id int64) (*models.Document, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*models.Document, error)
	Render(ctx context.Context, id int64) (string, error)
	Confirm(ctx context.Context, id int64) (*models.Document, error)
	RequestEdit(ctx context.Context, chatID, id int64, field string) (string, error)
	SubmitEdit(ctx context.Context, id int64, field, value string) (*models.Document, error)
	ConsumeText(ctx context.Context, chatID int64, text string) (*models.Document, error)
	RequestReshoot(ctx context.Context, id int64) (*models.Document, error)
	RetryDelivery(ctx context.Context, id int64) (*models.Document, error)
}

// TaskHandler runs the photo pipeline for one queued task.
type TaskHandler interface {
	HandlePhotoTask(ctx context.Context, task *queue.Task) error
}

// Extractor turns a photo into merged fields.
type Extractor interface {
	ExtractFile(ctx context.Context, path, dumpDir string) (*extraction.Result, error)
}

// MediaFetcher downloads a chat attachment and returns the local path.
type MediaFetcher interface {
	Download(ctx context.Context, fileID string) (string, error)
}

// Notifier sends a message to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error
}

// Deliverer posts a confirmed waybill to the CRM.
type Deliverer interface {
	Deliver(ctx context.Context, text, photoPath string) (*bitrix.Result, error)
}

// Renderer turns a document into operator and CRM text.
type Renderer interface {
	Render(ctx context.Context, doc *models.Document) string
	RenderDelivery(ctx context.Context, doc *models.Document) string
}

// PhotoChecker rejects files that cannot be a waybill photo.
type PhotoChecker interface {
	ValidateFile(path string) (*validator.PhotoResult, error)
}
