package repository

import (
	"context"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// MutateFunc changes a locked document in place. Returning an error aborts the update.
type MutateFunc func(doc *models.Document) error

// DocumentRepository persists transport documents.
type DocumentRepository interface {
	InsertReceived(ctx context.Context, chatID int64, fileID, photoPath string) (int64, error)
	// Get returns models.ErrDocumentNotFound for an unknown id.
	Get(ctx context.Context, id int64) (*models.Document, error)
	// Update performs an atomic read-modify-write of one document.
	Update(ctx context.Context, id int64, fn MutateFunc) (*models.Document, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Document, error)
}

// BaseRepository persists the canonical base directory.
type BaseRepository interface {
	Upsert(ctx context.Context, key, canonicalName, city string) (*models.BaseEntry, error)
	Get(ctx context.Context, key string) (*models.BaseEntry, error)
}

// ListFilter narrows List. Zero values mean no constraint; Limit defaults to 1000.
type ListFilter struct {
	Statuses []models.Status
	From     time.Time
	To       time.Time
	Limit    int
}

const defaultListLimit = 1000

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(doc *models.Document) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if doc.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.From.IsZero() && doc.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !doc.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
