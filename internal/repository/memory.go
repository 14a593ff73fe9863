package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/feichai0017/waybill-processor/internal/models"
)

// MemoryDocumentRepo is an in-memory DocumentRepository.
type MemoryDocumentRepo struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[int64]*models.Document
	now    func() time.Time
}

func NewMemoryDocumentRepo() *MemoryDocumentRepo {
	return &MemoryDocumentRepo{
		docs: make(map[int64]*models.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryDocumentRepo) InsertReceived(ctx context.Context, chatID int64, fileID, photoPath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := r.now()
	r.docs[r.nextID] = &models.Document{
		ID:        r.nextID,
		ChatID:    chatID,
		FileID:    fileID,
		PhotoPath: photoPath,
		Status:    models.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.nextID, nil
}

func (r *MemoryDocumentRepo) Get(ctx context.Context, id int64) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	return cloneDocument(doc)
}

// Update applies fn to a copy and stores it only when fn succeeds.
func (r *MemoryDocumentRepo) Update(ctx context.Context, id int64, fn MutateFunc) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	doc, err := cloneDocument(current)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	doc.ID = id
	doc.UpdatedAt = r.now()
	r.docs[id] = doc
	return cloneDocument(doc)
}

func (r *MemoryDocumentRepo) List(ctx context.Context, filter ListFilter) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Document
	for _, doc := range r.docs {
		if !filter.matches(doc) {
			continue
		}
		c, err := cloneDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

// cloneDocument deep-copies through JSON so callers never share field pointers with the store.
func cloneDocument(doc *models.Document) (*models.Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out models.Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MemoryBaseRepo is an in-memory BaseRepository.
type MemoryBaseRepo struct {
	mu      sync.Mutex
	entries map[string]models.BaseEntry
}

func NewMemoryBaseRepo() *MemoryBaseRepo {
	return &MemoryBaseRepo{entries: make(map[string]models.BaseEntry)}
}

func (r *MemoryBaseRepo) Upsert(ctx context.Context, key, canonicalName, city string) (*models.BaseEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if ok {
		e.ExamplesCount++
	} else {
		e = models.BaseEntry{Key: key, CanonicalName: canonicalName, City: city, ExamplesCount: 1}
	}
	e.LastSeen = time.Now().UTC()
	r.entries[key] = e
	return &e, nil
}

func (r *MemoryBaseRepo) Get(ctx context.Context, key string) (*models.BaseEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, ErrBaseNotFound
	}
	return &e, nil
}
