package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultMaxEntries = 10000
	keyPrefix         = "edit:"
)

// Pending is the document field a conversation is expected to correct next.
type Pending struct {
	DocumentID int64  `json:"doc_id"`
	Field      string `json:"field"`
}

// Store tracks at most one pending edit per conversation.
type Store interface {
	// Begin replaces any pending edit for conversation.
	Begin(ctx context.Context, conversation int64, p Pending) error
	// Consume returns and clears the pending edit. It returns nil, nil when none is pending.
	Consume(ctx context.Context, conversation int64) (*Pending, error)
}

// New builds the store selected by cfg.Backend. A nil client forces the memory backend.
func New(cfg config.SessionConfig, client *redis.Client, log logger.Logger) Store {
	if cfg.Backend == "redis" && client != nil {
		return NewRedisStore(client, cfg.TTL, log)
	}
	return NewMemoryStore(cfg.TTL, cfg.MaxEntries)
}

// RedisStore keeps sessions in Redis so several front-end instances can share them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, logger: log.Named("session")}
}

func redisKey(conversation int64) string {
	return keyPrefix + strconv.FormatInt(conversation, 10)
}

func (s *RedisStore) Begin(ctx context.Context, conversation int64, p Pending) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(conversation), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	s.logger.Debug("edit session started",
		logger.Int64("chat_id", conversation),
		logger.Int64("doc_id", p.DocumentID),
		logger.String("field", p.Field),
	)
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, conversation int64) (*Pending, error) {
	raw, err := s.client.GetDel(ctx, redisKey(conversation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &p, nil
}

// MemoryStore is a process-local store bounded by entry count; the least
// recently started session is evicted once the bound is reached.
type MemoryStore struct {
	mu      sync.Mutex
	entries *expirable.LRU[int64, Pending]
}

func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{entries: expirable.NewLRU[int64, Pending](maxEntries, nil, ttl)}
}

func (s *MemoryStore) Begin(_ context.Context, conversation int64, p Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// re-adding resets both the TTL and the recency of the conversation
	s.entries.Remove(conversation)
	s.entries.Add(conversation, p)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, conversation int64) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries.Peek(conversation)
	s.entries.Remove(conversation)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Len reports the number of held sessions, expired ones not yet purged included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}
