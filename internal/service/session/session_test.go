package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

func TestMemoryStoreLastRequestWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute, 10)

	if err := s.Begin(ctx, 7, Pending{DocumentID: 1, Field: "driver_name"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Begin(ctx, 7, Pending{DocumentID: 2, Field: "weight_kg"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	p, err := s.Consume(ctx, 7)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if p == nil || p.DocumentID != 2 || p.Field != "weight_kg" {
		t.Fatalf("expected latest pending edit, got %+v", p)
	}

	p, err = s.Consume(ctx, 7)
	if err != nil || p != nil {
		t.Fatalf("consume must clear the session, got %+v %v", p, err)
	}
}

func TestMemoryStoreNoSession(t *testing.T) {
	s := NewMemoryStore(0, 0)
	p, err := s.Consume(context.Background(), 99)
	if err != nil || p != nil {
		t.Fatalf("expected nil, nil; got %+v %v", p, err)
	}
}

func TestMemoryStoreConversationsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute, 10)
	_ = s.Begin(ctx, 1, Pending{DocumentID: 10, Field: "base_name"})
	_ = s.Begin(ctx, 2, Pending{DocumentID: 20, Field: "loading_date"})

	p, _ := s.Consume(ctx, 2)
	if p == nil || p.DocumentID != 20 {
		t.Fatalf("unexpected session for 2: %+v", p)
	}
	p, _ = s.Consume(ctx, 1)
	if p == nil || p.DocumentID != 10 {
		t.Fatalf("unexpected session for 1: %+v", p)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(20*time.Millisecond, 10)

	_ = s.Begin(ctx, 1, Pending{DocumentID: 5, Field: "driver_name"})
	time.Sleep(60 * time.Millisecond)

	p, err := s.Consume(ctx, 1)
	if err != nil || p != nil {
		t.Fatalf("expired session must be dropped, got %+v %v", p, err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry must be removed, %d left", s.Len())
	}

	_ = s.Begin(ctx, 2, Pending{DocumentID: 6, Field: "weight_kg"})
	if p, _ := s.Consume(ctx, 2); p == nil || p.DocumentID != 6 {
		t.Fatalf("fresh session must be returned, got %+v", p)
	}
}

func TestMemoryStoreConsumeIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute, 10)
	_ = s.Begin(ctx, 1, Pending{DocumentID: 7, Field: "product_type"})

	var wg sync.WaitGroup
	var got atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p, _ := s.Consume(ctx, 1); p != nil {
				got.Add(1)
			}
		}()
	}
	wg.Wait()
	if got.Load() != 1 {
		t.Fatalf("exactly one consumer must receive the session, got %d", got.Load())
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute, 2)
	for i := int64(1); i <= 3; i++ {
		_ = s.Begin(ctx, i, Pending{DocumentID: i, Field: "product_type"})
	}
	if s.Len() != 2 {
		t.Fatalf("expected bound of 2, got %d", s.Len())
	}
	if p, _ := s.Consume(ctx, 1); p != nil {
		t.Fatalf("oldest session must be evicted, got %+v", p)
	}
	if p, _ := s.Consume(ctx, 3); p == nil || p.DocumentID != 3 {
		t.Fatalf("newest session must survive, got %+v", p)
	}
}

func TestNewFallsBackToMemory(t *testing.T) {
	s := New(config.SessionConfig{Backend: "redis"}, nil, logger.NewNop())
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected memory store without a redis client, got %T", s)
	}
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx,
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer client.Close()

	s := NewRedisStore(client, time.Minute, logger.NewNop())
	if err := s.Begin(ctx, 42, Pending{DocumentID: 1, Field: "driver_name"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Begin(ctx, 42, Pending{DocumentID: 3, Field: "weight_kg"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ttl, err := client.TTL(ctx, "edit:42").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected expiry on session key, got %v %v", ttl, err)
	}

	p, err := s.Consume(ctx, 42)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if p == nil || p.DocumentID != 3 || p.Field != "weight_kg" {
		t.Fatalf("unexpected pending edit %+v", p)
	}
	if p, err := s.Consume(ctx, 42); err != nil || p != nil {
		t.Fatalf("second consume must be empty, got %+v %v", p, err)
	}
}
