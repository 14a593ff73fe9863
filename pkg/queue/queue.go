package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/waybill-processor/config"
)

const (
	TaskTypePhoto   = "photo"
	DefaultQueueKey = "tasks"
)

// ErrEmpty is returned by Dequeue when the poll timeout elapses without a task.
var ErrEmpty = errors.New("queue empty")

// Queue is an at-least-once task queue without deduplication.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
}

// Task is the wire message pushed by the messaging front-end.
type Task struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
	FileID string `json:"file_id"`
}

// NewPhotoTask builds the task for a freshly received waybill photo.
func NewPhotoTask(chatID int64, fileID string) *Task {
	return &Task{Type: TaskTypePhoto, ChatID: chatID, FileID: fileID}
}

// RedisQueue pushes JSON tasks onto a Redis list and pops them with BLPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// FromConfig connects to Redis and returns the queue on the configured list.
func FromConfig(ctx context.Context, cfg config.RedisConfig) (*RedisQueue, *redis.Client, error) {
	client, err := NewRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisQueue(client, cfg.QueueKey), client, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. A malformed payload is
// returned as an error; the message is already removed from the list.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %q: %w", res[1], err)
	}
	return &task, nil
}

// IsConnectionError reports whether err means the Redis connection was lost.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Len reports the number of waiting tasks.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// MemoryQueue is a channel-backed twin used by tests and local runs.
type MemoryQueue struct {
	tasks chan *Task
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{tasks: make(chan *Task, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t := <-q.tasks:
		return t, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
