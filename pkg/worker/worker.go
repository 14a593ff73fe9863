package worker

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/waybill-processor/config"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

const (
	defaultPollTimeout      = 10 * time.Second
	defaultReconnectBackoff = 2 * time.Second
	defaultErrorBackoff     = time.Second
	defaultSweepInterval    = 24 * time.Hour
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	PollTimeout      time.Duration
	ReconnectBackoff time.Duration
	ErrorBackoff     time.Duration
	Concurrency      int

	// Archive retention; zero disables the sweep.
	ArchivePrefix string
	Retention     time.Duration
	SweepInterval time.Duration
}

// ConfigFrom derives the worker settings from the process configuration.
func ConfigFrom(cfg *config.Config) *Config {
	return &Config{
		PollTimeout:      cfg.Redis.PollTimeout,
		ReconnectBackoff: cfg.Redis.ReconnectBackoff,
		ErrorBackoff:     cfg.Redis.ErrorBackoff,
		Concurrency:      1,
		ArchivePrefix:    cfg.Storage.Prefix,
		Retention:        cfg.Storage.Retention,
	}
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = defaultPollTimeout
	}
	if out.ReconnectBackoff <= 0 {
		out.ReconnectBackoff = defaultReconnectBackoff
	}
	if out.ErrorBackoff <= 0 {
		out.ErrorBackoff = defaultErrorBackoff
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = defaultSweepInterval
	}
	return &out
}

type BaseWorker struct {
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newBaseWorker(log logger.Logger) BaseWorker {
	return BaseWorker{
		logger:   log,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Stop asks the worker to finish its current task and waits for it to exit.
func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
	return nil
}

// stoppable returns a context cancelled by either ctx or Stop.
func (w *BaseWorker) stoppable(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
