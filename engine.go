package goSession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/events"
	"github.com/MrEthical07/goSession/session"
)

// Engine owns a session store together with its expiry listener, sweeper and event
// dispatcher. Its methods are safe for concurrent use; the sessions it returns are not.
type Engine struct {
	config    Config
	store     *session.Store
	sweeper   *session.Sweeper
	scheduler session.Scheduler
	events    *events.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	started  bool
	closed   bool
	listener *session.ExpiryListener
	cancel   context.CancelFunc
	stop     func()
	wg       sync.WaitGroup
}

// NewSession returns an unsaved session with a fresh id.
func (e *Engine) NewSession() *session.Session {
	return e.store.NewSession()
}

// FindSession loads a live session. See [session.Store.FindSession].
func (e *Engine) FindSession(ctx context.Context, id string) (*session.Session, bool) {
	return e.store.FindSession(ctx, id)
}

// Save persists the changes made to s since it was loaded or last saved.
func (e *Engine) Save(ctx context.Context, s *session.Session) error {
	return e.store.Save(ctx, s)
}

// DeleteSession expires a session immediately and reports whether it existed.
func (e *Engine) DeleteSession(ctx context.Context, id string) (bool, error) {
	return e.store.DeleteSession(ctx, id)
}

// Store exposes the underlying session store.
func (e *Engine) Store() *session.Store { return e.store }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.config }

// Start enables keyspace notifications when configured, subscribes the expiry
// listener, and schedules the sweeper. A subscription failure aborts Start.
// The background work runs until [Engine.Close], independent of ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return ErrAlreadyStarted
	}

	if e.config.Session.EnableKeyspaceEvents {
		e.store.EnableKeyspaceEvents(ctx)
	}

	listener, err := e.store.Listen(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerStart, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.listener = listener
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		listener.Run(runCtx)
	}()

	e.stop = e.scheduler.Schedule(runCtx, e.config.Session.CheckExpiredSessionsInterval, func(ctx context.Context) {
		_, _ = e.sweeper.Sweep(ctx)
	})

	e.started = true
	e.logger.Info("session engine started",
		slog.String("namespace", e.store.Namespace()),
		slog.Duration("sweep_interval", e.config.Session.CheckExpiredSessionsInterval),
	)
	return nil
}

// Sweep runs one sweeper pass immediately.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.sweeper.Sweep(ctx)
}

// Close stops the listener and sweeper, waits for background writes, and flushes the
// event dispatcher. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	stop, cancel, listener := e.stop, e.cancel, e.listener
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			e.logger.Warn("closing expiry listener", slog.Any("error", err))
		}
	}
	e.wg.Wait()
	e.sweeper.Wait()
	e.store.Close()
	e.events.Close()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// EventsDropped returns how many events the dispatcher dropped because its buffer was
// full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.events.Dropped()
}

// EventSinkFailures returns how many events were lost because the sink panicked.
func (e *Engine) EventSinkFailures() uint64 {
	if e == nil {
		return 0
	}
	return e.events.Failed()
}
