package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper runs unless configured otherwise.
	DefaultSweepInterval = time.Minute
	sweepWindow          = time.Minute
	touchTimeout         = 5 * time.Second
)

// Sweeper reads the expiry marker of every session expiring within a minute of now.
// The reads only touch the keys so the server notices expirations promptly; results
// are discarded and nothing is written.
type Sweeper struct {
	store   *Store
	touches sync.WaitGroup
}

// NewSweeper returns a sweeper for store.
func NewSweeper(store *Store) *Sweeper {
	return &Sweeper{store: store}
}

// Sweep runs one pass and returns how many touches it issued. The touches themselves
// run in the background.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	st := w.store
	st.recorder.Inc(CounterSweepRun)

	now := st.now()
	min := float64(now.Add(-sweepWindow).UnixMilli())
	max := float64(now.Add(sweepWindow).UnixMilli())

	ids, err := st.client.ZRangeByScore(ctx, st.activeKey, min, max)
	if err != nil {
		st.logger.WarnContext(ctx, "expiry sweep query failed", slog.Any("error", err))
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, id := range ids {
		key, err := st.expiryKey(id)
		if err != nil {
			st.bestEffortFailed("sweep key encoding", id, err)
			continue
		}
		st.recorder.Inc(CounterSweepTouched)
		w.touches.Add(1)
		go func(id, key string) {
			defer w.touches.Done()
			tctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
			defer cancel()
			if _, err := st.client.Get(tctx, key); err != nil {
				st.bestEffortFailed("sweep touch", id, err)
			}
		}(id, key)
	}
	return len(ids), nil
}

// Wait blocks until every touch issued so far has finished.
func (w *Sweeper) Wait() {
	w.touches.Wait()
}

// Scheduler runs a task at a fixed rate. Schedule must not block; the returned stop
// function cancels the task and waits for a running invocation to finish.
type Scheduler interface {
	Schedule(ctx context.Context, interval time.Duration, task func(context.Context)) (stop func())
}

// TickerScheduler runs tasks on a [time.Ticker] in a dedicated goroutine.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(ctx context.Context, interval time.Duration, task func(context.Context)) func() {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				task(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
