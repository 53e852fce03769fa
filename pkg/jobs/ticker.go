package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one run of a periodic task.
type TickFunc func(ctx context.Context) error

// Ticker invokes a TickFunc on a fixed interval. A run that is still in flight
// when the next tick fires causes that tick to be skipped, never overlapped.
type Ticker struct {
	name     string
	interval time.Duration
	fn       TickFunc
	logger   *zap.Logger

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewTicker builds a ticker. interval <= 0 defaults to one minute.
func NewTicker(name string, interval time.Duration, fn TickFunc, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{name: name, interval: interval, fn: fn, logger: logger.With(zap.String("ticker", name))}
}

// Start launches the loop. An immediate run happens before the first interval elapses.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	t.wg.Add(1)
	go t.loop(ctx)
	t.logger.Info("ticker started", zap.Duration("interval", t.interval))
}

// Stop halts the loop and waits for an in-flight run to finish or ctx to expire.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("ticker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the task unless a run is already in flight. It reports whether
// the task actually ran.
func (t *Ticker) RunOnce(ctx context.Context) (bool, error) {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Debug("tick skipped, previous run still in flight")
		return false, nil
	}
	defer t.inFlight.Store(false)

	start := time.Now()
	err := t.fn(ctx)
	if err != nil {
		t.logger.Error("tick failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return true, err
	}
	t.logger.Debug("tick completed", zap.Duration("elapsed", time.Since(start)))
	return true, nil
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	_, _ = t.RunOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = t.RunOnce(ctx)
		}
	}
}
