// Package worker runs the periodic maintenance sweep that finishes events
// whose end date has passed.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
)

// ErrAlreadyRunning is returned by Start on a running worker.
var ErrAlreadyRunning = errors.New("finish worker already running")

// Finisher moves every event that ended before now to FINISHED.
type Finisher interface {
	AutoFinish(ctx context.Context, now time.Time) (int, error)
}

// FinishWorkerConfig holds the sweep settings.
type FinishWorkerConfig struct {
	Interval time.Duration
	// RunTimeout bounds a single sweep.
	RunTimeout time.Duration
}

// DefaultFinishWorkerConfig returns the default sweep settings.
func DefaultFinishWorkerConfig() *FinishWorkerConfig {
	return &FinishWorkerConfig{
		Interval:   time.Minute,
		RunTimeout: 30 * time.Second,
	}
}

// FinishWorkerStats reports what the worker has done so far.
type FinishWorkerStats struct {
	IsRunning         bool      `json:"is_running"`
	Runs              int64     `json:"runs"`
	TotalFinished     int64     `json:"total_finished"`
	LastRunTime       time.Time `json:"last_run_time"`
	LastFinishedCount int       `json:"last_finished_count"`
	LastError         string    `json:"last_error,omitempty"`
}

// FinishWorker calls Finisher.AutoFinish on a fixed interval.
type FinishWorker struct {
	finisher Finisher
	clock    clock.Clock
	log      *zap.Logger
	config   *FinishWorkerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   FinishWorkerStats
}

// NewFinishWorker creates a worker. A nil config uses the defaults.
func NewFinishWorker(finisher Finisher, clk clock.Clock, log *zap.Logger, config *FinishWorkerConfig) *FinishWorker {
	if config == nil {
		config = DefaultFinishWorkerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultFinishWorkerConfig().Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultFinishWorkerConfig().RunTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FinishWorker{
		finisher: finisher,
		clock:    clk,
		log:      log.Named("finish_worker"),
		config:   config,
	}
}

// Start runs one sweep immediately and then one per interval until Stop is
// called or ctx is done.
func (w *FinishWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.log.Info("finish worker started", zap.Duration("interval", w.config.Interval))
	go w.loop(ctx, stopCh, doneCh)
	return nil
}

func (w *FinishWorker) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	_, _ = w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("finish worker stopped", zap.Error(ctx.Err()))
			return
		case <-stopCh:
			w.log.Info("finish worker stopped")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight sweep to return.
func (w *FinishWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.stopCh = nil
	w.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	<-doneCh
}

// RunOnce performs a single sweep and records its outcome.
func (w *FinishWorker) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	now := w.clock.Now()
	n, err := w.finisher.AutoFinish(runCtx, now)

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRunTime = now
	w.stats.LastFinishedCount = n
	w.stats.TotalFinished += int64(n)
	w.stats.LastError = ""
	if err != nil {
		w.stats.LastError = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("auto-finish sweep failed", zap.Error(err))
		return n, err
	}
	if n > 0 {
		w.log.Info("auto-finish sweep", zap.Int("finished", n))
	}
	return n, nil
}

// GetStats returns a snapshot of the worker's counters.
func (w *FinishWorker) GetStats() FinishWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.IsRunning = w.running
	return s
}
