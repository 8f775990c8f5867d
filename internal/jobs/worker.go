package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloo-solutions/kbbot/internal/logger"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// Ticker is polled by a Worker; each call decides for itself whether there is work due
type Ticker interface {
	Tick(ctx context.Context) error
}

// Worker polls a Ticker on a fixed interval until stopped
type Worker struct {
	ticker   Ticker
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker creates a Worker. A tick that runs longer than timeout has its context
// cancelled; zero means ticks are bounded only by the worker's context.
func NewWorker(ticker Ticker, interval, timeout time.Duration, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		ticker:   ticker,
		interval: interval,
		timeout:  timeout,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start ticks once immediately, so a restart inside the trigger window still fires,
// then on every interval. It blocks until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.log.Info("worker started", "interval", w.interval.String())
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", "reason", "context cancelled")
			return
		case <-w.stop:
			w.log.Info("worker stopped", "reason", "stop signal")
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker tick panicked: %v", r)
			telemetry.CaptureError(ctx, err)
			w.log.Error("worker tick panicked", "panic", r)
		}
	}()

	if err := w.ticker.Tick(ctx); err != nil {
		w.log.Error("worker tick failed", "error", err)
	}
}

// Stop signals the loop and waits for the current tick to finish. Safe to call twice.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
	w.log.Info("worker shutdown complete")
}
