package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/ayo6706/funds-movement/internal/service"
	"go.uber.org/zap"
)

// Reconciler is the unit of work the worker repeats.
type Reconciler interface {
	Run(ctx context.Context) error
}

// Purger removes expired housekeeping rows, such as idempotency keys.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// ReconciliationWorker periodically sweeps for movements left PENDING and
// refreshes the reconciliation queue gauge.
type ReconciliationWorker struct {
	svc      Reconciler
	purger   Purger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Reconciler = (*service.ReconciliationService)(nil)

// NewReconciliationWorker constructs a worker that sweeps once a minute.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithPurger runs p after each reconciliation sweep.
func (w *ReconciliationWorker) WithPurger(p Purger) *ReconciliationWorker {
	w.purger = p
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs a single sweep immediately. A purge failure does not
// fail the sweep.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) error {
	err := w.svc.Run(ctx)
	if w.purger != nil {
		if n, perr := w.purger.Purge(ctx); perr != nil {
			observability.IncrementWorkerRun("purge", "failed")
			zap.L().Warn("purge expired rows failed", zap.Error(perr))
		} else {
			observability.IncrementWorkerRun("purge", "success")
			if n > 0 {
				zap.L().Info("purged expired rows", zap.Int64("count", n))
			}
		}
	}
	return err
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("reconciliation", "success")
}
