package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/epressworld/epress-sub000/store"
)

// DefaultCleanupInterval is how often the orphan sweep runs when the
// runner is started without an explicit interval.
const DefaultCleanupInterval = time.Hour

// CleanupRunner periodically removes content rows no publication
// references anymore. Edits and deletions leave those rows behind on
// purpose; reclaiming them is this runner's whole job.
type CleanupRunner struct {
	store    *store.Store
	interval time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupRunner builds a runner sweeping at the given interval; zero
// means DefaultCleanupInterval.
func NewCleanupRunner(st *store.Store, interval time.Duration, log *slog.Logger) *CleanupRunner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &CleanupRunner{store: st, interval: interval, log: log}
}

// RunInBackground starts the sweep loop. The first sweep happens after
// one full interval, not at startup.
func (r *CleanupRunner) RunInBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (r *CleanupRunner) Shutdown() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// SweepOnce runs a single sweep, for the CLI's one-shot mode.
func (r *CleanupRunner) SweepOnce(ctx context.Context) (store.CleanupReport, error) {
	return r.store.CleanupOrphaned(ctx)
}

func (r *CleanupRunner) sweep(ctx context.Context) {
	report, err := r.store.CleanupOrphaned(ctx)
	if err != nil {
		r.log.Error("orphan sweep failed", "err", err)
		return
	}
	if report.DeletedCount > 0 {
		r.log.Info("orphan sweep",
			"processed", report.TotalProcessed,
			"deleted", report.DeletedCount,
			"filesDeleted", report.FileDeletedCount,
		)
	}
}
