package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/vipul43/qbo-sync-worker/internal/service"
)

// CycleRunner runs one sync cycle over all eligible accounts
type CycleRunner interface {
	SyncAll(ctx context.Context) (*service.SyncReport, error)
}

// Watcher is the periodic driver of sync cycles.
type Watcher struct {
	interval time.Duration
	runner   CycleRunner
	logger   *slog.Logger
}

func New(interval time.Duration, runner CycleRunner, logger *slog.Logger) *Watcher {
	return &Watcher{
		interval: interval,
		runner:   runner,
		logger:   logger.With(slog.String("component", "watcher")),
	}
}

// Start runs a cycle immediately and then once per interval until ctx is done.
// Cycles never overlap: a tick that fires during a long cycle is dropped.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting sync watcher", slog.Duration("interval", w.interval))

	w.runCycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Watcher) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := w.runner.SyncAll(ctx)
	if err != nil {
		w.logger.Error("Sync cycle failed", slog.String("error", err.Error()))
		return
	}

	for _, account := range report.Accounts {
		if account.Failed() {
			w.logger.Warn("Account sync had failures", slog.String("realm_id", account.RealmID))
		}
	}
}
