package worker

import (
	"context"
	"log/slog"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

const (
	sweepInterval = 10 * time.Minute
	// sweepGracePeriod protects in-flight installs: an install that has
	// been marked installed but not yet swapped current would otherwise be
	// deleted out from under its activation. Only generations older than
	// this are considered orphaned.
	sweepGracePeriod = time.Hour
)

// SweepStore is the persistence interface consumed by Sweeper.
type SweepStore interface {
	PruneFetchLog(ctx context.Context, cutoff time.Time) (int64, error)
	ListGenerations(ctx context.Context) ([]shell.Generation, error)
	DeleteGeneration(ctx context.Context, version string) error
}

// Sweeper periodically prunes expired fetch-log rows and generations
// orphaned by a crash between install and activation.
type Sweeper struct {
	store     SweepStore
	retention time.Duration
	current   func() string // active generation version
}

// NewSweeper creates a Sweeper. retention bounds the fetch log age;
// current reports the serving generation so it is never swept.
func NewSweeper(store SweepStore, retention time.Duration, current func() string) *Sweeper {
	return &Sweeper{store: store, retention: retention, current: current}
}

// Run sweeps on a periodic schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if s.retention > 0 {
		n, err := s.store.PruneFetchLog(ctx, time.Now().Add(-s.retention))
		if err != nil {
			slog.Warn("fetch log prune failed", "error", err)
		} else if n > 0 {
			slog.Info("fetch log pruned", "rows", n)
		}
	}

	gens, err := s.store.ListGenerations(ctx)
	if err != nil {
		slog.Warn("generation sweep failed", "error", err)
		return
	}
	current := s.current()
	for _, g := range gens {
		if g.Version == current {
			continue
		}
		// Aged non-current generations were missed by activation or are
		// abandoned partial installs; young ones may be racing activation.
		if time.Since(g.CreatedAt) < sweepGracePeriod {
			continue
		}
		if err := s.store.DeleteGeneration(ctx, g.Version); err != nil {
			slog.Warn("orphan generation delete failed", "version", g.Version, "error", err)
			continue
		}
		slog.Info("orphan generation deleted", "version", g.Version)
	}
}
