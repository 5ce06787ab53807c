// Package maintenance prunes stored service replies.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/cache"
	"github.com/tilmanb/osm-wikidata/pkg/db"
)

const lastRunStateKey = "maintenance_last_run"

// StateStore persists the time of the last run.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
}

// Options controls a maintenance run.
type Options struct {
	MaxAge   time.Duration // entries older than this are removed
	Interval time.Duration // skip the run if the last one is more recent
	Now      func() time.Time
}

// Report counts what a run removed.
type Report struct {
	Skipped  bool
	DBRows   int64
	Files    int
	Duration time.Duration
}

// Run prunes the database reply cache and the given file caches. Failures of
// one cache are logged and do not stop the others.
func Run(ctx context.Context, s StateStore, d *db.DB, files []*cache.FileCache, opts Options, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "maintenance")
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	start := now()

	if last, ok := s.GetState(ctx, lastRunStateKey); ok && opts.Interval > 0 {
		if t, err := time.Parse(time.RFC3339, last); err == nil && start.Sub(t) < opts.Interval {
			logger.Debug("Cache pruning not due", "last_run", last)
			return Report{Skipped: true}, nil
		}
	}

	var rep Report
	n, err := d.PruneCache(opts.MaxAge)
	if err != nil {
		logger.Error("Cache pruning failed", "error", err)
	}
	rep.DBRows = n

	for _, fc := range files {
		removed, err := fc.Prune(opts.MaxAge)
		if err != nil {
			logger.Error("Reply file pruning failed", "error", err)
		}
		rep.Files += removed
	}

	if err := s.SetState(ctx, lastRunStateKey, start.UTC().Format(time.RFC3339)); err != nil {
		return rep, fmt.Errorf("failed to record maintenance run: %w", err)
	}
	rep.Duration = now().Sub(start)
	logger.Info("Cache pruning completed", "rows", rep.DBRows, "files", rep.Files)
	return rep, nil
}
