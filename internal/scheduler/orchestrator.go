// Package scheduler drives dataset refresh runs: it walks every configured
// (system, year) partition, fetches through a provider, writes the cache,
// and records a summary of what happened.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"epipanel/internal/cache"
	"epipanel/internal/dataset"
	"epipanel/internal/history"
	"epipanel/internal/observability"
	"epipanel/internal/provider"
)

// Config controls which partitions a run covers and when scheduled runs
// fire.
type Config struct {
	Municipality     string
	MunicipalityName string
	UF               string
	Systems          []dataset.System
	StartYear        int
	// EndYear of 0 means the current year at run time.
	EndYear   int
	Retention time.Duration
	Weekday   time.Weekday
	Hour      int
	Minute    int
	DemoMode  bool
}

func (c Config) validate() error {
	if c.Municipality == "" {
		return fmt.Errorf("municipality code is required")
	}
	if len(c.Systems) == 0 {
		return fmt.Errorf("at least one source system is required")
	}
	for _, s := range c.Systems {
		if !s.Valid() {
			return fmt.Errorf("unknown source system: %s", s)
		}
	}
	if c.StartYear < 1979 {
		return fmt.Errorf("start year %d predates available data", c.StartYear)
	}
	if c.EndYear != 0 && c.EndYear < c.StartYear {
		return fmt.Errorf("end year %d before start year %d", c.EndYear, c.StartYear)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("invalid schedule time %02d:%02d", c.Hour, c.Minute)
	}
	return nil
}

// Orchestrator runs dataset refreshes. A failure on one key never aborts
// the rest of the run.
type Orchestrator struct {
	cfg     Config
	cache   cache.Store
	fetcher provider.Fetcher
	history history.Store
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	schedMu sync.Mutex
	nextRun time.Time
}

// New creates an orchestrator. The metrics argument may be nil.
func New(cfg Config, cacheStore cache.Store, fetcher provider.Fetcher, historyStore history.Store, metrics *observability.Metrics, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if cacheStore == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if historyStore == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		cache:   cacheStore,
		fetcher: fetcher,
		history: historyStore,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// years returns the inclusive year range the run covers.
func (o *Orchestrator) years() []int {
	end := o.cfg.EndYear
	if end == 0 {
		end = o.now().Year()
	}
	ys := make([]int, 0, end-o.cfg.StartYear+1)
	for y := o.cfg.StartYear; y <= end; y++ {
		ys = append(ys, y)
	}
	return ys
}

// RunOnce refreshes every configured partition and returns the run
// summary. Keys that fail are reported in the summary; keys not attempted
// because the context ended are counted as skipped. The summary is
// recorded in the history store before returning.
func (o *Orchestrator) RunOnce(ctx context.Context, trigger string) *history.RunRecord {
	run := &history.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: o.now().UTC(),
		Trigger:   trigger,
		DemoMode:  o.cfg.DemoMode,
	}

	source := dataset.SourceDATASUS
	if s, ok := o.fetcher.(provider.Source); ok {
		source = s.Source()
	}

	years := o.years()
	o.logger.Info("refresh run started",
		"run_id", run.ID,
		"trigger", trigger,
		"municipality", o.cfg.Municipality,
		"systems", len(o.cfg.Systems),
		"years", len(years),
		"demo_mode", o.cfg.DemoMode,
	)

	for _, system := range o.cfg.Systems {
		for _, year := range years {
			key := dataset.Key(system, o.cfg.Municipality, year)

			if ctx.Err() != nil {
				run.Skipped++
				continue
			}

			if err := o.refreshKey(ctx, key, system, year, source); err != nil {
				if errors.Is(err, context.Canceled) {
					run.Skipped++
					continue
				}
				run.Failed++
				run.Failures = append(run.Failures, history.KeyFailure{Key: key, Reason: err.Error()})
				o.logger.Warn("dataset refresh failed", "run_id", run.ID, "key", key, "error", err)
				continue
			}
			run.Succeeded++
			o.logger.Debug("dataset refreshed", "run_id", run.ID, "key", key)
		}
	}

	run.TotalFailure = run.Succeeded == 0 && run.Failed > 0

	if o.cfg.Retention > 0 && ctx.Err() == nil {
		pruned, err := o.cache.PruneOlderThan(ctx, o.cfg.Retention)
		if err != nil {
			o.logger.Warn("cache prune failed", "run_id", run.ID, "error", err)
		} else {
			run.Pruned = pruned
		}
	}

	run.FinishedAt = o.now().UTC()
	o.observe(run)

	if err := o.history.Record(ctx, run); err != nil {
		o.logger.Error("failed to record run summary", "run_id", run.ID, "error", err)
	}

	attrs := []any{
		"run_id", run.ID,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"skipped", run.Skipped,
		"pruned", run.Pruned,
		"duration", run.FinishedAt.Sub(run.StartedAt),
	}
	if run.TotalFailure {
		o.logger.Error("refresh run failed for every key", attrs...)
	} else {
		o.logger.Info("refresh run finished", attrs...)
	}
	return run
}

// refreshKey fetches one partition and commits it to the cache. An empty
// result counts as a failure so stale data is never silently replaced by
// nothing.
func (o *Orchestrator) refreshKey(ctx context.Context, key string, system dataset.System, year int, source dataset.Source) error {
	table, err := o.fetcher.FetchDataset(ctx, system, o.cfg.Municipality, year)
	if err != nil {
		return err
	}
	if table == nil || table.Empty() {
		return provider.NewEmptyError(system, o.cfg.Municipality, year)
	}
	if _, err := o.cache.Put(ctx, key, table, source); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) observe(run *history.RunRecord) {
	if o.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case run.TotalFailure:
		outcome = "total_failure"
	case run.Failed > 0:
		outcome = "partial"
	}
	o.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	o.metrics.KeysTotal.WithLabelValues("succeeded").Add(float64(run.Succeeded))
	o.metrics.KeysTotal.WithLabelValues("failed").Add(float64(run.Failed))
	o.metrics.KeysTotal.WithLabelValues("skipped").Add(float64(run.Skipped))
	o.metrics.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	o.metrics.LastRunTimestamp.Set(float64(run.FinishedAt.Unix()))
	o.metrics.LastRunSucceeded.Set(float64(run.Succeeded))
	o.metrics.LastRunFailed.Set(float64(run.Failed))
	o.metrics.PrunedTotal.Add(float64(run.Pruned))

	if keys, err := o.cache.Keys(context.Background()); err == nil {
		o.metrics.CachedDatasets.Set(float64(len(keys)))
	}
}
