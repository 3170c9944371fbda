// Package scheduler runs sourcewatch's collect/detect/alert loop for every
// configured source, grounded on the original daemon loop's due-check and
// sequential per-source processing, scaled down from the teacher's
// daemon/RPC lifecycle since sourcewatch has no remote client protocol.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sourcewatch/sourcewatch/internal/alerting"
	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/connector"
	"github.com/sourcewatch/sourcewatch/internal/detection"
	"github.com/sourcewatch/sourcewatch/internal/model"
	"github.com/sourcewatch/sourcewatch/internal/store"
	"github.com/sourcewatch/sourcewatch/internal/telemetry"
)

// pollInterval is the sleep between scheduler iterations, matching the
// teacher's fixed daemon loop cadence.
const pollInterval = 60 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler drives the collect -> detect -> persist -> alert sequence for
// every enabled source on its own cron schedule. cfg is held behind an
// atomic pointer so a config file hot-reload (see UpdateConfig) can swap in
// a revalidated config between iterations without a lock on the hot path.
type Scheduler struct {
	cfg      atomic.Pointer[config.Config]
	store    *store.Store
	pipeline *alerting.Pipeline
	log      *slog.Logger
}

// New returns a Scheduler for cfg backed by s, delivering alerts through
// pipeline.
func New(cfg *config.Config, s *store.Store, pipeline *alerting.Pipeline, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	sched := &Scheduler{store: s, pipeline: pipeline, log: log}
	sched.cfg.Store(cfg)
	return sched
}

// UpdateConfig swaps in cfg for subsequent iterations, called from the
// config file watcher set up in cmd/sourcewatch after Load/Validate
// succeeds against the changed file. An iteration already in flight keeps
// using the config it started with.
func (s *Scheduler) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

// Run blocks, processing due sources every pollInterval until ctx is
// canceled. Cancellation is checked between sources: the source being
// processed when the signal arrives runs to completion, so a webhook delivery
// in progress is not cut off mid-send, and the remaining sources of that
// iteration are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.cfg.Load()
	s.log.Info("scheduler starting", "sources", len(cfg.Sources), "webhooks", len(cfg.Alerting.Webhooks))

	for {
		s.runIteration(ctx)

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-time.After(pollInterval):
		}
	}
}

// runIteration processes every enabled, due source exactly once, against a
// single consistent config snapshot even if UpdateConfig fires mid-iteration.
func (s *Scheduler) runIteration(ctx context.Context) {
	now := time.Now().UTC()
	cfg := s.cfg.Load()

	for _, source := range cfg.Sources {
		if !source.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		due, err := s.isDue(ctx, source, now)
		if err != nil {
			s.log.Error("failed to evaluate schedule", "source", source.Name, "error", err)
			continue
		}
		if !due {
			continue
		}

		s.processSource(context.WithoutCancel(ctx), source, now, false)
	}
}

// ProcessOnce runs one collect/analyze/persist/alert cycle for source
// unconditionally, exposed so the check CLI command can share the
// scheduler's exact pipeline without going through the due-check.
// With dryRun set, the collected snapshot is still persisted (so history and
// status commands stay accurate) but no webhook delivery is attempted and no
// alert state is advanced.
func (s *Scheduler) ProcessOnce(ctx context.Context, source config.SourceConfig, now time.Time, dryRun bool) (model.Decision, []string, error) {
	return s.processSource(ctx, source, now, dryRun)
}

func (s *Scheduler) processSource(ctx context.Context, source config.SourceConfig, now time.Time, dryRun bool) (model.Decision, []string, error) {
	cfg := s.cfg.Load()
	s.log.Info("checking source", "source", source.Name)

	c, err := connector.New(source)
	if err != nil {
		s.log.Error("no connector for source", "source", source.Name, "dialect", source.Dialect, "error", err)
		return model.Decision{}, nil, err
	}

	snapshot := connector.CollectSafe(ctx, c, source)
	snapshot.SourceName = source.Name
	if snapshot.CollectedAt.IsZero() {
		snapshot.CollectedAt = now
	}

	// Load the baseline from prior snapshots before persisting the current
	// one, so a snapshot is never compared against a baseline that already
	// includes itself.
	history, err := s.store.ListSnapshots(ctx, source.Name, cfg.Baseline.WindowSize, cfg.Baseline.MaxAgeDays, true)
	if err != nil {
		s.log.Error("failed to load snapshot history", "source", source.Name, "error", err)
		return model.Decision{}, nil, err
	}

	decision := detection.Analyze(snapshot, history, source)

	if _, err := s.store.AppendSnapshot(ctx, snapshot); err != nil {
		s.log.Error("failed to persist snapshot", "source", source.Name, "error", err)
		return model.Decision{}, nil, err
	}
	telemetry.RecordDecision(ctx, source.Name, string(decision.Status))

	var notified []string
	if dryRun {
		notified = s.pipeline.WouldNotify(ctx, source, decision, cfg.Alerting, now)
	} else {
		notified, err = s.pipeline.Process(ctx, source, decision, cfg.Alerting, now)
		if err != nil {
			s.log.Error("alert delivery failed", "source", source.Name, "error", err)
		}
	}

	s.log.Info("source checked", "source", source.Name, "status", decision.Status, "notified", notified)
	return decision, notified, nil
}

// IsDue reports whether source is due for collection, exposed so CLI
// commands (check without --force) can apply the same schedule gate the
// daemon loop uses.
func (s *Scheduler) IsDue(ctx context.Context, source config.SourceConfig, now time.Time) (bool, error) {
	return s.isDue(ctx, source, now)
}

// isDue reports whether source is due for collection given its cron
// schedule and the last recorded snapshot. A source with no prior snapshot
// is always due: sourcewatch does not backfill, so the first run always
// collects immediately rather than waiting for the schedule's next tick.
func (s *Scheduler) isDue(ctx context.Context, source config.SourceConfig, now time.Time) (bool, error) {
	last, err := s.store.LastSnapshot(ctx, source.Name)
	if err != nil {
		if store.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}

	schedule, err := cronParser.Parse(source.Schedule)
	if err != nil {
		return false, err
	}

	next := schedule.Next(last.CollectedAt)
	return !now.Before(next), nil
}
