package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sourcewatch/sourcewatch/internal/alerting"
	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/connector"
	"github.com/sourcewatch/sourcewatch/internal/model"
	"github.com/sourcewatch/sourcewatch/internal/store"
	"github.com/sourcewatch/sourcewatch/internal/webhook"
)

type stubConnector struct {
	snapshot model.Snapshot
}

func (c *stubConnector) Collect(ctx context.Context, cfg config.SourceConfig) (model.Snapshot, error) {
	return c.snapshot, nil
}

func (c *stubConnector) TestConnection(ctx context.Context, cfg config.SourceConfig) error {
	return nil
}

func init() {
	connector.Register("stub", func() connector.Connector {
		return &stubConnector{snapshot: model.Snapshot{
			CollectStatus: model.CollectSuccess,
			Metrics:       map[string]any{"row_count": int64(100)},
		}}
	})
}

type noopDelivery struct{}

func (noopDelivery) Deliver(ctx context.Context, target webhook.Target, payload model.WebhookPayload) model.DeliveryResult {
	return model.DeliveryResult{Success: true, StatusCode: 200, Attempts: 1}
}

func newTestScheduler(t *testing.T, cfg *config.Config) *Scheduler {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sourcewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	pipeline := alerting.New(s, noopDelivery{}, "test-agent", nil)
	return New(cfg, s, pipeline, nil)
}

func TestIsDueWithNoPriorSnapshotIsAlwaysDue(t *testing.T) {
	cfg := &config.Config{Sources: []config.SourceConfig{{Name: "orders", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: true}}}
	sched := newTestScheduler(t, cfg)

	due, err := sched.isDue(context.Background(), cfg.Sources[0], time.Now())
	require.NoError(t, err)
	require.True(t, due)
}

func TestIsDueRespectsCronSchedule(t *testing.T) {
	cfg := &config.Config{Sources: []config.SourceConfig{{Name: "orders", Schedule: "0 0 * * *", Dialect: "stub", Enabled: true}}}
	sched := newTestScheduler(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := sched.ProcessOnce(ctx, cfg.Sources[0], now, false)
	require.NoError(t, err)

	due, err := sched.isDue(ctx, cfg.Sources[0], now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, due)

	due, err = sched.isDue(ctx, cfg.Sources[0], now.Add(25*time.Hour))
	require.NoError(t, err)
	require.True(t, due)
}

func TestProcessOnceCollectsAnalyzesAndPersists(t *testing.T) {
	cfg := &config.Config{
		Sources:  []config.SourceConfig{{Name: "orders", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: true}},
		Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
	}
	sched := newTestScheduler(t, cfg)

	decision, notified, err := sched.ProcessOnce(context.Background(), cfg.Sources[0], time.Now(), false)
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, decision.Status)
	require.Empty(t, notified)

	last, err := sched.store.LastSnapshot(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, model.CollectSuccess, last.CollectStatus)
}

func TestProcessOnceDryRunPersistsSnapshotWithoutNotifying(t *testing.T) {
	cfg := &config.Config{
		Sources:  []config.SourceConfig{{Name: "orders", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: true}},
		Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
		Alerting: config.AlertingConfig{Webhooks: []config.WebhookConfig{{Name: "ops", URL: "https://example.test/hook", Events: []string{"info"}}}},
	}
	sched := newTestScheduler(t, cfg)

	_, notified, err := sched.ProcessOnce(context.Background(), cfg.Sources[0], time.Now(), true)
	require.NoError(t, err)
	require.Equal(t, []string{"ops"}, notified)

	last, err := sched.store.LastSnapshot(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, model.CollectSuccess, last.CollectStatus)

	_, err = sched.store.GetAlertState(context.Background(), "orders", "ops")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateConfigTakesEffectOnNextIteration(t *testing.T) {
	cfg := &config.Config{
		Sources:  []config.SourceConfig{{Name: "orders", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: true}},
		Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
	}
	sched := newTestScheduler(t, cfg)
	sched.runIteration(context.Background())

	last, err := sched.store.LastSnapshot(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, "orders", last.SourceName)

	reloaded := &config.Config{
		Sources:  []config.SourceConfig{{Name: "shipments", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: true}},
		Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
	}
	sched.UpdateConfig(reloaded)
	sched.runIteration(context.Background())

	_, err = sched.store.LastSnapshot(context.Background(), "shipments")
	require.NoError(t, err)
}

func TestRunIterationSkipsDisabledSources(t *testing.T) {
	cfg := &config.Config{
		Sources:  []config.SourceConfig{{Name: "orders", Schedule: "*/15 * * * *", Dialect: "stub", Enabled: false}},
		Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
	}
	sched := newTestScheduler(t, cfg)

	sched.runIteration(context.Background())

	_, err := sched.store.LastSnapshot(context.Background(), "orders")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunReturnsPromptlyWhenContextAlreadyCanceled(t *testing.T) {
	cfg := &config.Config{Sources: nil, Baseline: config.BaselineConfig{WindowSize: 20, MaxAgeDays: 30}}
	sched := newTestScheduler(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler.Run did not return after context cancellation")
	}
}
