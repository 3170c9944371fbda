package alerting

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
	"github.com/sourcewatch/sourcewatch/internal/store"
	"github.com/sourcewatch/sourcewatch/internal/webhook"
)

type fakeDelivery struct {
	calls   int
	results []model.DeliveryResult
}

func (f *fakeDelivery) Deliver(ctx context.Context, target webhook.Target, payload model.WebhookPayload) model.DeliveryResult {
	idx := f.calls
	f.calls++
	if idx < len(f.results) {
		return f.results[idx]
	}
	return model.DeliveryResult{Success: true, StatusCode: 200, Attempts: 1}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sourcewatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func anomalyDecision() model.Decision {
	return model.Decision{
		Status:     model.StatusAnomaly,
		Reasons:    []model.Reason{{Code: "ZERO_VOLUME", Message: "dropped to zero"}},
		Metrics:    map[string]any{"row_count": int64(0)},
		Confidence: 0.9,
	}
}

func testCfg(events ...string) config.AlertingConfig {
	return config.AlertingConfig{
		CooldownMinutes: 60,
		Webhooks: []config.WebhookConfig{
			{Name: "slack", URL: "https://hooks.example/slack", Events: events, TimeoutSeconds: 5},
		},
	}
}

func TestProcessDeliversAndPersistsStateOnFirstAnomaly(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders", Type: "sql"}
	cfg := testCfg("anomaly", "recovery")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	notified, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)
	require.Equal(t, []string{"slack"}, notified)
	require.Equal(t, 1, delivery.calls)

	state, err := s.GetAlertState(context.Background(), "orders", "slack")
	require.NoError(t, err)
	require.Equal(t, model.StatusAnomaly, state.NotifiedStatus)
	require.NotNil(t, state.CooldownUntil)
}

func TestProcessSkipsUnsubscribedEventType(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	cfg := testCfg("recovery")
	notified, err := pipeline.Process(context.Background(), config.SourceConfig{Name: "orders"}, anomalyDecision(), cfg, time.Now())
	require.NoError(t, err)
	require.Empty(t, notified)
	require.Zero(t, delivery.calls)
}

func TestProcessRespectsCooldownForIdenticalReason(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)
	require.Equal(t, 1, delivery.calls)

	notified, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Empty(t, notified)
	require.Equal(t, 1, delivery.calls)
}

func TestProcessAlertsAgainAfterCooldownElapses(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)

	changed := anomalyDecision()
	changed.Reasons = []model.Reason{{Code: "STALE_DATA", Message: "data is stale"}}
	notified, err := pipeline.Process(context.Background(), source, changed, cfg, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"slack"}, notified)
	require.Equal(t, 2, delivery.calls)
}

func TestProcessSendsRecoveryAfterAnomalyClears(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly", "recovery")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)

	okDecision := model.Decision{Status: model.StatusOK, Confidence: 0.9}
	notified, err := pipeline.Process(context.Background(), source, okDecision, cfg, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"slack"}, notified)
}

func TestWouldNotifyReportsTargetsWithoutDeliveringOrPersisting(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	would := pipeline.WouldNotify(context.Background(), source, anomalyDecision(), cfg, now)
	require.Equal(t, []string{"slack"}, would)
	require.Zero(t, delivery.calls)

	_, err := s.GetAlertState(context.Background(), "orders", "slack")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWouldNotifyRespectsCooldownAfterRealDelivery(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)

	would := pipeline.WouldNotify(context.Background(), source, anomalyDecision(), cfg, now.Add(5*time.Minute))
	require.Empty(t, would)
}

func TestProcessDoesNotAdvanceStateOnDeliveryFailure(t *testing.T) {
	s := openTestStore(t)
	delivery := &fakeDelivery{results: []model.DeliveryResult{{Success: false, Error: "timeout", Attempts: 4}}}
	pipeline := New(s, delivery, "agent-1", nil)

	source := config.SourceConfig{Name: "orders"}
	cfg := testCfg("anomaly")
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	notified, err := pipeline.Process(context.Background(), source, anomalyDecision(), cfg, now)
	require.NoError(t, err)
	require.Empty(t, notified)

	_, err = s.GetAlertState(context.Background(), "orders", "slack")
	require.ErrorIs(t, err, store.ErrNotFound)
}
