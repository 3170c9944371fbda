package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sourcewatch.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesSchema(t *testing.T) {
	s := openTestStore(t)
	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestAppendAndGetLastSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snapshot := model.Snapshot{
		SourceName:    "orders",
		CollectedAt:   time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		CollectStatus: model.CollectSuccess,
		Metrics:       map[string]any{"row_count": int64(100)},
		Schema:        []model.SchemaColumn{{Name: "id", Type: "INTEGER"}},
	}
	id, err := s.AppendSnapshot(ctx, snapshot)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.LastSnapshot(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "orders", got.SourceName)
	require.Equal(t, model.CollectSuccess, got.CollectStatus)
	rowCount, ok := got.RowCount()
	require.True(t, ok)
	require.Equal(t, int64(100), rowCount)
	require.Len(t, got.Schema, 1)
	require.Equal(t, "id", got.Schema[0].Name)
}

func TestLastSnapshotNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LastSnapshot(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))
}

func TestListSnapshotsOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().AddDate(0, 0, -1)

	for i := 0; i < 5; i++ {
		_, err := s.AppendSnapshot(ctx, model.Snapshot{
			SourceName:    "orders",
			CollectedAt:   base.Add(time.Duration(i) * time.Hour),
			CollectStatus: model.CollectSuccess,
			Metrics:       map[string]any{"row_count": int64(i)},
		})
		require.NoError(t, err)
	}

	got, err := s.ListSnapshots(ctx, "orders", 3, 30, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].CollectedAt.After(got[1].CollectedAt))
	require.True(t, got[1].CollectedAt.After(got[2].CollectedAt))
}

func TestListSnapshotsSuccessOnlyExcludesFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().AddDate(0, 0, -1)

	_, err := s.AppendSnapshot(ctx, model.Snapshot{
		SourceName:    "orders",
		CollectedAt:   base,
		CollectStatus: model.CollectSuccess,
		Metrics:       map[string]any{"row_count": int64(1)},
	})
	require.NoError(t, err)
	_, err = s.AppendSnapshot(ctx, model.Snapshot{
		SourceName:    "orders",
		CollectedAt:   base.Add(time.Hour),
		CollectStatus: model.CollectFailed,
		Metrics:       map[string]any{},
		ErrorCode:     "CONNECTION_ERROR",
	})
	require.NoError(t, err)

	got, err := s.ListSnapshots(ctx, "orders", 10, 30, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, model.CollectSuccess, got[0].CollectStatus)
}

func TestListSnapshotsExcludesBeyondMaxAge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendSnapshot(ctx, model.Snapshot{
		SourceName:    "orders",
		CollectedAt:   time.Now().UTC().AddDate(0, 0, -90),
		CollectStatus: model.CollectSuccess,
		Metrics:       map[string]any{"row_count": int64(1)},
	})
	require.NoError(t, err)

	got, err := s.ListSnapshots(ctx, "orders", 10, 30, false)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestAlertStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetAlertState(ctx, "orders", "slack")
	require.ErrorIs(t, err, ErrNotFound)

	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	cooldown := now.Add(30 * time.Minute)
	state := model.AlertState{
		SourceName:         "orders",
		TargetName:         "slack",
		NotifiedStatus:      model.StatusAnomaly,
		NotifiedReasonHash:  "abc123",
		LastChangeAt:        now,
		LastSentAt:          &now,
		CooldownUntil:       &cooldown,
	}
	require.NoError(t, s.SetAlertState(ctx, state))

	got, err := s.GetAlertState(ctx, "orders", "slack")
	require.NoError(t, err)
	require.Equal(t, model.StatusAnomaly, got.NotifiedStatus)
	require.Equal(t, "abc123", got.NotifiedReasonHash)
	require.NotNil(t, got.CooldownUntil)
	require.True(t, got.CooldownUntil.Equal(cooldown))

	state.NotifiedStatus = model.StatusOK
	require.NoError(t, s.SetAlertState(ctx, state))
	got, err = s.GetAlertState(ctx, "orders", "slack")
	require.NoError(t, err)
	require.Equal(t, model.StatusOK, got.NotifiedStatus)
}

func TestLogDelivery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.LogDelivery(ctx, "orders", "slack", "anomaly", "hash123", model.DeliveryResult{
		Success:       true,
		StatusCode:    200,
		LatencyMillis: 42,
		Attempts:      1,
	})
	require.NoError(t, err)
}

func TestPurgeRetentionProtectsMinKeepPerSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().AddDate(0, 0, -100)

	for i := 0; i < 5; i++ {
		_, err := s.AppendSnapshot(ctx, model.Snapshot{
			SourceName:    "orders",
			CollectedAt:   old.Add(time.Duration(i) * time.Minute),
			CollectStatus: model.CollectSuccess,
			Metrics:       map[string]any{"row_count": int64(i)},
		})
		require.NoError(t, err)
	}

	deleted, err := s.PurgeRetention(ctx, 30, 3)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	remaining, err := s.ListSnapshots(ctx, "orders", 10, 36500, false)
	require.NoError(t, err)
	require.Len(t, remaining, 3)
}

func TestPurgeRetentionKeepsRecentSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendSnapshot(ctx, model.Snapshot{
		SourceName:    "orders",
		CollectedAt:   time.Now().UTC(),
		CollectStatus: model.CollectSuccess,
		Metrics:       map[string]any{"row_count": int64(1)},
	})
	require.NoError(t, err)

	deleted, err := s.PurgeRetention(ctx, 30, 1)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestPurgeRetentionRemovesOldDeliveriesUnconditionally(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogDelivery(ctx, "orders", "slack", "anomaly", "hash", model.DeliveryResult{Success: true}))

	_, err := s.db.ExecContext(ctx, `UPDATE deliveries SET sent_at = ?`, time.Now().UTC().AddDate(0, 0, -100).Format(time.RFC3339Nano))
	require.NoError(t, err)

	deleted, err := s.PurgeRetention(ctx, 30, 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}
