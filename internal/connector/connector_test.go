package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
)

type fakeConnector struct {
	err      error
	snapshot model.Snapshot
}

func (f *fakeConnector) Collect(ctx context.Context, cfg config.SourceConfig) (model.Snapshot, error) {
	if f.err != nil {
		return model.Snapshot{}, f.err
	}
	return f.snapshot, nil
}

func (f *fakeConnector) TestConnection(ctx context.Context, cfg config.SourceConfig) error {
	return f.err
}

func TestNewUnknownDialect(t *testing.T) {
	_, err := New(config.SourceConfig{Name: "orders", Dialect: "nope"})
	require.Error(t, err)
}

func TestNewKnownDialectsRegistered(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql", "dolt"} {
		c, err := New(config.SourceConfig{Name: "orders", Dialect: dialect})
		require.NoError(t, err)
		require.NotNil(t, c)
	}
}

func TestCollectSafeReturnsSnapshotOnSuccess(t *testing.T) {
	want := model.Snapshot{SourceName: "orders", CollectStatus: model.CollectSuccess}
	got := CollectSafe(context.Background(), &fakeConnector{snapshot: want}, config.SourceConfig{Name: "orders"})
	require.Equal(t, want, got)
}

func TestCollectSafeConvertsErrorToFailedSnapshot(t *testing.T) {
	got := CollectSafe(context.Background(), &fakeConnector{err: errors.New("boom")}, config.SourceConfig{Name: "orders"})
	require.Equal(t, model.CollectFailed, got.CollectStatus)
	require.Equal(t, "orders", got.SourceName)
	require.Equal(t, "UNKNOWN_ERROR", got.ErrorCode)
}

func TestCollectSafeMapsConnectionError(t *testing.T) {
	got := CollectSafe(context.Background(), &fakeConnector{err: ErrConnection}, config.SourceConfig{Name: "orders"})
	require.Equal(t, "CONNECTION_ERROR", got.ErrorCode)
}

func TestExtractMetricsRowCountFallback(t *testing.T) {
	metrics, err := extractMetrics(map[string]any{"total_count": int64(42)})
	require.NoError(t, err)
	require.Equal(t, int64(42), metrics["row_count"])
}

func TestExtractMetricsMissingRowCountErrors(t *testing.T) {
	_, err := extractMetrics(map[string]any{"name": "orders"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestTruncateLeavesShortStringsAlone(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
}

func TestTruncateClampsLongStrings(t *testing.T) {
	require.Equal(t, "abc", truncate("abcdef", 3))
}
