package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
)

// sqlConnector runs a source's monitoring query through database/sql against
// a registered driver, extracting row_count/latest_timestamp metrics the way
// the original SQL connector's _extract_metrics heuristics do.
type sqlConnector struct {
	driverName     string
	timeoutSeconds int
}

func newSQLConnector(driverName string) Connector {
	return &sqlConnector{driverName: driverName, timeoutSeconds: 30}
}

func (c *sqlConnector) Collect(ctx context.Context, cfg config.SourceConfig) (model.Snapshot, error) {
	start := time.Now()

	connStr, err := config.ResolveEnvVars(cfg.Connection)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: resolving connection string: %v", ErrValidation, err)
	}

	db, err := sql.Open(c.driverName, connStr)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: opening connection: %v", ErrConnection, err)
	}
	defer func() { _ = db.Close() }()

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	rows, err := db.QueryContext(queryCtx, cfg.Query)
	if err != nil {
		if queryCtx.Err() != nil {
			return model.Snapshot{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return model.Snapshot{}, fmt.Errorf("%w: query returned no rows", ErrValidation)
	}

	row, schema, err := scanRowToMap(rows)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	metrics, err := extractMetrics(row)
	if err != nil {
		return model.Snapshot{}, err
	}

	return model.Snapshot{
		SourceName:     cfg.Name,
		CollectedAt:    start,
		CollectStatus:  model.CollectSuccess,
		Metrics:        metrics,
		DurationMillis: time.Since(start).Milliseconds(),
		Schema:         schema,
	}, nil
}

func (c *sqlConnector) TestConnection(ctx context.Context, cfg config.SourceConfig) error {
	connStr, err := config.ResolveEnvVars(cfg.Connection)
	if err != nil {
		return fmt.Errorf("%w: resolving connection string: %v", ErrValidation, err)
	}

	db, err := sql.Open(c.driverName, connStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

func (c *sqlConnector) timeout() time.Duration {
	if c.timeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.timeoutSeconds) * time.Second
}

// scanRowToMap scans the current row into a column-name-keyed map and
// derives a SchemaColumn slice from the driver-reported column types.
func scanRowToMap(rows *sql.Rows) (map[string]any, []model.SchemaColumn, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := rows.Scan(pointers...); err != nil {
		return nil, nil, err
	}

	row := make(map[string]any, len(columns))
	schema := make([]model.SchemaColumn, len(columns))
	for i, name := range columns {
		row[name] = values[i]
		schema[i] = model.SchemaColumn{Name: name, Type: columnTypes[i].DatabaseTypeName()}
	}
	return row, schema, nil
}

// extractMetrics applies the row_count/latest_timestamp column-name fallback
// heuristics and copies any remaining numeric columns into metrics.
func extractMetrics(row map[string]any) (map[string]any, error) {
	metrics := make(map[string]any, len(row))

	rowCount, rowCountKey, ok := firstMatch(row, []string{"row_count", "count"}, "count")
	if !ok {
		return nil, fmt.Errorf("%w: query must return a row_count column (SELECT COUNT(*) as row_count, ...)", ErrValidation)
	}
	n, ok := toInt64(rowCount)
	if !ok {
		return nil, fmt.Errorf("%w: row_count column %q is not numeric", ErrValidation, rowCountKey)
	}
	metrics["row_count"] = n

	if ts, tsKey, ok := firstMatch(row, []string{"latest_timestamp", "max_timestamp"}, "timestamp", "time"); ok {
		if t, ok := toTime(ts); ok {
			metrics["latest_timestamp"] = t.Format(time.RFC3339Nano)
		}
		_ = tsKey
	}

	for key, value := range row {
		if key == rowCountKey || key == "latest_timestamp" || key == "max_timestamp" {
			continue
		}
		if n, ok := toInt64(value); ok {
			metrics[key] = n
		} else if f, ok := toFloat64(value); ok {
			metrics[key] = f
		}
	}

	return metrics, nil
}

// firstMatch returns the value for the first exact key in exactNames found
// in row, falling back to the first key whose lowercased name contains any
// of fallbackSubstrings.
func firstMatch(row map[string]any, exactNames []string, fallbackSubstrings ...string) (any, string, bool) {
	for _, name := range exactNames {
		if v, ok := row[name]; ok {
			return v, name, true
		}
	}
	for key, value := range row {
		lower := strings.ToLower(key)
		for _, sub := range fallbackSubstrings {
			if strings.Contains(lower, sub) {
				return value, key, true
			}
		}
	}
	return nil, "", false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		var out int64
		if _, err := fmt.Sscanf(string(n), "%d", &out); err == nil {
			return out, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case []byte:
		parsed, err := time.Parse(time.RFC3339, strings.ReplaceAll(string(t), " ", "T"))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
