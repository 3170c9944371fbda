// Package store is sourcewatch's SQLite-backed state store: snapshots,
// alert state, and delivery history, grounded on the original SQLite state
// store and the teacher's dedicated-connection BEGIN IMMEDIATE transaction
// pattern for serialized writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

// Store is sourcewatch's embedded state store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the currently applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return currentSchemaVersion(s.db)
}

// withWriteTx acquires a dedicated connection and runs fn inside a raw
// BEGIN IMMEDIATE/COMMIT/ROLLBACK sequence with busy-retry, matching the
// teacher's single-writer transaction pattern: database/sql's connection
// pool would otherwise run "BEGIN IMMEDIATE" and the body's statements on
// different pooled connections.
func (s *Store) withWriteTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("beginning immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediateWithRetry retries SQLITE_BUSY errors from BEGIN IMMEDIATE
// with a short fixed backoff; busy_timeout alone is not always sufficient
// under contention from the daemon, CLI commands, and retention pruning
// writing concurrently.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		lastErr = err
		if !isBusyError(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return lastErr
}

func isBusyError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "busy") ||
		strings.Contains(strings.ToLower(err.Error()), "locked")
}

// AppendSnapshot persists a new snapshot and returns its assigned id.
func (s *Store) AppendSnapshot(ctx context.Context, snapshot model.Snapshot) (int64, error) {
	metricsJSON, err := json.Marshal(snapshot.Metrics)
	if err != nil {
		return 0, fmt.Errorf("marshaling metrics: %w", err)
	}
	metadata := snapshotMetadata(snapshot)
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata: %w", err)
	}

	rowCount, hasRowCount := snapshot.RowCount()
	latestTimestamp, hasLatest := snapshot.LatestTimestamp()

	var id int64
	err = s.withWriteTx(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			INSERT INTO snapshots (
				source_name, collected_at, collect_status, row_count,
				latest_timestamp, metrics_json, metadata_json, duration_ms,
				error_code, error_message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			snapshot.SourceName,
			snapshot.CollectedAt.Format(time.RFC3339Nano),
			string(snapshot.CollectStatus),
			nullableInt64(rowCount, hasRowCount),
			nullableTimeString(latestTimestamp, hasLatest),
			string(metricsJSON),
			string(metadataJSON),
			snapshot.DurationMillis,
			nullableString(snapshot.ErrorCode),
			nullableString(snapshot.ErrorMessage),
		)
		if err != nil {
			return wrapDBError("insert snapshot", err)
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

func snapshotMetadata(snapshot model.Snapshot) map[string]any {
	metadata := map[string]any{
		"duration_ms": snapshot.DurationMillis,
	}
	if snapshot.ErrorCode != "" {
		metadata["error_code"] = snapshot.ErrorCode
	}
	if snapshot.ErrorMessage != "" {
		metadata["error_message"] = snapshot.ErrorMessage
	}
	if len(snapshot.Schema) > 0 {
		schema := make([]map[string]string, len(snapshot.Schema))
		for i, c := range snapshot.Schema {
			schema[i] = map[string]string{"name": c.Name, "type": c.Type}
		}
		metadata["schema"] = schema
	}
	return metadata
}

// LastSnapshot returns the most recent snapshot for a source, or
// ErrNotFound if none exists.
func (s *Store) LastSnapshot(ctx context.Context, sourceName string) (model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_name, collected_at, collect_status, metrics_json,
			metadata_json, duration_ms, error_code, error_message
		FROM snapshots
		WHERE source_name = ?
		ORDER BY collected_at DESC
		LIMIT 1
	`, sourceName)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return model.Snapshot{}, wrapDBError("get last snapshot", err)
	}
	return snapshot, nil
}

// ListSnapshots returns up to limit snapshots for sourceName collected
// within maxAgeDays, newest first, restricted to successful collections
// when successOnly is set (the shape baseline history queries need).
func (s *Store) ListSnapshots(ctx context.Context, sourceName string, limit, maxAgeDays int, successOnly bool) ([]model.Snapshot, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339Nano)

	query := `
		SELECT id, source_name, collected_at, collect_status, metrics_json,
			metadata_json, duration_ms, error_code, error_message
		FROM snapshots
		WHERE source_name = ? AND collected_at >= ?
	`
	if successOnly {
		query += ` AND collect_status = ?`
	}
	query += ` ORDER BY collected_at DESC LIMIT ?`

	var rows *sql.Rows
	var err error
	if successOnly {
		rows, err = s.db.QueryContext(ctx, query, sourceName, cutoff, string(model.CollectSuccess), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, sourceName, cutoff, limit)
	}
	if err != nil {
		return nil, wrapDBError("list snapshots", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []model.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, wrapDBError("scan snapshot row", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, wrapDBError("iterate snapshot rows", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (model.Snapshot, error) {
	var (
		id                      int64
		sourceName              string
		collectedAt             string
		collectStatus           string
		metricsJSON             string
		metadataJSON            string
		durationMillis          sql.NullInt64
		errorCode, errorMessage sql.NullString
	)
	if err := row.Scan(&id, &sourceName, &collectedAt, &collectStatus, &metricsJSON, &metadataJSON, &durationMillis, &errorCode, &errorMessage); err != nil {
		return model.Snapshot{}, err
	}

	collectedAtTime, err := time.Parse(time.RFC3339Nano, collectedAt)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("parsing collected_at: %w", err)
	}

	var metrics map[string]any
	if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
		return model.Snapshot{}, fmt.Errorf("unmarshaling metrics: %w", err)
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return model.Snapshot{}, fmt.Errorf("unmarshaling metadata: %w", err)
	}

	return model.Snapshot{
		ID:             id,
		SourceName:     sourceName,
		CollectedAt:    collectedAtTime,
		CollectStatus:  model.CollectStatus(collectStatus),
		Metrics:        metrics,
		Metadata:       metadata,
		DurationMillis: durationMillis.Int64,
		ErrorCode:      errorCode.String,
		ErrorMessage:   errorMessage.String,
		Schema:         schemaFromMetadata(metadata),
	}, nil
}

func schemaFromMetadata(metadata map[string]any) []model.SchemaColumn {
	raw, ok := metadata["schema"]
	if !ok {
		return nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	schema := make([]model.SchemaColumn, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		schema = append(schema, model.SchemaColumn{Name: name, Type: typ})
	}
	return schema
}

// GetAlertState returns the alert state for a (source,target) pair, or
// ErrNotFound if no state has ever been recorded.
func (s *Store) GetAlertState(ctx context.Context, sourceName, targetName string) (model.AlertState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_name, target_name, notified_status, notified_reason_hash,
			last_change_at, last_sent_at, cooldown_until
		FROM alert_state WHERE source_name = ? AND target_name = ?
	`, sourceName, targetName)

	var (
		notifiedStatus, notifiedReasonHash, lastChangeAt string
		lastSentAt, cooldownUntil                        sql.NullString
	)
	var state model.AlertState
	err := row.Scan(&state.SourceName, &state.TargetName, &notifiedStatus, &notifiedReasonHash, &lastChangeAt, &lastSentAt, &cooldownUntil)
	if err != nil {
		return model.AlertState{}, wrapDBError("get alert state", err)
	}

	state.NotifiedStatus = model.DecisionStatus(notifiedStatus)
	state.NotifiedReasonHash = notifiedReasonHash
	state.LastChangeAt, err = time.Parse(time.RFC3339Nano, lastChangeAt)
	if err != nil {
		return model.AlertState{}, fmt.Errorf("parsing last_change_at: %w", err)
	}
	if lastSentAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSentAt.String)
		if err != nil {
			return model.AlertState{}, fmt.Errorf("parsing last_sent_at: %w", err)
		}
		state.LastSentAt = &t
	}
	if cooldownUntil.Valid {
		t, err := time.Parse(time.RFC3339Nano, cooldownUntil.String)
		if err != nil {
			return model.AlertState{}, fmt.Errorf("parsing cooldown_until: %w", err)
		}
		state.CooldownUntil = &t
	}
	return state, nil
}

// SetAlertState upserts the alert state for its (source,target) pair.
func (s *Store) SetAlertState(ctx context.Context, state model.AlertState) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO alert_state (
				source_name, target_name, notified_status, notified_reason_hash,
				last_change_at, last_sent_at, cooldown_until
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_name, target_name) DO UPDATE SET
				notified_status = excluded.notified_status,
				notified_reason_hash = excluded.notified_reason_hash,
				last_change_at = excluded.last_change_at,
				last_sent_at = excluded.last_sent_at,
				cooldown_until = excluded.cooldown_until
		`,
			state.SourceName, state.TargetName,
			string(state.NotifiedStatus), state.NotifiedReasonHash,
			state.LastChangeAt.Format(time.RFC3339Nano),
			nullableTimeString(derefTime(state.LastSentAt)),
			nullableTimeString(derefTime(state.CooldownUntil)),
		)
		return wrapDBError("set alert state", err)
	})
}

// LogDelivery records the outcome of a webhook delivery attempt sequence.
func (s *Store) LogDelivery(ctx context.Context, sourceName, targetName, eventType, payloadHash string, result model.DeliveryResult) error {
	return s.withWriteTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO deliveries (
				source_name, target_name, event_type, payload_hash,
				sent_at, success, status_code, latency_ms, error_message, attempts
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			sourceName, targetName, eventType, payloadHash,
			time.Now().UTC().Format(time.RFC3339Nano),
			boolToInt(result.Success), result.StatusCode, result.LatencyMillis,
			nullableString(result.Error), result.Attempts,
		)
		return wrapDBError("log delivery", err)
	})
}

// PurgeRetention deletes snapshots older than days for each source, except
// the most recent minKeep snapshots per source, and deletes all delivery
// log rows older than days unconditionally. Returns the total row count
// deleted.
func (s *Store) PurgeRetention(ctx context.Context, days, minKeep int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	total := 0

	err := s.withWriteTx(ctx, func(conn *sql.Conn) error {
		sourceRows, err := conn.QueryContext(ctx, `SELECT DISTINCT source_name FROM snapshots`)
		if err != nil {
			return wrapDBError("list distinct sources", err)
		}
		var sources []string
		for sourceRows.Next() {
			var name string
			if err := sourceRows.Scan(&name); err != nil {
				_ = sourceRows.Close()
				return wrapDBError("scan source name", err)
			}
			sources = append(sources, name)
		}
		if err := sourceRows.Err(); err != nil {
			_ = sourceRows.Close()
			return wrapDBError("iterate source names", err)
		}
		_ = sourceRows.Close()

		for _, source := range sources {
			idRows, err := conn.QueryContext(ctx, `
				SELECT id FROM snapshots WHERE source_name = ? ORDER BY collected_at DESC
			`, source)
			if err != nil {
				return wrapDBError("list snapshot ids", err)
			}
			var ids []int64
			for idRows.Next() {
				var id int64
				if err := idRows.Scan(&id); err != nil {
					_ = idRows.Close()
					return wrapDBError("scan snapshot id", err)
				}
				ids = append(ids, id)
			}
			if err := idRows.Err(); err != nil {
				_ = idRows.Close()
				return wrapDBError("iterate snapshot ids", err)
			}
			_ = idRows.Close()

			if len(ids) <= minKeep {
				continue
			}
			protected := make(map[int64]bool, minKeep)
			for _, id := range ids[:minKeep] {
				protected[id] = true
			}

			var toDelete []int64
			deleteRows, err := conn.QueryContext(ctx, `
				SELECT id FROM snapshots WHERE source_name = ? AND collected_at < ?
			`, source, cutoff)
			if err != nil {
				return wrapDBError("list purge candidates", err)
			}
			for deleteRows.Next() {
				var id int64
				if err := deleteRows.Scan(&id); err != nil {
					_ = deleteRows.Close()
					return wrapDBError("scan purge candidate", err)
				}
				if !protected[id] {
					toDelete = append(toDelete, id)
				}
			}
			if err := deleteRows.Err(); err != nil {
				_ = deleteRows.Close()
				return wrapDBError("iterate purge candidates", err)
			}
			_ = deleteRows.Close()

			for _, id := range toDelete {
				if _, err := conn.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
					return wrapDBError("delete snapshot", err)
				}
				total++
			}
		}

		result, err := conn.ExecContext(ctx, `DELETE FROM deliveries WHERE sent_at < ?`, cutoff)
		if err != nil {
			return wrapDBError("delete old deliveries", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return err
		}
		total += int(deleted)
		return nil
	})

	return total, err
}

func nullableInt64(v int64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func nullableTimeString(t time.Time, ok bool) any {
	if !ok || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefTime(t *time.Time) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	return *t, true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
