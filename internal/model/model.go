// Package model holds the core data types shared across sourcewatch's
// detection, alerting, and storage layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// CollectStatus describes whether a connector successfully reached its source.
type CollectStatus string

const (
	CollectSuccess CollectStatus = "SUCCESS"
	CollectFailed  CollectStatus = "COLLECT_FAILED"
)

// DecisionStatus is the outcome of the detection engine for one snapshot.
type DecisionStatus string

const (
	StatusOK      DecisionStatus = "OK"
	StatusWarning DecisionStatus = "WARNING"
	StatusAnomaly DecisionStatus = "ANOMALY"
	StatusUnknown DecisionStatus = "UNKNOWN"
)

// EventType classifies a webhook event derived from a DecisionStatus.
type EventType string

const (
	EventAnomaly  EventType = "anomaly"
	EventWarning  EventType = "warning"
	EventRecovery EventType = "recovery"
	EventInfo     EventType = "info"
)

// SchemaColumn describes one column observed in a source's result set, used
// for schema drift detection.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Snapshot is one collection attempt against a configured source.
type Snapshot struct {
	ID              int64
	SourceName      string
	CollectedAt     time.Time
	CollectStatus   CollectStatus
	Metrics         map[string]any
	Metadata        map[string]any
	DurationMillis  int64
	ErrorCode       string
	ErrorMessage    string
	Schema          []SchemaColumn
}

// RowCount returns the row_count metric, if present and numeric.
func (s Snapshot) RowCount() (int64, bool) {
	v, ok := s.Metrics["row_count"]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// LatestTimestamp returns the latest_timestamp metric, if present and parseable.
func (s Snapshot) LatestTimestamp() (time.Time, bool) {
	v, ok := s.Metrics["latest_timestamp"]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// IsSuccess reports whether the collection attempt succeeded.
func (s Snapshot) IsSuccess() bool {
	return s.CollectStatus == CollectSuccess
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Reason is a single structured cause contributing to a Decision.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BaselineSummary describes the historical distribution a snapshot is judged against.
type BaselineSummary struct {
	SnapshotCount            int
	RowCountMedian           *float64
	RowCountMin              *float64
	RowCountMax              *float64
	RowCountStdDev           *float64
	ExpectedIntervalSeconds  *float64
	OldestSnapshotAt         *time.Time
	NewestSnapshotAt         *time.Time
}

// ToMap renders the summary as a JSON-friendly map for webhook payloads.
func (b BaselineSummary) ToMap() map[string]any {
	return map[string]any{
		"snapshot_count":            b.SnapshotCount,
		"row_count_median":          derefFloat(b.RowCountMedian),
		"row_count_min":             derefFloat(b.RowCountMin),
		"row_count_max":             derefFloat(b.RowCountMax),
		"row_count_stddev":          derefFloat(b.RowCountStdDev),
		"expected_interval_seconds": derefFloat(b.ExpectedIntervalSeconds),
	}
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// Decision is the detection engine's verdict for one snapshot.
type Decision struct {
	Status          DecisionStatus
	Reasons         []Reason
	Metrics         map[string]any
	BaselineSummary *BaselineSummary
	Confidence      float64
}

// ReasonHash is a stable identifier for the (status, reason codes) shape of
// a decision, independent of the human-readable reason messages. Two
// decisions with the same underlying cause hash identically even as the
// exact figures in their messages drift between checks.
func (d Decision) ReasonHash() string {
	codes := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		codes = append(codes, r.Code)
	}
	sort.Strings(codes)

	data := struct {
		Status      string   `json:"status"`
		ReasonCodes []string `json:"reason_codes"`
	}{
		Status:      string(d.Status),
		ReasonCodes: codes,
	}
	b, _ := json.Marshal(data)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// ToMap renders the decision as a JSON-friendly map for webhook payloads.
func (d Decision) ToMap() map[string]any {
	reasons := make([]map[string]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		reasons = append(reasons, map[string]string{"code": r.Code, "message": r.Message})
	}
	return map[string]any{
		"status":     string(d.Status),
		"reasons":    reasons,
		"confidence": d.Confidence,
	}
}

// AlertState is the per-(source,target) dedup/cooldown record.
type AlertState struct {
	SourceName         string
	TargetName         string
	NotifiedStatus     DecisionStatus
	NotifiedReasonHash string
	LastChangeAt       time.Time
	LastSentAt         *time.Time
	CooldownUntil      *time.Time
}

// NewAlertState returns the zero-value alert state for a (source,target)
// pair that has never been notified.
func NewAlertState(source, target string, now time.Time) AlertState {
	return AlertState{
		SourceName:     source,
		TargetName:     target,
		NotifiedStatus: StatusUnknown,
		LastChangeAt:   now,
	}
}

// DeliveryResult is the outcome of one webhook delivery attempt sequence.
type DeliveryResult struct {
	Success       bool
	StatusCode    int
	Error         string
	LatencyMillis int64
	Attempts      int
}

// WebhookPayload is the versioned envelope delivered to alert targets.
type WebhookPayload struct {
	Version         string
	EventID         string
	EventType       EventType
	Timestamp       time.Time
	SourceName      string
	SourceType      string
	Decision        map[string]any
	Metrics         map[string]any
	BaselineSummary map[string]any
	AgentID         string
}

// CanonicalJSON renders the payload as key-sorted, whitespace-free JSON so
// the HMAC signature is reproducible by any conforming receiver.
func (p WebhookPayload) CanonicalJSON() ([]byte, error) {
	data := map[string]any{
		"version":    p.Version,
		"event_id":   p.EventID,
		"event_type": string(p.EventType),
		"timestamp":  p.Timestamp.Format(time.RFC3339Nano),
		"source": map[string]any{
			"name": p.SourceName,
			"type": p.SourceType,
		},
		"decision": p.Decision,
		"metrics":  p.Metrics,
		"baseline": p.BaselineSummary,
		"context": map[string]any{
			"agent_id": p.AgentID,
		},
	}
	return marshalCanonical(data)
}

// marshalCanonical marshals v with sorted object keys and no extraneous
// whitespace. encoding/json already sorts map keys, so a plain Marshal on a
// map-of-maps tree is canonical; this helper exists to keep that invariant
// documented at the call site.
func marshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}
