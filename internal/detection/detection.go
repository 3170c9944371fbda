// Package detection classifies a snapshot against its source's baseline,
// grounded on the original detection engine's analyze/_check_* methods.
package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sourcewatch/sourcewatch/internal/baseline"
	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
)

var anomalyReasons = map[string]bool{
	"COLLECT_FAILED":   true,
	"ZERO_VOLUME":      true,
	"BELOW_MIN_VOLUME": true,
	"STALE_DATA":       true,
	"SCHEMA_DRIFT":     true,
}

var warningReasons = map[string]bool{
	"VOLUME_LOW":     true,
	"VOLUME_HIGH":    true,
	"COLLECTION_GAP": true,
	"NO_NEW_DATA":    true,
}

// Analyze classifies current against history for the given source
// configuration, returning a Decision with structured reasons and a
// confidence score derived from the baseline's sample size.
func Analyze(current model.Snapshot, history []model.Snapshot, source config.SourceConfig) model.Decision {
	if current.CollectStatus == model.CollectFailed {
		return model.Decision{
			Status: model.StatusAnomaly,
			Reasons: []model.Reason{{
				Code:    "COLLECT_FAILED",
				Message: collectFailedMessage(current),
			}},
			Confidence: 1.0,
		}
	}

	summary := baseline.Compute(history)

	var reasons []model.Reason
	reasons = append(reasons, checkFreshness(current, history, summary, source)...)
	reasons = append(reasons, checkVolume(current, summary, source)...)
	reasons = append(reasons, checkSchemaDrift(current, history, source)...)

	status := deriveStatus(reasons)

	return model.Decision{
		Status:          status,
		Reasons:         reasons,
		Metrics:         current.Metrics,
		BaselineSummary: &summary,
		Confidence:      baseline.Confidence(summary),
	}
}

func collectFailedMessage(s model.Snapshot) string {
	if s.ErrorMessage != "" {
		return fmt.Sprintf("collection failed: %s", s.ErrorMessage)
	}
	return "collection failed"
}

func checkFreshness(current model.Snapshot, history []model.Snapshot, summary model.BaselineSummary, source config.SourceConfig) []model.Reason {
	var reasons []model.Reason

	latest, hasLatest := current.LatestTimestamp()

	if source.Freshness.MaxAgeHours != nil && hasLatest {
		ageHours := current.CollectedAt.Sub(latest).Hours()
		if ageHours > *source.Freshness.MaxAgeHours {
			reasons = append(reasons, model.Reason{
				Code:    "STALE_DATA",
				Message: fmt.Sprintf("latest data is %.1fh old, exceeds max_age_hours %.1fh", ageHours, *source.Freshness.MaxAgeHours),
			})
		}
	}

	if summary.ExpectedIntervalSeconds != nil && summary.NewestSnapshotAt != nil {
		gapSeconds := current.CollectedAt.Sub(*summary.NewestSnapshotAt).Seconds()
		threshold := *summary.ExpectedIntervalSeconds * source.Freshness.Factor
		if gapSeconds > threshold {
			reasons = append(reasons, model.Reason{
				Code:    "COLLECTION_GAP",
				Message: fmt.Sprintf("gap since last snapshot is %.0fs, exceeds expected interval threshold %.0fs", gapSeconds, threshold),
			})
		}
	}

	if hasLatest {
		if historyLatest, ok := latestHistoricalTimestamp(history); ok && !latest.After(historyLatest) {
			reasons = append(reasons, model.Reason{
				Code:    "NO_NEW_DATA",
				Message: "latest_timestamp has not advanced since the previous snapshot",
			})
		}
	}

	return reasons
}

func latestHistoricalTimestamp(history []model.Snapshot) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, s := range history {
		if !s.IsSuccess() {
			continue
		}
		ts, ok := s.LatestTimestamp()
		if !ok {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	return latest, found
}

func checkVolume(current model.Snapshot, summary model.BaselineSummary, source config.SourceConfig) []model.Reason {
	var reasons []model.Reason

	rowCount, ok := current.RowCount()
	if !ok {
		return reasons
	}

	if source.Volume.MinRowCount != nil && rowCount < *source.Volume.MinRowCount {
		reasons = append(reasons, model.Reason{
			Code:    "BELOW_MIN_VOLUME",
			Message: fmt.Sprintf("row_count %d is below min_row_count %d", rowCount, *source.Volume.MinRowCount),
		})
	}

	if summary.SnapshotCount >= 3 && summary.RowCountMedian != nil {
		median := *summary.RowCountMedian
		rowCountF := float64(rowCount)

		if summary.RowCountStdDev != nil && *summary.RowCountStdDev > 0 {
			z := math.Abs(rowCountF-median) / *summary.RowCountStdDev
			if z > source.Volume.DeviationFactor {
				pctDeviation := 0.0
				if median != 0 {
					pctDeviation = (rowCountF - median) / median * 100
				}
				if rowCountF < median {
					reasons = append(reasons, model.Reason{
						Code:    "VOLUME_LOW",
						Message: fmt.Sprintf("row_count %d is %.1f%% below baseline median %.0f (z-score %.2f)", rowCount, -pctDeviation, median, z),
					})
				} else {
					reasons = append(reasons, model.Reason{
						Code:    "VOLUME_HIGH",
						Message: fmt.Sprintf("row_count %d is %.1f%% above baseline median %.0f (z-score %.2f)", rowCount, pctDeviation, median, z),
					})
				}
			}
		} else if rowCountF == 0 && median > 0 {
			reasons = append(reasons, model.Reason{
				Code:    "ZERO_VOLUME",
				Message: fmt.Sprintf("row_count dropped to 0 against a stable baseline median of %.0f", median),
			})
		}
	}

	return reasons
}

func checkSchemaDrift(current model.Snapshot, history []model.Snapshot, source config.SourceConfig) []model.Reason {
	if !source.SchemaDrift || len(current.Schema) == 0 {
		return nil
	}

	var previous []model.SchemaColumn
	var previousAt time.Time
	for _, h := range history {
		if h.IsSuccess() && len(h.Schema) > 0 && (previous == nil || h.CollectedAt.After(previousAt)) {
			previous = h.Schema
			previousAt = h.CollectedAt
		}
	}
	if previous == nil {
		return nil
	}

	prevByName := make(map[string]string, len(previous))
	for _, c := range previous {
		prevByName[c.Name] = c.Type
	}
	currByName := make(map[string]string, len(current.Schema))
	for _, c := range current.Schema {
		currByName[c.Name] = c.Type
	}

	var added, removed, changed []string
	for name, typ := range currByName {
		if prevType, ok := prevByName[name]; !ok {
			added = append(added, name)
		} else if prevType != typ {
			changed = append(changed, name)
		}
	}
	for name := range prevByName {
		if _, ok := currByName[name]; !ok {
			removed = append(removed, name)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(changed) == 0 {
		return nil
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)

	return []model.Reason{{
		Code:    "SCHEMA_DRIFT",
		Message: schemaDriftMessage(added, removed, changed),
	}}
}

func schemaDriftMessage(added, removed, changed []string) string {
	var clauses []string
	if len(added) > 0 {
		clauses = append(clauses, fmt.Sprintf("added=%s", strings.Join(added, "; ")))
	}
	if len(removed) > 0 {
		clauses = append(clauses, fmt.Sprintf("removed=%s", strings.Join(removed, "; ")))
	}
	if len(changed) > 0 {
		clauses = append(clauses, fmt.Sprintf("changed=%s", strings.Join(changed, "; ")))
	}
	return "schema changed: " + strings.Join(clauses, "; ")
}

func deriveStatus(reasons []model.Reason) model.DecisionStatus {
	if len(reasons) == 0 {
		return model.StatusOK
	}
	for _, r := range reasons {
		if anomalyReasons[r.Code] {
			return model.StatusAnomaly
		}
	}
	for _, r := range reasons {
		if warningReasons[r.Code] {
			return model.StatusWarning
		}
	}
	return model.StatusOK
}
