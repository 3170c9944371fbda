package alertstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

func decisionWith(status model.DecisionStatus, code string) model.Decision {
	return model.Decision{Status: status, Reasons: []model.Reason{{Code: code}}}
}

func TestShouldAlertFirstDecisionAlwaysAlerts(t *testing.T) {
	state := model.NewAlertState("orders", "slack", time.Now())
	decision := decisionWith(model.StatusAnomaly, "ZERO_VOLUME")

	require.True(t, ShouldAlert(decision, state, 60, time.Now()))
}

func TestShouldAlertFalseDuringCooldown(t *testing.T) {
	now := time.Now()
	cooldownUntil := now.Add(30 * time.Minute)
	state := model.AlertState{
		SourceName:    "orders",
		TargetName:    "slack",
		CooldownUntil: &cooldownUntil,
	}
	decision := decisionWith(model.StatusAnomaly, "ZERO_VOLUME")

	require.False(t, ShouldAlert(decision, state, 60, now))
}

func TestShouldAlertTrueAfterCooldownElapses(t *testing.T) {
	now := time.Now()
	cooldownUntil := now.Add(-time.Minute)
	state := model.AlertState{
		SourceName:         "orders",
		TargetName:         "slack",
		NotifiedStatus:     model.StatusAnomaly,
		NotifiedReasonHash: decisionWith(model.StatusAnomaly, "ZERO_VOLUME").ReasonHash(),
		CooldownUntil:      &cooldownUntil,
	}
	decision := decisionWith(model.StatusAnomaly, "STALE_DATA")

	require.True(t, ShouldAlert(decision, state, 60, now))
}

func TestShouldAlertFalseForIdenticalCondition(t *testing.T) {
	now := time.Now()
	decision := decisionWith(model.StatusAnomaly, "ZERO_VOLUME")
	state := model.AlertState{
		SourceName:         "orders",
		TargetName:         "slack",
		NotifiedStatus:     decision.Status,
		NotifiedReasonHash: decision.ReasonHash(),
	}

	require.False(t, ShouldAlert(decision, state, 60, now))
}

func TestShouldAlertTrueForChangedReason(t *testing.T) {
	now := time.Now()
	state := model.AlertState{
		SourceName:         "orders",
		TargetName:         "slack",
		NotifiedStatus:     model.StatusAnomaly,
		NotifiedReasonHash: decisionWith(model.StatusAnomaly, "ZERO_VOLUME").ReasonHash(),
	}
	decision := decisionWith(model.StatusAnomaly, "STALE_DATA")

	require.True(t, ShouldAlert(decision, state, 60, now))
}

func TestAdvanceSetsCooldownAndNotifiedFields(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	state := model.NewAlertState("orders", "slack", now.Add(-time.Hour))
	decision := decisionWith(model.StatusAnomaly, "ZERO_VOLUME")

	advanced := Advance(state, decision, 60, now)

	require.Equal(t, model.StatusAnomaly, advanced.NotifiedStatus)
	require.Equal(t, decision.ReasonHash(), advanced.NotifiedReasonHash)
	require.Equal(t, now, advanced.LastChangeAt)
	require.NotNil(t, advanced.LastSentAt)
	require.Equal(t, now, *advanced.LastSentAt)
	require.NotNil(t, advanced.CooldownUntil)
	require.Equal(t, now.Add(60*time.Minute), *advanced.CooldownUntil)
}
