// Package alertstate implements the per-(source,target) cooldown and
// deduplication state machine, grounded on the original AlertState's
// should_alert logic and advance-on-delivery transitions.
package alertstate

import (
	"time"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

// ShouldAlert reports whether decision warrants a new delivery attempt
// against state, given cooldownMinutes and the current time. The very
// first decision for a (source,target) pair is always alertable, since a
// fresh State starts with NotifiedStatus == StatusUnknown.
func ShouldAlert(decision model.Decision, state model.AlertState, cooldownMinutes int, now time.Time) bool {
	if state.CooldownUntil != nil && now.Before(*state.CooldownUntil) {
		return false
	}
	if decision.Status == state.NotifiedStatus && decision.ReasonHash() == state.NotifiedReasonHash {
		return false
	}
	return true
}

// Advance returns the state that should be persisted after a successful
// delivery of decision: the notified status/reason hash move to decision's,
// and a fresh cooldown window opens from now.
func Advance(state model.AlertState, decision model.Decision, cooldownMinutes int, now time.Time) model.AlertState {
	cooldownUntil := now.Add(time.Duration(cooldownMinutes) * time.Minute)
	state.NotifiedStatus = decision.Status
	state.NotifiedReasonHash = decision.ReasonHash()
	state.LastChangeAt = now
	state.LastSentAt = &now
	state.CooldownUntil = &cooldownUntil
	return state
}
