// Package alerting composes detection, the per-target cooldown state
// machine, and webhook delivery into a single pipeline run per source per
// scheduler tick, grounded on the original alerting pipeline's
// process_source/_notify_target flow.
package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sourcewatch/sourcewatch/internal/alertstate"
	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
	"github.com/sourcewatch/sourcewatch/internal/store"
	"github.com/sourcewatch/sourcewatch/internal/telemetry"
	"github.com/sourcewatch/sourcewatch/internal/webhook"
)

// Delivery abstracts webhook.Client so tests can substitute a fake sender
// without spinning up an HTTP server.
type Delivery interface {
	Deliver(ctx context.Context, target webhook.Target, payload model.WebhookPayload) model.DeliveryResult
}

// Pipeline evaluates a decision against every configured webhook target and
// delivers alerts that clear the cooldown/dedup gate.
type Pipeline struct {
	store    *store.Store
	delivery Delivery
	agentID  string
	log      *slog.Logger
}

// New returns a Pipeline backed by s for state persistence and d for
// delivery.
func New(s *store.Store, d Delivery, agentID string, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: s, delivery: d, agentID: agentID, log: log}
}

// eventTypeFor maps a decision's status to the webhook event type, treating
// a transition back to StatusOK from a previously notified non-OK status as
// a recovery event.
func eventTypeFor(decision model.Decision, state model.AlertState) model.EventType {
	switch decision.Status {
	case model.StatusAnomaly:
		return model.EventAnomaly
	case model.StatusWarning:
		return model.EventWarning
	case model.StatusOK:
		if state.NotifiedStatus == model.StatusAnomaly || state.NotifiedStatus == model.StatusWarning {
			return model.EventRecovery
		}
		return model.EventInfo
	default:
		return model.EventInfo
	}
}

// Process runs decision through every webhook target configured on the
// source and returns the targets that were actually notified. A target not
// subscribed to the derived event type, still inside its cooldown window, or
// last notified with the same status and reason hash, is skipped without a
// delivery attempt or log row; every attempted delivery is logged regardless
// of outcome.
func (p *Pipeline) Process(ctx context.Context, source config.SourceConfig, decision model.Decision, cfg config.AlertingConfig, now time.Time) ([]string, error) {
	var notified []string

	for _, target := range cfg.Webhooks {
		state, err := p.store.GetAlertState(ctx, source.Name, target.Name)
		if err != nil && !store.IsNotFound(err) {
			return notified, fmt.Errorf("loading alert state for %s/%s: %w", source.Name, target.Name, err)
		}
		if store.IsNotFound(err) {
			state = model.NewAlertState(source.Name, target.Name, now)
		}

		eventType := eventTypeFor(decision, state)
		if !target.HasEvent(string(eventType)) {
			continue
		}
		if !alertstate.ShouldAlert(decision, state, cfg.CooldownMinutes, now) {
			continue
		}

		url, err := config.ResolveEnvVars(target.URL)
		if err != nil {
			return notified, fmt.Errorf("resolving webhook %s URL: %w", target.Name, err)
		}
		secret, err := config.ResolveEnvVars(target.Secret)
		if err != nil {
			return notified, fmt.Errorf("resolving webhook %s secret: %w", target.Name, err)
		}

		payload := model.WebhookPayload{
			Version:         "1",
			EventID:         uuid.NewString(),
			EventType:       eventType,
			Timestamp:       now,
			SourceName:      source.Name,
			SourceType:      source.Type,
			Decision:        decision.ToMap(),
			Metrics:         decision.Metrics,
			BaselineSummary: baselineMap(decision),
			AgentID:         p.agentID,
		}

		result := p.delivery.Deliver(ctx, webhook.Target{
			Name:           target.Name,
			URL:            url,
			Secret:         secret,
			TimeoutSeconds: target.TimeoutSeconds,
		}, payload)

		telemetry.RecordDelivery(ctx, target.Name, result.Success, result.Attempts, result.LatencyMillis)

		payloadHash := payloadHashFor(payload)
		if err := p.store.LogDelivery(ctx, source.Name, target.Name, string(eventType), payloadHash, result); err != nil {
			p.log.Error("failed to log delivery", "source", source.Name, "target", target.Name, "error", err)
		}

		if !result.Success {
			p.log.Warn("webhook delivery failed", "source", source.Name, "target", target.Name, "attempts", result.Attempts, "error", result.Error)
			continue
		}

		newState := alertstate.Advance(state, decision, cfg.CooldownMinutes, now)
		if err := p.store.SetAlertState(ctx, newState); err != nil {
			return notified, fmt.Errorf("persisting alert state for %s/%s: %w", source.Name, target.Name, err)
		}
		notified = append(notified, target.Name)
	}

	return notified, nil
}

// WouldNotify reports which webhook targets would receive a delivery for
// decision without sending anything or touching persisted alert state. It
// applies the same subscription and cooldown gate as Process, so dry-run
// output matches what a real run would do.
func (p *Pipeline) WouldNotify(ctx context.Context, source config.SourceConfig, decision model.Decision, cfg config.AlertingConfig, now time.Time) []string {
	var would []string

	for _, target := range cfg.Webhooks {
		state, err := p.store.GetAlertState(ctx, source.Name, target.Name)
		if err != nil {
			if !store.IsNotFound(err) {
				p.log.Error("failed to load alert state for dry run", "source", source.Name, "target", target.Name, "error", err)
				continue
			}
			state = model.NewAlertState(source.Name, target.Name, now)
		}

		eventType := eventTypeFor(decision, state)
		if !target.HasEvent(string(eventType)) {
			continue
		}
		if !alertstate.ShouldAlert(decision, state, cfg.CooldownMinutes, now) {
			continue
		}
		would = append(would, target.Name)
	}

	return would
}

func baselineMap(decision model.Decision) map[string]any {
	if decision.BaselineSummary == nil {
		return nil
	}
	return decision.BaselineSummary.ToMap()
}

func payloadHashFor(payload model.WebhookPayload) string {
	body, err := payload.CanonicalJSON()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}
