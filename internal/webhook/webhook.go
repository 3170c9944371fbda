// Package webhook delivers signed alert payloads to configured targets,
// grounded on the original webhook notifier's fixed-delay retry list and
// header-signing conventions, and on the teacher's sendWebhook HTTP POST
// pattern.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sourcewatch/sourcewatch/internal/model"
)

var retryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

var retryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Target is the subset of webhook configuration the delivery client needs;
// URL and Secret are expected to already have ${VAR} interpolation resolved.
type Target struct {
	Name           string
	URL            string
	Secret         string
	TimeoutSeconds int
}

// Client delivers webhook payloads with the fixed-delay retry policy.
type Client struct {
	httpClient *http.Client
	// RetryDelays overrides the production {1s, 5s, 15s} sequence; tests set
	// this to negligible durations so the retry path doesn't burn real time.
	RetryDelays []time.Duration
}

// NewClient returns a Client using http.DefaultTransport with per-request
// timeouts applied via context, not the client's own Timeout field, so a
// target's configured timeout can vary per call.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}, RetryDelays: retryDelays}
}

// Deliver sends payload to target, retrying transient failures at the fixed
// delays {1s, 5s, 15s} for up to 4 total attempts. latency_ms in the
// returned DeliveryResult spans the whole retry sequence.
func (c *Client) Deliver(ctx context.Context, target Target, payload model.WebhookPayload) model.DeliveryResult {
	start := time.Now()

	body, err := payload.CanonicalJSON()
	if err != nil {
		return model.DeliveryResult{
			Success:       false,
			Error:         fmt.Sprintf("marshaling payload: %v", err),
			LatencyMillis: time.Since(start).Milliseconds(),
			Attempts:      0,
		}
	}

	attempts := 0
	var lastStatusCode int
	var lastErr error

	operation := func() error {
		attempts++
		statusCode, err := c.send(ctx, target, payload, body)
		lastStatusCode = statusCode
		if err == nil {
			return nil
		}
		lastErr = err
		if statusCode != 0 && !retryableStatusCodes[statusCode] {
			return backoff.Permanent(err)
		}
		return err
	}

	delays := c.RetryDelays
	if delays == nil {
		delays = retryDelays
	}
	boff := fixedDelaySequence(delays)
	retryErr := backoff.Retry(operation, backoff.WithContext(boff, ctx))

	result := model.DeliveryResult{
		StatusCode:    lastStatusCode,
		LatencyMillis: time.Since(start).Milliseconds(),
		Attempts:      attempts,
	}
	switch {
	case retryErr == nil:
		result.Success = true
	case isRejectedByTarget(lastStatusCode):
		// A non-retryable 4xx (anything but 408/429) means the target
		// received and rejected the payload; that's not our job to retry,
		// so delivery is considered complete rather than failed.
		result.Success = true
		result.Error = lastErr.Error()
	default:
		result.Success = false
		result.Error = lastErr.Error()
	}
	return result
}

// isRejectedByTarget reports whether statusCode is a non-retryable 4xx
// response, i.e. the target explicitly rejected the payload rather than
// failing transiently.
func isRejectedByTarget(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500 && !retryableStatusCodes[statusCode]
}

func (c *Client) send(ctx context.Context, target Target, payload model.WebhookPayload, body []byte) (int, error) {
	timeout := 10 * time.Second
	if target.TimeoutSeconds > 0 {
		timeout = time.Duration(target.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sourcewatch-Event", string(payload.EventType))
	req.Header.Set("X-Sourcewatch-Timestamp", payload.Timestamp.Format(time.RFC3339))
	req.Header.Set("X-Sourcewatch-Event-ID", payload.EventID)
	if target.Secret != "" {
		req.Header.Set("X-Sourcewatch-Signature", fmt.Sprintf("sha256=%s", sign(target.Secret, body)))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delivering webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return resp.StatusCode, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.StatusCode, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// fixedDelaySequence adapts a fixed list of delays into a backoff.BackOff,
// so the retry loop can reuse backoff.Retry's attempt/Permanent machinery
// instead of a hand-rolled sleep loop, while still sending exactly the
// {1s, 5s, 15s} delays the original notifier used.
type fixedBackOff struct {
	delays []time.Duration
	index  int
}

func fixedDelaySequence(delays []time.Duration) backoff.BackOff {
	return &fixedBackOff{delays: delays}
}

func (f *fixedBackOff) NextBackOff() time.Duration {
	if f.index >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.index]
	f.index++
	return d
}

func (f *fixedBackOff) Reset() {
	f.index = 0
}
