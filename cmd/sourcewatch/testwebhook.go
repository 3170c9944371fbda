package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
	"github.com/sourcewatch/sourcewatch/internal/webhook"
)

var testWebhookTarget string

var testWebhookCmd = &cobra.Command{
	Use:   "test-webhook",
	Short: "Send a synthetic info alert to one or all webhook targets",
	Long: `test-webhook delivers a synthetic "info" event to the configured
webhook targets so an operator can confirm signing and connectivity without
waiting for a real anomaly. It never reads or writes alert state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		targets := app.cfg.Alerting.Webhooks
		if testWebhookTarget != "" {
			targets = nil
			for _, w := range app.cfg.Alerting.Webhooks {
				if w.Name == testWebhookTarget {
					targets = append(targets, w)
				}
			}
			if len(targets) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: no webhook target named %q\n", testWebhookTarget)
				return errExit(1)
			}
		}
		if len(targets) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error: no webhook targets configured")
			return errExit(1)
		}

		client := webhook.NewClient()
		out := cmd.OutOrStdout()
		now := time.Now().UTC()
		failed := false

		for _, w := range targets {
			url, err := config.ResolveEnvVars(w.URL)
			if err != nil {
				fmt.Fprintf(out, "%s: FAILED (resolving URL: %v)\n", w.Name, err)
				failed = true
				continue
			}
			secret, err := config.ResolveEnvVars(w.Secret)
			if err != nil {
				fmt.Fprintf(out, "%s: FAILED (resolving secret: %v)\n", w.Name, err)
				failed = true
				continue
			}

			payload := model.WebhookPayload{
				Version:    "1",
				EventID:    uuid.NewString(),
				EventType:  model.EventInfo,
				Timestamp:  now,
				SourceName: "test-webhook",
				SourceType: "test",
				Decision: map[string]any{
					"status":  string(model.StatusOK),
					"message": "synthetic test delivery, not a real alert",
				},
				AgentID: app.cfg.Agent.ID,
			}

			result := client.Deliver(cmd.Context(), webhook.Target{
				Name:           w.Name,
				URL:            url,
				Secret:         secret,
				TimeoutSeconds: w.TimeoutSeconds,
			}, payload)

			if result.Success {
				fmt.Fprintf(out, "%s: OK (status %d, %d attempt(s), %dms)\n", w.Name, result.StatusCode, result.Attempts, result.LatencyMillis)
			} else {
				fmt.Fprintf(out, "%s: FAILED (%s)\n", w.Name, result.Error)
				failed = true
			}
		}

		if failed {
			return errExit(1)
		}
		return nil
	},
}

func init() {
	testWebhookCmd.Flags().StringVar(&testWebhookTarget, "target", "", "Only deliver to the named webhook target")
}
