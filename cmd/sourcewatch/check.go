package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/model"
)

var (
	checkSource string
	checkForce  bool
	checkDryRun bool
)

type checkResult struct {
	Source   string         `json:"source"`
	Status   string         `json:"status"`
	Metrics  map[string]any `json:"metrics"`
	Reasons  []model.Reason `json:"reasons"`
	Notified []string       `json:"alerts"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one collection pass over due (or all) sources and print results",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		sources := app.cfg.Sources
		if checkSource != "" {
			sources = filterSources(sources, checkSource)
			if len(sources) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: source not found: %s\n", checkSource)
				return errExit(1)
			}
		}

		now := time.Now().UTC()
		var results []checkResult
		hasAnomaly := false

		for _, source := range sources {
			if !source.Enabled {
				continue
			}
			if !checkForce {
				due, err := app.scheduler.IsDue(cmd.Context(), source, now)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Error evaluating schedule for %s: %v\n", source.Name, err)
					return errExit(1)
				}
				if !due {
					continue
				}
			}

			decision, notified, err := app.scheduler.ProcessOnce(cmd.Context(), source, now, checkDryRun)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error checking %s: %v\n", source.Name, err)
				return errExit(1)
			}

			if decision.Status == model.StatusAnomaly || decision.Status == model.StatusWarning {
				hasAnomaly = true
			}

			results = append(results, checkResult{
				Source:   source.Name,
				Status:   string(decision.Status),
				Metrics:  decision.Metrics,
				Reasons:  decision.Reasons,
				Notified: notified,
			})
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(map[string]any{"results": results}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		} else {
			printCheckResults(cmd, results, checkDryRun)
		}

		if hasAnomaly {
			return errExit(2)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkSource, "source", "", "Only check this source")
	checkCmd.Flags().BoolVar(&checkForce, "force", false, "Check sources regardless of schedule")
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Evaluate alerts without delivering them")
}

func filterSources(sources []config.SourceConfig, name string) []config.SourceConfig {
	for _, s := range sources {
		if s.Name == name {
			return []config.SourceConfig{s}
		}
	}
	return nil
}

func printCheckResults(cmd *cobra.Command, results []checkResult, dryRun bool) {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No sources checked")
		return
	}

	fmt.Fprintf(out, "\nChecked %d source(s)\n\n", len(results))
	var ok, warn, anomaly int

	for _, r := range results {
		fmt.Fprintf(out, "%s  %s\n", r.Source, r.Status)
		if rowCount, ok := r.Metrics["row_count"]; ok {
			fmt.Fprintf(out, "  Row count: %v\n", rowCount)
		}
		for _, reason := range r.Reasons {
			fmt.Fprintf(out, "  -> %s\n", reason.Message)
		}
		if len(r.Notified) > 0 {
			if dryRun {
				fmt.Fprintf(out, "  Would alert: %v\n", r.Notified)
			} else {
				fmt.Fprintf(out, "  Sent to: %v\n", r.Notified)
			}
		}
		fmt.Fprintln(out)

		switch r.Status {
		case string(model.StatusOK):
			ok++
		case string(model.StatusWarning):
			warn++
		case string(model.StatusAnomaly):
			anomaly++
		}
	}

	summary := fmt.Sprintf("Summary: %d OK", ok)
	if warn > 0 {
		summary += fmt.Sprintf(", %d WARNING", warn)
	}
	if anomaly > 0 {
		summary += fmt.Sprintf(", %d ANOMALY", anomaly)
	}
	fmt.Fprintln(out, summary)
}

// errExit is a sentinel error whose only job is to carry an exit code back
// to main through cobra's error path without printing a redundant message
// (the command has already printed its own error).
type errExit int

func (e errExit) Error() string { return "" }

func (e errExit) ExitCode() int { return int(e) }
