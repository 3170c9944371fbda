package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/baseline"
	"github.com/sourcewatch/sourcewatch/internal/config"
)

var explainCmd = &cobra.Command{
	Use:   "explain SOURCE",
	Short: "Show the current baseline and thresholds for one source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceName := args[0]

		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		var source *config.SourceConfig
		for i := range app.cfg.Sources {
			if app.cfg.Sources[i].Name == sourceName {
				source = &app.cfg.Sources[i]
				break
			}
		}
		if source == nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: source not found: %s\n", sourceName)
			return errExit(1)
		}

		history, err := app.store.ListSnapshots(cmd.Context(), sourceName, app.cfg.Baseline.WindowSize, app.cfg.Baseline.MaxAgeDays, true)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		summary := baseline.Compute(history)

		if jsonOutput {
			out, _ := json.MarshalIndent(map[string]any{
				"source":         sourceName,
				"baseline":       summary.ToMap(),
				"snapshot_count": summary.SnapshotCount,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Source: %s\n\n", sourceName)
		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  Schedule: %s\n", source.Schedule)
		if source.Freshness.MaxAgeHours != nil {
			fmt.Fprintf(out, "  Freshness max age: %.1fh\n", *source.Freshness.MaxAgeHours)
		}
		if source.Volume.MinRowCount != nil {
			fmt.Fprintf(out, "  Volume min: %d\n", *source.Volume.MinRowCount)
		}
		fmt.Fprintf(out, "  Deviation factor: %.1f\n", source.Volume.DeviationFactor)

		fmt.Fprintf(out, "\nBaseline (from %d snapshots):\n", summary.SnapshotCount)
		if summary.SnapshotCount > 0 && summary.RowCountMedian != nil {
			fmt.Fprintf(out, "  Row count median: %.0f\n", *summary.RowCountMedian)
			fmt.Fprintf(out, "  Row count range: %.0f - %.0f\n", *summary.RowCountMin, *summary.RowCountMax)
			if summary.RowCountStdDev != nil {
				fmt.Fprintf(out, "  Row count stddev: %.1f\n", *summary.RowCountStdDev)
			}
			if summary.ExpectedIntervalSeconds != nil {
				fmt.Fprintf(out, "  Expected interval: %.1fh\n", *summary.ExpectedIntervalSeconds/3600)
			}
		} else {
			fmt.Fprintln(out, "  No baseline data yet")
		}
		return nil
	},
}
