package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history SOURCE",
	Short: "Show recent snapshots for one source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceName := args[0]

		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		snapshots, err := app.store.ListSnapshots(cmd.Context(), sourceName, historyLimit, 365, false)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}

		if jsonOutput {
			type entry struct {
				CollectedAt string         `json:"collected_at"`
				Status      string         `json:"status"`
				Metrics     map[string]any `json:"metrics"`
			}
			entries := make([]entry, len(snapshots))
			for i, s := range snapshots {
				entries[i] = entry{
					CollectedAt: s.CollectedAt.Format("2006-01-02T15:04:05Z07:00"),
					Status:      string(s.CollectStatus),
					Metrics:     s.Metrics,
				}
			}
			out, _ := json.MarshalIndent(entries, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		out := cmd.OutOrStdout()
		if len(snapshots) == 0 {
			fmt.Fprintf(out, "No history for source: %s\n", sourceName)
			return nil
		}

		fmt.Fprintf(out, "History: %s\n\n", sourceName)
		fmt.Fprintf(out, "%-20s %-16s %-12s %s\n", "TIME", "STATUS", "ROW COUNT", "LATEST DATA")
		for _, s := range snapshots {
			rowCount := "-"
			if rc, ok := s.RowCount(); ok {
				rowCount = fmt.Sprintf("%d", rc)
			}
			latest := "-"
			if ts, ok := s.LatestTimestamp(); ok {
				latest = ts.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(out, "%-20s %-16s %-12s %s\n", s.CollectedAt.Format("2006-01-02 15:04:05"), s.CollectStatus, rowCount, latest)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of snapshots to show")
}
