package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/store"
)

type sourceStatus struct {
	Source    string `json:"source"`
	LastCheck string `json:"last_check"`
	Status    string `json:"status"`
	RowCount  *int64 `json:"row_count"`
	Enabled   bool   `json:"enabled"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last check status for every configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		var statuses []sourceStatus
		for _, source := range app.cfg.Sources {
			last, err := app.store.LastSnapshot(cmd.Context(), source.Name)
			if err != nil {
				if store.IsNotFound(err) {
					statuses = append(statuses, sourceStatus{Source: source.Name, Status: "NEVER_CHECKED", Enabled: source.Enabled})
					continue
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return errExit(1)
			}

			entry := sourceStatus{
				Source:    source.Name,
				LastCheck: last.CollectedAt.Format("2006-01-02T15:04:05Z07:00"),
				Status:    string(last.CollectStatus),
				Enabled:   source.Enabled,
			}
			if rowCount, ok := last.RowCount(); ok {
				entry.RowCount = &rowCount
			}
			statuses = append(statuses, entry)
		}

		if jsonOutput {
			out, _ := json.MarshalIndent(statuses, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-24s %-24s %-16s %-12s %s\n", "SOURCE", "LAST CHECK", "STATUS", "ROW COUNT", "ENABLED")
		for _, s := range statuses {
			lastCheck := s.LastCheck
			if lastCheck == "" {
				lastCheck = "-"
			}
			rowCount := "-"
			if s.RowCount != nil {
				rowCount = fmt.Sprintf("%d", *s.RowCount)
			}
			fmt.Fprintf(out, "%-24s %-24s %-16s %-12s %v\n", s.Source, lastCheck, s.Status, rowCount, s.Enabled)
		}
		return nil
	},
}
