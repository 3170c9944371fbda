package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeDryRun bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete snapshots and delivery log rows older than the configured retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		out := cmd.OutOrStdout()
		days := app.cfg.Retention.Days
		minKeep := app.cfg.Retention.MinSnapshots

		if purgeDryRun {
			fmt.Fprintf(out, "Dry run: would purge snapshots older than %d days, keeping at least %d per source.\n", days, minKeep)
			return nil
		}

		deleted, err := app.store.PurgeRetention(cmd.Context(), days, minKeep)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}

		fmt.Fprintf(out, "Purged %d row(s) older than %d days (min %d snapshots kept per source).\n", deleted, days, minKeep)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "Report what would be purged without deleting anything")
}
