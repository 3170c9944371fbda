package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/lockfile"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sourcewatch agent as a long-lived daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		defer func() { _ = app.Close() }()

		lock, err := lockfile.AcquireDaemonLock(filepath.Dir(app.cfg.Storage.Path), app.cfg.Storage.Path, Version)
		if err != nil {
			if lockfile.IsLocked(err) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: another sourcewatch daemon is already running against %s\n", app.cfg.Storage.Path)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error: acquiring daemon lock:", err)
			}
			return errExit(1)
		}
		defer func() { _ = lock.Close() }()

		app.log.Info("sourcewatch agent starting",
			"agent_id", app.cfg.Agent.ID,
			"sources", len(app.cfg.Sources),
			"webhooks", len(app.cfg.Alerting.Webhooks),
		)

		watcher, err := config.Watch(configPath, func() {
			reloaded, err := config.Load(configPath)
			if err != nil {
				app.log.Error("config reload failed, keeping previous config", "path", configPath, "error", err)
				return
			}
			app.scheduler.UpdateConfig(reloaded)
			app.log.Info("config reloaded", "path", configPath, "sources", len(reloaded.Sources), "webhooks", len(reloaded.Alerting.Webhooks))
		})
		if err != nil {
			app.log.Warn("config hot-reload disabled", "path", configPath, "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.scheduler.Run(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			return errExit(1)
		}
		return nil
	},
}
