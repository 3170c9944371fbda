package main

import (
	"fmt"
	"log/slog"

	"github.com/sourcewatch/sourcewatch/internal/alerting"
	"github.com/sourcewatch/sourcewatch/internal/config"
	"github.com/sourcewatch/sourcewatch/internal/scheduler"
	"github.com/sourcewatch/sourcewatch/internal/store"
	"github.com/sourcewatch/sourcewatch/internal/webhook"

	// Blank-imported so their init() functions register with the connector
	// registry; cmd/sourcewatch is the only package that needs every
	// dialect linked in.
	_ "github.com/sourcewatch/sourcewatch/internal/connector"
)

// app bundles the dependencies every subcommand needs after loading config.
type app struct {
	cfg       *config.Config
	store     *store.Store
	log       *slog.Logger
	pipeline  *alerting.Pipeline
	scheduler *scheduler.Scheduler
}

// openApp loads configuration, opens the state store, and wires the
// alerting pipeline and scheduler, in the shape the teacher's
// get_storage/setup_logging pair establishes before any command body runs.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg)

	s, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	pipeline := alerting.New(s, webhook.NewClient(), cfg.Agent.ID, log)
	sched := scheduler.New(cfg, s, pipeline, log)

	return &app{cfg: cfg, store: s, log: log, pipeline: pipeline, scheduler: sched}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
