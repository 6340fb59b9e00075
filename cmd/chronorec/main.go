// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

// Package main is the entry point for the chronorec training binary.
//
// Chronorec trains and evaluates a session-based next-item recommender
// incrementally over time-partitioned data: for every time window it trains
// on the windows before a split point and evaluates on the held-out window
// after it, then rolls the split forward. One invocation is one run; the
// binary exits when the last window has been evaluated and the artifacts
// are written.
//
// # Application Architecture
//
// The binary initializes components in the following order:
//
//  1. Configuration: layered YAML file and environment variables (Koanf v2)
//  2. Feature schema: the YAML description of the session columns
//  3. Database: DuckDB over the partitioned parquet tree
//  4. Checkpoint store: BadgerDB under the output directory (if enabled)
//  5. Events publisher: gochannel or NATS JetStream (if enabled)
//  6. Trainer: the window-walking controller
//  7. Supervisor tree: the run plus the debug listener and publisher
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TRAINING_EPOCHS -> training.epochs, ...)
//   - Config file (--config flag, CHRONOREC_CONFIG_PATH, or config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the run at the next batch boundary:
//   - The controller checkpoints completed windows, so a later run with
//     training.resume=true continues after the last evaluated window
//   - The debug listener and events publisher drain with a 10s timeout
//
// # Example Usage
//
// Train incrementally over a partition tree:
//
//	export DATA_ROOT=/data/sessions
//	export DATA_SCHEMA_PATH=/data/sessions/schema.yaml
//	export WINDOW_START_INDEX=0
//	export WINDOW_FINAL_INDEX=12
//	export OUTPUT_DIR=/data/runs/2026-08
//	./chronorec
//
// Resume an interrupted run:
//
//	export TRAINING_RESUME=true
//	./chronorec
//
// Evaluation only, against restored checkpoints:
//
//	export TRAINING_ENABLED=false
//	./chronorec
//
// # Exit Status
//
// The process exits 0 when every window completed, nonzero when the run
// failed or was interrupted before the final window.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/chronorec/chronorec/internal/checkpoint"
	"github.com/chronorec/chronorec/internal/config"
	"github.com/chronorec/chronorec/internal/database"
	"github.com/chronorec/chronorec/internal/events"
	"github.com/chronorec/chronorec/internal/logging"
	"github.com/chronorec/chronorec/internal/schema"
	"github.com/chronorec/chronorec/internal/supervisor"
	"github.com/chronorec/chronorec/internal/trainer"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	// Load configuration first to get logging settings
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("policy", cfg.Window.Policy).
		Int("start_index", cfg.Window.StartIndex).
		Int("final_index", cfg.Window.FinalIndex).
		Str("data_root", cfg.Data.Root).
		Str("output_dir", cfg.Output.Dir).
		Msg("Starting chronorec")

	sch, err := schema.Load(cfg.Data.SchemaPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load feature schema")
	}

	db, err := database.New(&cfg.Data)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Open the checkpoint store before the run so a resume can restore
	// the latest snapshot. The pre-flight check knows to ignore this
	// directory inside the output tree.
	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		dir := cfg.Checkpoint.Dir
		if dir == "" {
			dir = trainer.DefaultCheckpointDir(cfg.Output.Dir)
		}
		store, err = checkpoint.Open(dir, cfg.Checkpoint.SyncWrites)
		if err != nil {
			closeDatabase(db)
			logging.Fatal().Err(err).Str("dir", dir).Msg("Failed to open checkpoint store")
		}
		defer func() {
			if err := store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing checkpoint store")
			}
		}()
		logging.Info().Str("dir", dir).Msg("Checkpoint store opened")
	}

	// The publisher starts the embedded NATS server when configured, so
	// failures here must release the database before exiting.
	var publisher *events.Publisher
	var trainerEvents trainer.Events
	if cfg.Events.Enabled {
		publisher, err = events.New(&cfg.Events, logging.Logger())
		if err != nil {
			closeDatabase(db)
			logging.Fatal().Err(err).Msg("Failed to create events publisher")
		}
		trainerEvents = publisher
		logging.Info().Str("transport", cfg.Events.Transport).Msg("Events publisher created")
	}

	ctrl, err := trainer.New(cfg, sch, db, store, trainerEvents, logging.Logger())
	if err != nil {
		closeDatabase(db)
		logging.Fatal().Err(err).Msg("Failed to create trainer")
	}

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		closeDatabase(db)
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	pipeline := supervisor.NewPipelineService(ctrl)
	tree.AddPipelineService(pipeline)

	if cfg.Metrics.Enabled {
		ready := func() bool { return ctrl.Status().Phase != "" }
		status := func() any { return ctrl.Status() }
		tree.AddObservabilityService(supervisor.NewDebugService(cfg.Metrics.Addr, ready, status))
		logging.Info().Str("addr", cfg.Metrics.Addr).Msg("Debug listener enabled")
	}

	if publisher != nil {
		tree.AddObservabilityService(supervisor.NewEventsService(publisher))
	}

	// Graceful shutdown on SIGINT/SIGTERM; stop also cancels the context
	// once the run completes on its own.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("run_id", ctrl.RunID()).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-pipeline.Done():
		logging.Info().Msg("Run finished, shutting down supervisor tree")
		stop()
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	// Reflect the run result in the exit status. Fatal skips the defers,
	// so release the stores explicitly first.
	if runErr := pipeline.Err(); runErr != nil && !errors.Is(runErr, context.Canceled) {
		closeDatabase(db)
		if store != nil {
			if err := store.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing checkpoint store")
			}
		}
		logging.Fatal().Err(runErr).Msg("Run failed")
	}

	logging.Info().Msg("Chronorec stopped gracefully")
}

func closeDatabase(db *database.DB) {
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing database")
	}
}
