// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

/*
Package supervisor provides process supervision for Chronorec using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of everything that runs alongside a training run. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation, and
graceful shutdown.

# Overview

The supervisor tree organizes services into two layers for failure isolation:

	RootSupervisor ("chronorec")
	├── PipelineSupervisor ("pipeline-layer")
	│   └── PipelineService (the run itself, one-shot)
	└── ObservabilitySupervisor ("observability-layer")
	    ├── DebugService (metrics/health HTTP, if metrics.enabled)
	    └── EventsService (publisher lifecycle, if events.enabled)

This hierarchy ensures that:
  - A wedged debug listener or a lost broker connection is restarted
    without disturbing the run
  - The run's completion drains the pipeline layer while observability
    keeps serving until shutdown

# The One-Shot Pipeline

Unlike a server, a training run must not be restarted by its supervisor: a
rerun would trip the output pre-flight check and replay windows whose
results are already recorded. PipelineService therefore executes its Runner
exactly once and returns suture.ErrDoNotRestart, which tells suture the
service is complete. The caller waits on PipelineService.Done and reads
Err to decide the exit code:

	pipeline := supervisor.NewPipelineService(controller)
	tree.AddPipelineService(pipeline)

	errCh := tree.ServeBackground(ctx)
	select {
	case <-pipeline.Done():
	    cancel() // run finished, wind down the rest of the tree
	case err := <-errCh:
	    ...
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // Failures before backoff
	    FailureDecay:     30.0,             // Seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // Backoff duration
	    ShutdownTimeout:  10 * time.Second, // Per-service shutdown timeout
	}

Default values match suture's production-ready defaults. Zero-valued
fields are filled with the defaults by NewSupervisorTree.

# Structured Logging

Supervisor events (starts, stops, failures, backoffs) are logged through a
sutureslog.Handler, so they land in the same zerolog stream as the rest of
the process via the slog bridge in internal/logging.

# What Is NOT Supervised

DuckDB is intentionally not supervised:
  - It is an embedded library, not a long-running service
  - Connections are managed by the database package
  - A crash inside DuckDB would require a process restart anyway

The checkpoint store is opened and closed by the caller; it has no serve
loop to supervise.

# Debugging Shutdown Issues

If services don't stop within the timeout:

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

Common causes:
  - Goroutines not respecting context cancellation
  - Blocked network I/O without deadlines
*/
package supervisor
