// Chronorec - Incremental Training and Evaluation for Session-Based Recommenders
// Copyright 2026 The Chronorec Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronorec/chronorec

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
)

// Runner is the one-shot pipeline lifecycle: Run walks every window,
// writes the final artifacts, and returns. Satisfied by
// *trainer.Controller.
type Runner interface {
	Run(ctx context.Context) error
}

// PipelineService adapts a Runner to suture's Serve pattern.
//
// A training run is one-shot: restarting a failed run would trip the
// output pre-flight check and replay windows that already recorded
// results. Serve therefore executes Run exactly once and returns
// suture.ErrDoNotRestart so the supervisor drops the service instead
// of restarting it. The caller watches Done and inspects Err to decide
// the process exit code.
type PipelineService struct {
	runner Runner
	name   string

	once sync.Once
	err  error
	done chan struct{}
}

// NewPipelineService wraps a Runner as a supervised one-shot service.
func NewPipelineService(runner Runner) *PipelineService {
	return &PipelineService{
		runner: runner,
		name:   "training-pipeline",
		done:   make(chan struct{}),
	}
}

// Serve implements suture.Service.
//
// The first call executes the run and records its result. Any later
// call (suture re-invoking a service it has not yet removed) is a
// no-op. When the context is canceled the context error is returned so
// suture treats the stop as a normal shutdown; otherwise
// suture.ErrDoNotRestart tells the supervisor the service is complete.
func (s *PipelineService) Serve(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.runner.Run(ctx)
		close(s.done)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return suture.ErrDoNotRestart
}

// Done is closed when the run has finished, successfully or not.
func (s *PipelineService) Done() <-chan struct{} {
	return s.done
}

// Err returns the run's result once Done is closed, nil before that.
func (s *PipelineService) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// String implements fmt.Stringer for logging.
func (s *PipelineService) String() string {
	return s.name
}

// DebugService serves the operational endpoints: Prometheus metrics,
// liveness/readiness probes, and a JSON snapshot of run progress.
//
// Routes:
//   - GET /healthz - liveness, always 200 while the listener runs
//   - GET /readyz  - readiness, 503 until the ready func reports true
//   - GET /metrics - Prometheus exposition (default registry)
//   - GET /statusz - JSON of the status func result
type DebugService struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	name            string
}

// NewDebugService builds the debug listener on addr.
//
// ready may be nil, in which case /readyz always reports ready. status
// may be nil, in which case /statusz serves an empty object. The
// listener is meant to be bind-local; nothing on it is authenticated.
func NewDebugService(addr string, ready func() bool, status func() any) *DebugService {
	return &DebugService{
		addr:            addr,
		handler:         debugHandler(ready, status),
		shutdownTimeout: 10 * time.Second,
		name:            "debug-http",
	}
}

// debugHandler assembles the chi router for the debug endpoints.
func debugHandler(ready func() bool, status func() any) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var v any = struct{}{}
		if status != nil {
			v = status()
		}
		if err := json.NewEncoder(w).Encode(v); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return r
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the HTTP server in a goroutine
//  2. Waits for either a server error or context cancellation
//  3. On cancellation, gracefully shuts down with the configured timeout
//
// http.ErrServerClosed is filtered out as it indicates normal shutdown.
//
// The http.Server is built per invocation: a shut-down server cannot
// listen again, and suture may restart the service after a failure.
func (s *DebugService) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("debug server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// Graceful shutdown with a fresh context since ctx is canceled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("debug server shutdown failed: %w", err)
		}

		// Wait for the serve goroutine to finish
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for logging.
func (s *DebugService) String() string {
	return s.name
}

// EventsService ties an events publisher's lifetime to the tree.
//
// The publisher itself is passive (the trainer calls it), so all the
// service does is hold it open until shutdown and then close it, which
// flushes the transport and stops the embedded broker when one is
// running.
type EventsService struct {
	closer io.Closer
	name   string
}

// NewEventsService wraps the publisher's closer as a supervised service.
func NewEventsService(closer io.Closer) *EventsService {
	return &EventsService{
		closer: closer,
		name:   "events-publisher",
	}
}

// Serve implements suture.Service. Blocks until the context is
// canceled, then closes the publisher.
func (s *EventsService) Serve(ctx context.Context) error {
	<-ctx.Done()

	if err := s.closer.Close(); err != nil {
		return fmt.Errorf("events publisher close failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *EventsService) String() string {
	return s.name
}
