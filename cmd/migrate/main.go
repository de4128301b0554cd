// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command migrate loads the movie dataset exports into the movie graph.
//
// By default it runs one migration and exits non-zero when the run failed.
// With -listen it waits for Cloud Storage notifications on the configured
// Pub/Sub subscription and runs a migration for each of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-movie-migration/internal/api"
	"github.com/jaycherian/gcp-go-movie-migration/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	listen := flag.Bool("listen", false, "run a migration for every message on trigger.subscription instead of once")
	flag.Parse()

	config, err := GetConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := telemetry.SetupLogging(os.Stdout, config.Telemetry.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupOpenTelemetry(ctx, config)
	if err != nil {
		slog.Error("failed to set up OpenTelemetry", "error", err)
		return 1
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("failed to shut down OpenTelemetry", "error", err)
		}
	}()

	state, err := InitState(ctx, config)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return 1
	}
	defer state.Close(context.Background())

	srv := startStatusServer(config.Status.Address, config.Application.Name, state)
	defer stopStatusServer(srv)

	if *listen {
		done, err := SetupListener(ctx, state)
		if err != nil {
			slog.Error("failed to start listener", "error", err)
			return 1
		}
		<-ctx.Done()
		slog.Info("shutting down listener")
		<-done
		return 0
	}

	report, err := state.workflow.Run(ctx)
	if err != nil {
		if report != nil {
			slog.Error("migration failed", "run_id", report.RunID, "state", report.State())
		}
		return 1
	}
	return 0
}

// startStatusServer serves the status API on addr in the background. An empty
// addr disables it and returns nil.
func startStatusServer(addr string, service string, state *StateManager) *http.Server {
	if addr == "" {
		return nil
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(service, state.workflow),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", "error", err)
		}
	}()
	slog.Info("status server ready", "address", addr)
	return srv
}

// stopStatusServer shuts srv down, waiting up to five seconds for requests in
// flight.
func stopStatusServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("status server shutdown failed", "error", err)
	}
}
