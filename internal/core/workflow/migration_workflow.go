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

// Package workflow assembles the commands into the migration run. This file,
// `migration_workflow.go`, defines MigrationWorkflow, the top level command of
// the service.
//
// Logic Flow:
// A run starts from the command line (Run) or from a Pub/Sub notification
// (Execute, driven by cloud.PubSubListener). Either way:
//
//  1. A fresh run report is created and published to the chain context.
//  2. A chain is built for the run: the trigger parser when a notification
//     is piped in, then the movies, ratings, keywords and credits passes. The
//     resolver and the rating aggregator are created per run.
//  3. The unique indexes of the store are ensured.
//  4. The chain executes. The first failed stage stops it.
//  5. The outcome and one summary line per stage are logged, and the report
//     is handed to the reporter (BigQuery) when one is set.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-movie-migration/internal/cloud"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/batch"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/commands"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/cor"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/services"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
)

// ErrRunInProgress is returned by Run while another run holds the workflow.
var ErrRunInProgress = errors.New("a migration run is already in progress")

// MigrationWorkflow runs the four migration stages in order: movies, ratings,
// keywords, credits. Each stage streams one source table in batches; a source
// or storage failure ends the run as failed and skips the remaining stages.
// Runs are serialized; the workflow is a cor.Command so a Pub/Sub listener can
// drive it, in which case the piped message names the source directory.
type MigrationWorkflow struct {
	cor.BaseCommand
	config   *cloud.Config
	store    store.Store
	opener   commands.Opener
	reporter cor.Command

	running sync.Mutex
	mu      sync.Mutex
	last    *model.RunReport
}

// NewMigrationWorkflow creates the workflow over s, reading sources through
// opener.
//
// Inputs:
//   - config: The service configuration. Sources, batch size, worker count
//     and the rating scope are read from it at the start of every run.
//   - s: The store the graph is written to.
//   - opener: Opens the source of each pass.
//
// Outputs:
//   - *MigrationWorkflow: A pointer to the newly instantiated workflow.
func NewMigrationWorkflow(config *cloud.Config, s store.Store, opener commands.Opener) *MigrationWorkflow {
	return &MigrationWorkflow{
		BaseCommand: *cor.NewBaseCommand("migration-workflow"),
		config:      config,
		store:       s,
		opener:      opener,
	}
}

// SetReporter sets the command persisting the report after every run. Its
// failure is logged and does not change the outcome of the run.
func (m *MigrationWorkflow) SetReporter(reporter cor.Command) {
	m.reporter = reporter
}

// IsExecutable only needs a Go context; the trigger message is optional.
func (m *MigrationWorkflow) IsExecutable(context cor.Context) bool {
	return context != nil && context.GetContext() != nil
}

// Run executes one migration and returns its report. The error joins the
// failures of every stage that failed.
//
// Inputs:
//   - ctx: The context of the run. Cancelling it fails the running stage.
//
// Outputs:
//   - *model.RunReport: The report of the run, nil only with ErrRunInProgress.
//   - error: ErrRunInProgress when another run holds the workflow, or the
//     failures of the run.
func (m *MigrationWorkflow) Run(ctx context.Context) (*model.RunReport, error) {
	if !m.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer m.running.Unlock()

	chCtx := cor.NewBaseContext(ctx)
	m.execute(chCtx)
	report, _ := chCtx.Get(commands.ParamRunReport).(*model.RunReport)
	return report, chCtx.Err()
}

// Execute runs one migration on context. When context carries a string under
// cor.CtxIn it is parsed as the Cloud Storage notification that triggered the
// run.
func (m *MigrationWorkflow) Execute(context cor.Context) {
	m.running.Lock()
	defer m.running.Unlock()
	m.execute(context)
}

// execute runs one migration; the caller holds m.running.
func (m *MigrationWorkflow) execute(context cor.Context) {
	ctx := context.GetContext()
	report := model.NewRunReport(uuid.NewString())
	context.Add(commands.ParamRunReport, report)
	m.mu.Lock()
	m.last = report
	m.mu.Unlock()

	_, triggered := context.Get(cor.CtxIn).(string)
	chain := m.newChain(report.RunID, triggered)

	slog.InfoContext(ctx, "starting migration", "run_id", report.RunID, "stages", strings.Join(chain.Commands(), ","))
	report.Begin()

	// Without the indexes the resolver still deduplicates within the process.
	if err := m.store.EnsureIndexes(ctx); err != nil {
		slog.WarnContext(ctx, "failed to ensure indexes; duplicates are only prevented in process", "error", err)
	}

	chain.Execute(context)
	failed := context.HasErrors()
	report.End(failed)

	summary := report.Snapshot()
	if failed {
		m.GetErrorCounter().Add(ctx, 1)
		slog.ErrorContext(ctx, "migration failed", "run_id", report.RunID, "error", context.Err())
	} else {
		m.GetSuccessCounter().Add(ctx, 1)
		slog.InfoContext(ctx, "All files processed", "run_id", report.RunID)
	}
	for _, s := range summary.Stages {
		slog.InfoContext(ctx, "stage summary",
			"run_id", report.RunID,
			"stage", s.Stage,
			"source", s.Source,
			"rows_read", s.RowsRead,
			"rows_skipped", s.RowsSkipped,
			"record_errors", s.RecordErrors,
			"decode_errors", s.DecodeErrors,
			"batches", s.Batches,
			"movies_written", s.MoviesWritten,
			"ratings_applied", s.RatingsApplied,
			"ratings_cleared", s.RatingsCleared,
			"entities_created", s.EntitiesCreated,
			"links_added", s.LinksAdded,
			"duration_seconds", s.DurationSeconds,
			"error", s.Error)
	}

	m.persist(ctx, report)
}

// persist hands the report to the reporter. Its failure is only logged.
func (m *MigrationWorkflow) persist(ctx context.Context, report *model.RunReport) {
	if m.reporter == nil {
		return
	}
	reportCtx := cor.NewBaseContext(ctx)
	reportCtx.Add(commands.ParamRunReport, report)
	if !m.reporter.IsExecutable(reportCtx) {
		return
	}
	m.reporter.Execute(reportCtx)
	if err := reportCtx.Err(); err != nil {
		slog.ErrorContext(ctx, "failed to persist run report", "run_id", report.RunID, "error", err)
	}
}

// Snapshot returns the report of the current or most recent run.
func (m *MigrationWorkflow) Snapshot() (model.RunSummary, bool) {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last == nil {
		return model.RunSummary{}, false
	}
	return last.Snapshot(), true
}

// newChain builds the stages of one run. Resolver and aggregator state is
// scoped to the run.
func (m *MigrationWorkflow) newChain(runID string, triggered bool) *cor.BaseChain {
	workers := m.config.Application.Workers
	reader := batch.NewReader(m.config.Application.BatchSize)
	resolver := services.NewResolver(m.store, workers)
	linker := services.NewLinker(m.store)
	aggregator := services.NewRatingAggregator(m.store)
	aggregator.Run = runID

	chain := cor.NewBaseChain(m.GetName())
	if triggered {
		chain.AddCommand(commands.NewTriggerToSourceDir("trigger-to-source-dir"))
	}
	sources := m.config.Sources
	chain.AddCommand(commands.NewPass("movies", commands.PassMovies,
		Location(sources.Movies, sources.Dir, commands.PassMovies), m.opener, reader,
		commands.NewMoviesHandler(m.store, resolver)))
	chain.AddCommand(commands.NewPass("ratings", commands.PassRatings,
		Location(sources.Ratings, sources.Dir, commands.PassRatings), m.opener, reader,
		commands.NewRatingsHandler(aggregator, m.config.Ratings.Scope)))
	chain.AddCommand(commands.NewPass("keywords", commands.PassKeywords,
		Location(sources.Keywords, sources.Dir, commands.PassKeywords), m.opener, reader,
		commands.NewKeywordsHandler(m.store, resolver, linker, workers)))
	chain.AddCommand(commands.NewPass("credits", commands.PassCredits,
		Location(sources.Credits, sources.Dir, commands.PassCredits), m.opener, reader,
		commands.NewCreditsHandler(m.store, resolver, linker, workers)))
	return chain
}

// Location returns explicit when set, else the pass's file inside dir.
func Location(explicit string, dir string, pass string) string {
	if explicit != "" {
		return explicit
	}
	if dir == "" {
		return commands.FileName(pass)
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(dir, "/"), commands.FileName(pass))
}
