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

// This file defines Pass, the command every stage of the migration runs as.
//
// Logic Flow:
//
//  1. The run report is taken from the chain context and a stage is opened in
//     it under the command's name.
//  2. The source is opened through the Opener. A local path and a gs:// URI
//     are both accepted.
//  3. The batch reader streams the records into the PassHandler. Malformed
//     records are counted and skipped; a source or handler failure stops the
//     stage.
//  4. The handler's Finish runs once after the last batch.
//  5. The stage is closed, the row counters are exported and a failure is
//     recorded in the chain context, which stops the chain.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/batch"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/cor"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Opener opens the source of a pass.
type Opener interface {
	Open(ctx context.Context, location string) (source.Source, error)
}

// PassHandler processes the batches of one pass. Finish runs once after the
// last batch was handled successfully.
type PassHandler interface {
	Handle(ctx context.Context, stats *model.StageStats, records []source.Record) error
	Finish(ctx context.Context, stats *model.StageStats) error
}

// Pass is the command running one stage of the migration: it opens the
// stage's source, streams it through the batch reader into its handler and
// closes it again. Any source or storage failure is recorded in the chain
// context, which stops the chain.
type Pass struct {
	cor.BaseCommand
	pass     string
	location string
	opener   Opener
	reader   *batch.Reader
	handler  PassHandler

	rowsRead    metric.Int64Counter
	rowsSkipped metric.Int64Counter
}

// NewPass creates the command for pass reading from location. The location
// is replaced by `<dir>/<pass>.csv` when the chain context carries a
// ParamSourceDir.
func NewPass(name string, pass string, location string, opener Opener, reader *batch.Reader, handler PassHandler) *Pass {
	out := &Pass{
		BaseCommand: *cor.NewBaseCommand(name),
		pass:        pass,
		location:    location,
		opener:      opener,
		reader:      reader,
		handler:     handler,
	}
	var err error
	if out.rowsRead, err = out.Meter.Int64Counter("migration.rows.read"); err != nil {
		slog.Warn("failed to create rows counter", "command", name, "error", err)
	}
	if out.rowsSkipped, err = out.Meter.Int64Counter("migration.rows.skipped"); err != nil {
		slog.Warn("failed to create rows counter", "command", name, "error", err)
	}
	return out
}

// Location returns where the pass reads from given the chain context.
func (p *Pass) Location(context cor.Context) string {
	if dir, ok := context.Get(ParamSourceDir).(string); ok && dir != "" {
		return strings.TrimSuffix(dir, "/") + "/" + FileName(p.pass)
	}
	return p.location
}

// IsExecutable requires the run report; passes do not consume piped input.
func (p *Pass) IsExecutable(context cor.Context) bool {
	if context == nil || context.GetContext() == nil {
		return false
	}
	_, ok := context.Get(ParamRunReport).(*model.RunReport)
	return ok
}

// Execute runs the stage.
//
// Inputs:
//   - context: The shared `cor.Context` of the run. It must carry the
//     *model.RunReport under ParamRunReport.
func (p *Pass) Execute(context cor.Context) {
	ctx := context.GetContext()
	report := context.Get(ParamRunReport).(*model.RunReport)
	location := p.Location(context)

	stats := report.Stage(p.GetName(), location)
	stats.Start()
	slog.InfoContext(ctx, "starting stage", "stage", p.GetName(), "source", location)

	err := p.run(ctx, location, stats)
	stats.Finish(err)

	// Export the counters whether or not the stage succeeded.
	attrs := metric.WithAttributes(attribute.String("pass", p.pass))
	snap := stats.Snapshot()
	if p.rowsRead != nil {
		p.rowsRead.Add(ctx, snap.RowsRead, attrs)
	}
	if p.rowsSkipped != nil {
		p.rowsSkipped.Add(ctx, snap.RowsSkipped+snap.RecordErrors, attrs)
	}

	if err != nil {
		p.GetErrorCounter().Add(ctx, 1)
		slog.ErrorContext(ctx, "stage failed", "stage", p.GetName(), "error", err)
		context.AddError(p.GetName(), err)
		return
	}
	p.GetSuccessCounter().Add(ctx, 1)
	slog.InfoContext(ctx, "stage completed",
		"stage", p.GetName(),
		"rows_read", snap.RowsRead,
		"rows_skipped", snap.RowsSkipped,
		"record_errors", snap.RecordErrors,
		"batches", snap.Batches,
		"duration_seconds", snap.DurationSeconds)
}

// run streams the source at location through the handler.
func (p *Pass) run(ctx context.Context, location string, stats *model.StageStats) (err error) {
	src, err := p.opener.Open(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.pass, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.WarnContext(ctx, "failed to close source", "source", location, "error", cerr)
		}
	}()

	res, err := p.reader.Read(ctx, p.pass, src, func(ctx context.Context, _ string, records []source.Record) error {
		stats.Batches.Add(1)
		stats.RowsRead.Add(int64(len(records)))
		return p.handler.Handle(ctx, stats, records)
	})
	stats.RecordErrors.Add(res.RecordErrors)
	if err != nil {
		return err
	}
	return p.handler.Finish(ctx, stats)
}
