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

// This file defines the command that persists the run report to BigQuery.
//
// Logic Flow:
// The command runs last in the chain. It snapshots the run report and
// streams the stage rows into the configured table with an Inserter; the
// `bigquery` struct tags of model.StageReport map the fields to the columns.
package commands

import (
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/cor"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
)

// ReportPersistToBigQuery streams one row per stage of the run report into a
// BigQuery table.
type ReportPersistToBigQuery struct {
	cor.BaseCommand
	client  *bigquery.Client
	dataset string
	table   string
}

// NewReportPersistToBigQuery is the constructor for the ReportPersistToBigQuery command.
//
// Inputs:
//   - name: A string name for this command instance.
//   - client: An initialized *bigquery.Client. A nil client disables the command.
//   - dataset: The name of the BigQuery dataset.
//   - table: The name of the target table.
//
// Outputs:
//   - *ReportPersistToBigQuery: A pointer to the newly instantiated command.
func NewReportPersistToBigQuery(name string, client *bigquery.Client, dataset string, table string) *ReportPersistToBigQuery {
	return &ReportPersistToBigQuery{BaseCommand: *cor.NewBaseCommand(name), client: client, dataset: dataset, table: table}
}

// IsExecutable requires a client and a run report in the context.
func (s *ReportPersistToBigQuery) IsExecutable(context cor.Context) bool {
	if context == nil || context.GetContext() == nil || s.client == nil {
		return false
	}
	_, ok := context.Get(ParamRunReport).(*model.RunReport)
	return ok
}

// Execute inserts one row per stage of the run. A run without stages writes
// nothing.
//
// Inputs:
//   - context: The shared `cor.Context` of the run.
func (s *ReportPersistToBigQuery) Execute(context cor.Context) {
	summary := context.Get(ParamRunReport).(*model.RunReport).Snapshot()
	if len(summary.Stages) == 0 {
		return
	}

	// Stream the rows; the Inserter maps them by their struct tags.
	i := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := i.Put(context.GetContext(), summary.Stages); err != nil {
		s.GetErrorCounter().Add(context.GetContext(), 1)
		context.AddError(s.GetName(), fmt.Errorf("bigquery insert failed for run %s: %w", summary.RunID, err))
		return
	}

	s.GetSuccessCounter().Add(context.GetContext(), 1)
	slog.InfoContext(context.GetContext(), "persisted run report",
		"run_id", summary.RunID, "stages", len(summary.Stages), "table", s.dataset+"."+s.table)
	context.Add(s.GetOutputParam(), summary)
}
