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

// This file, `report.go`, holds the in-memory bookkeeping of a migration run:
// its lifecycle state and the per-stage counters. Counters are updated from the
// concurrent fan-out inside a batch, so they are atomics; `Snapshot` turns them
// into plain values for logs, the status endpoint and BigQuery.
package model

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunState is the lifecycle state of a migration run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// StageStats accumulates the counters of one stage (one pass over one source).
type StageStats struct {
	Stage  string
	Source string

	RowsRead        atomic.Int64
	RowsSkipped     atomic.Int64
	RecordErrors    atomic.Int64
	DecodeErrors    atomic.Int64
	Batches         atomic.Int64
	MoviesWritten   atomic.Int64
	RatingsApplied  atomic.Int64
	RatingsCleared  atomic.Int64
	EntitiesCreated atomic.Int64
	LinksAdded      atomic.Int64

	mu       sync.Mutex
	started  time.Time
	finished time.Time
	err      error
}

// NewStageStats creates the counters for a stage reading from source.
func NewStageStats(stage string, source string) *StageStats {
	return &StageStats{Stage: stage, Source: source}
}

// Start marks the stage as started now.
func (s *StageStats) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = time.Now()
}

// Finish marks the stage as finished now, recording err when it failed.
func (s *StageStats) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = time.Now()
	s.err = err
}

// Snapshot copies the counters into a StageReport.
func (s *StageStats) Snapshot() StageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := StageReport{
		Stage:           s.Stage,
		Source:          s.Source,
		RowsRead:        s.RowsRead.Load(),
		RowsSkipped:     s.RowsSkipped.Load(),
		RecordErrors:    s.RecordErrors.Load(),
		DecodeErrors:    s.DecodeErrors.Load(),
		Batches:         s.Batches.Load(),
		MoviesWritten:   s.MoviesWritten.Load(),
		RatingsApplied:  s.RatingsApplied.Load(),
		RatingsCleared:  s.RatingsCleared.Load(),
		EntitiesCreated: s.EntitiesCreated.Load(),
		LinksAdded:      s.LinksAdded.Load(),
		Started:         s.started,
		Finished:        s.finished,
	}
	if !s.finished.IsZero() && !s.started.IsZero() {
		out.DurationSeconds = s.finished.Sub(s.started).Seconds()
	}
	if s.err != nil {
		out.Error = s.err.Error()
	}
	return out
}

// StageReport is a point-in-time copy of a stage's counters. The bigquery tags
// map it onto the run report table.
type StageReport struct {
	RunID           string    `json:"run_id" bigquery:"run_id"`
	Stage           string    `json:"stage" bigquery:"stage"`
	Source          string    `json:"source" bigquery:"source"`
	RowsRead        int64     `json:"rows_read" bigquery:"rows_read"`
	RowsSkipped     int64     `json:"rows_skipped" bigquery:"rows_skipped"`
	RecordErrors    int64     `json:"record_errors" bigquery:"record_errors"`
	DecodeErrors    int64     `json:"decode_errors" bigquery:"decode_errors"`
	Batches         int64     `json:"batches" bigquery:"batches"`
	MoviesWritten   int64     `json:"movies_written" bigquery:"movies_written"`
	RatingsApplied  int64     `json:"ratings_applied" bigquery:"ratings_applied"`
	RatingsCleared  int64     `json:"ratings_cleared" bigquery:"ratings_cleared"`
	EntitiesCreated int64     `json:"entities_created" bigquery:"entities_created"`
	LinksAdded      int64     `json:"links_added" bigquery:"links_added"`
	Started         time.Time `json:"started" bigquery:"started"`
	Finished        time.Time `json:"finished" bigquery:"finished"`
	DurationSeconds float64   `json:"duration_seconds" bigquery:"duration_seconds"`
	Error           string    `json:"error,omitempty" bigquery:"error"`
}

// RunReport tracks one migration run from start to terminal state.
type RunReport struct {
	RunID string

	mu       sync.Mutex
	state    RunState
	current  string
	stages   []*StageStats
	started  time.Time
	finished time.Time
}

// NewRunReport creates a pending report for the run identified by runID.
func NewRunReport(runID string) *RunReport {
	return &RunReport{RunID: runID, state: RunPending}
}

// Begin moves the run to the running state.
func (r *RunReport) Begin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RunRunning
	r.started = time.Now()
}

// Stage registers a new stage and marks it as the current one.
func (r *RunReport) Stage(stage string, source string) *StageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := NewStageStats(stage, source)
	r.stages = append(r.stages, s)
	r.current = stage
	return s
}

// End moves the run to its terminal state.
func (r *RunReport) End(failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = time.Now()
	r.current = ""
	if failed {
		r.state = RunFailed
	} else {
		r.state = RunCompleted
	}
}

// State returns the current lifecycle state.
func (r *RunReport) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunSummary is a point-in-time copy of a RunReport.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	State        RunState      `json:"state"`
	CurrentStage string        `json:"current_stage,omitempty"`
	Started      time.Time     `json:"started"`
	Finished     time.Time     `json:"finished"`
	Stages       []StageReport `json:"stages"`
}

// Snapshot copies the run and all of its stages.
func (r *RunReport) Snapshot() RunSummary {
	r.mu.Lock()
	stages := make([]*StageStats, len(r.stages))
	copy(stages, r.stages)
	out := RunSummary{
		RunID:        r.RunID,
		State:        r.state,
		CurrentStage: r.current,
		Started:      r.started,
		Finished:     r.finished,
	}
	r.mu.Unlock()

	out.Stages = make([]StageReport, 0, len(stages))
	for _, s := range stages {
		rep := s.Snapshot()
		rep.RunID = r.RunID
		out.Stages = append(out.Stages, rep)
	}
	return out
}
