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

// This file defines the batch handler of the ratings pass. The handler does
// not write anything itself; it parses the rows and leaves the arithmetic and
// the writes to services.RatingAggregator.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/services"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
)

// Rating flush scopes.
const (
	// ScopeStage accumulates every batch and writes the means once the
	// ratings table has been read completely.
	ScopeStage = "stage"
	// ScopeBatch writes the means of each batch on its own. A movie whose
	// ratings span several batches ends up with the mean of the last one.
	ScopeBatch = "batch"
)

// RatingsHandler feeds the ratings table into a RatingAggregator.
type RatingsHandler struct {
	aggregator *services.RatingAggregator
	scope      string
}

// NewRatingsHandler creates the handler; an unknown scope selects ScopeStage.
func NewRatingsHandler(aggregator *services.RatingAggregator, scope string) *RatingsHandler {
	if scope != ScopeBatch {
		scope = ScopeStage
	}
	return &RatingsHandler{aggregator: aggregator, scope: scope}
}

// Handle adds one batch of ratings rows to the aggregator and, in
// ScopeBatch, writes their means right away.
//
// Inputs:
//   - ctx: The context of the run.
//   - stats: The counters of the ratings stage. Rows of unknown movies and
//     rows with an unparsable rating count as skipped.
//   - records: The rows of the batch.
//
// Outputs:
//   - error: An error if the movie lookup or the flush failed.
func (h *RatingsHandler) Handle(ctx context.Context, stats *model.StageStats, records []source.Record) error {
	rows := make([]services.RatingRow, len(records))
	for i, rec := range records {
		rows[i] = services.RatingRow{MovieID: strings.TrimSpace(rec.Get("movieId")), Value: rec.Get("rating")}
	}
	added, err := h.aggregator.Add(ctx, rows)
	if err != nil {
		return err
	}
	stats.RowsSkipped.Add(int64(added.Unknown + added.Invalid))

	if h.scope == ScopeBatch {
		return h.flush(ctx, stats)
	}
	return nil
}

// Finish writes what is still accumulated, then clears the ratings of movies
// that received none in this run.
func (h *RatingsHandler) Finish(ctx context.Context, stats *model.StageStats) error {
	if err := h.flush(ctx, stats); err != nil {
		return err
	}
	cleared, err := h.aggregator.ClearStale(ctx)
	stats.RatingsCleared.Add(cleared)
	if err != nil {
		return fmt.Errorf("failed to clear stale ratings: %w", err)
	}
	return nil
}

func (h *RatingsHandler) flush(ctx context.Context, stats *model.StageStats) error {
	res, err := h.aggregator.Flush(ctx)
	stats.RatingsApplied.Add(res.Matched)
	if err != nil {
		return fmt.Errorf("failed to write ratings: %w", err)
	}
	return nil
}
