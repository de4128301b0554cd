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

// This file, `aggregator.go`, defines the RatingAggregator, which turns the raw
// rows of the ratings table into one mean rating per movie.
//
// Logic Flow:
//
//  1. Add looks the movies of a batch up in one call and folds the parsable
//     ratings of known movies into a running sum and count per movie.
//  2. Flush computes the means, writes them in one batched write tagged with
//     the run and starts over with an empty state.
//  3. ClearStale, run once the ratings source is exhausted, removes the
//     ratings that an earlier run wrote and this run did not recompute.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
)

// RatingRow is one raw row of the ratings source.
type RatingRow struct {
	MovieID string
	Value   string
}

// AddStats counts what happened to the rows handed to RatingAggregator.Add.
type AddStats struct {
	Accepted int
	Unknown  int // Rows whose movie does not exist.
	Invalid  int // Rows whose value is not a number.
}

// runningMean is the sum and count of the ratings of one movie.
type runningMean struct {
	sum   float64
	count int64
}

// RatingAggregator accumulates the sum and count of the ratings of every
// movie and writes their means on Flush. What a flush covers is up to the
// caller: flushing once per source gives the mean over all ratings of a movie,
// flushing after every batch gives the mean over that batch only.
//
// Every mean written is tagged with Run. Once the ratings source has been
// read completely, ClearStale drops the ratings that this run did not
// recompute, so a movie that lost all of its ratings ends up unrated.
type RatingAggregator struct {
	Store store.Store
	Run   string // Tag of the ratings written by this aggregator.

	mu    sync.Mutex
	means map[string]*runningMean
}

// NewRatingAggregator creates an empty aggregator over s with a fresh run tag.
// Callers with a run identifier of their own overwrite Run.
func NewRatingAggregator(s store.Store) *RatingAggregator {
	return &RatingAggregator{Store: s, Run: uuid.NewString(), means: make(map[string]*runningMean)}
}

// Add resolves the movies of rows with a single lookup and accumulates the
// valid ratings of known movies. Rows of unknown movies are skipped silently;
// rows with a value that is not a finite number are logged and skipped.
//
// Inputs:
//   - ctx: The context for the lookup.
//   - rows: The raw rows of one batch.
//
// Outputs:
//   - AddStats: How many rows were accepted, unknown or invalid.
//   - error: An error if the movie lookup failed. Nothing is accumulated then.
func (a *RatingAggregator) Add(ctx context.Context, rows []RatingRow) (AddStats, error) {
	var stats AddStats
	keys := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.MovieID]; !ok && r.MovieID != "" {
			seen[r.MovieID] = struct{}{}
			keys = append(keys, r.MovieID)
		}
	}

	// One lookup per batch, outside the lock.
	known, err := a.Store.LookupMovies(ctx, keys)
	if err != nil {
		return stats, fmt.Errorf("failed to look up rated movies: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range rows {
		if _, ok := known[r.MovieID]; !ok {
			stats.Unknown++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			stats.Invalid++
			slog.WarnContext(ctx, "skipping invalid rating", "movie_id", r.MovieID, "value", r.Value)
			continue
		}
		m, ok := a.means[r.MovieID]
		if !ok {
			m = &runningMean{}
			a.means[r.MovieID] = m
		}
		m.sum += v
		m.count++
		stats.Accepted++
	}
	return stats, nil
}

// Pending returns the number of movies with accumulated ratings.
func (a *RatingAggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.means)
}

// Flush writes the mean of every accumulated movie in one batched write and
// clears the accumulated state. Any failed operation fails the flush.
//
// Outputs:
//   - store.BulkResult: The outcome of the write; Matched counts the movies
//     whose rating was set.
//   - error: An error if the write or any of its operations failed.
func (a *RatingAggregator) Flush(ctx context.Context) (store.BulkResult, error) {
	a.mu.Lock()
	updates := make([]model.RatingUpdate, 0, len(a.means))
	for key, m := range a.means {
		updates = append(updates, model.RatingUpdate{MovieID: key, Rating: m.sum / float64(m.count), Run: a.Run})
	}
	a.means = make(map[string]*runningMean)
	a.mu.Unlock()

	if len(updates) == 0 {
		return store.BulkResult{}, nil
	}
	// Map order is random; write in key order.
	slices.SortFunc(updates, func(x, y model.RatingUpdate) int {
		return strings.Compare(x.MovieID, y.MovieID)
	})

	res, err := a.Store.BulkSetRatings(ctx, updates)
	if err != nil {
		return res, fmt.Errorf("failed to write %d ratings: %w", len(updates), err)
	}
	if err := res.Err(); err != nil {
		return res, fmt.Errorf("failed to write ratings: %w", err)
	}
	return res, nil
}

// ClearStale removes the ratings of every movie this aggregator did not
// write. It must only run after the last Flush of a complete ratings source.
func (a *RatingAggregator) ClearStale(ctx context.Context) (int64, error) {
	cleared, err := a.Store.ClearStaleRatings(ctx, a.Run)
	if err != nil {
		return cleared, err
	}
	if cleared > 0 {
		slog.InfoContext(ctx, "cleared stale ratings", "run", a.Run, "movies", cleared)
	}
	return cleared, nil
}
