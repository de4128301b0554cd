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

// This file defines the batch handler of the movies pass.
//
// Logic Flow:
// The movies pass reads movies_metadata in batches and hands every batch to
// MoviesHandler. For each batch the handler:
//
//  1. Parses the scalar columns of each row and decodes its genres literal.
//     Rows without an id are skipped; rows repeating a key are merged.
//  2. Resolves every genre name of the batch to an identifier in one call,
//     creating the genres that do not exist yet.
//  3. Submits one unordered bulk upsert keyed by the external movie id. The
//     scalars are overwritten and the genres are added if absent.
//  4. Counts the written movies. Operations that failed are reported as one
//     joined error so the pass can count the batch as failed.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/literal"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/services"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MoviesHandler upserts the movies of the movies_metadata table together with
// their genres.
type MoviesHandler struct {
	store    store.Store
	resolver *services.Resolver
}

// NewMoviesHandler is the constructor for the MoviesHandler.
//
// Inputs:
//   - s: The store the movies are written to.
//   - resolver: The genre resolver, shared with the other passes of the run.
//
// Outputs:
//   - *MoviesHandler: A pointer to the newly instantiated handler.
func NewMoviesHandler(s store.Store, resolver *services.Resolver) *MoviesHandler {
	return &MoviesHandler{store: s, resolver: resolver}
}

// movieRow is a parsed movies_metadata row; rows sharing a key are merged.
type movieRow struct {
	key    string
	fields model.MovieFields
	genres []string
}

// Handle writes one batch of movies_metadata rows.
//
// Inputs:
//   - ctx: The context of the run, used for cancellation and tracing.
//   - stats: The counters of the movies stage.
//   - records: The rows of the batch, in source order.
//
// Outputs:
//   - error: An error if the genres could not be resolved or one or more
//     movies could not be written. Rows that were skipped are not errors.
func (h *MoviesHandler) Handle(ctx context.Context, stats *model.StageStats, records []source.Record) error {
	var (
		rows  []*movieRow
		byKey = make(map[string]*movieRow)
		names []model.NaturalKey
	)
	// Parse the rows and collect the genre names of the whole batch.
	for _, rec := range records {
		key := strings.TrimSpace(rec.Get("id"))
		if key == "" {
			stats.RowsSkipped.Add(1)
			slog.WarnContext(ctx, "skipping movie without id", "line", rec.Line)
			continue
		}
		fields := model.MovieFields{
			Title:       rec.Get("title"),
			Budget:      parseNumber(ctx, "budget", rec.Get("budget")),
			Revenue:     parseNumber(ctx, "revenue", rec.Get("revenue")),
			ReleaseDate: parseDate(ctx, rec.Get("release_date")),
			Overview:    rec.Get("overview"),
			Runtime:     parseNumber(ctx, "runtime", rec.Get("runtime")),
		}
		var genres []string
		for _, o := range decodeObjects(ctx, stats, "genres", key, rec.Get("genres")) {
			if o.Name == "" {
				slog.DebugContext(ctx, "skipping genre without name", "movie_id", key)
				continue
			}
			genres = append(genres, o.Name)
			names = append(names, model.NaturalKey{Name: o.Name})
		}

		if row, ok := byKey[key]; ok {
			// Same movie twice in a batch: the later row's scalars win.
			row.fields = fields
			row.genres = append(row.genres, genres...)
			continue
		}
		row := &movieRow{key: key, fields: fields, genres: genres}
		byKey[key] = row
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	// Resolve the genres in one round trip per batch.
	before := h.resolver.Created()
	genreIDs, err := h.resolver.ResolveAll(ctx, model.KindGenre, names)
	if err != nil {
		return fmt.Errorf("failed to resolve genres: %w", err)
	}
	stats.EntitiesCreated.Add(h.resolver.Created() - before)

	// Build the upserts, with each genre referenced once.
	upserts := make([]model.MovieUpsert, 0, len(rows))
	for _, row := range rows {
		u := model.MovieUpsert{MovieID: row.key, Fields: row.fields}
		seen := make(map[primitive.ObjectID]struct{}, len(row.genres))
		for _, g := range row.genres {
			id := genreIDs[model.NaturalKey{Name: g}]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			u.Genres = append(u.Genres, id)
		}
		upserts = append(upserts, u)
	}

	res, err := h.store.BulkUpsertMovies(ctx, upserts)
	if err != nil {
		return fmt.Errorf("failed to write movies: %w", err)
	}
	stats.MoviesWritten.Add(res.Matched + res.Upserted)
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to write %d of %d movies: %w", len(res.Failures), len(upserts), err)
	}
	return nil
}

// Finish is a no-op; every batch is written as soon as it is handled.
func (h *MoviesHandler) Finish(context.Context, *model.StageStats) error {
	return nil
}

// decodeObjects decodes a literal column. A cell that cannot be decoded is
// logged with its original and rewritten text, counted and treated as empty.
func decodeObjects(ctx context.Context, stats *model.StageStats, column string, movieKey string, raw string) []literal.Object {
	objs, err := literal.Text(raw).Objects()
	if err == nil {
		return objs
	}
	stats.DecodeErrors.Add(1)
	var de *literal.DecodeError
	if errors.As(err, &de) {
		slog.WarnContext(ctx, "failed to decode column",
			"column", column, "movie_id", movieKey,
			"original", de.Original, "transformed", de.Transformed, "error", de.Err)
	} else {
		slog.WarnContext(ctx, "failed to decode column", "column", column, "movie_id", movieKey, "error", err)
	}
	return nil
}
