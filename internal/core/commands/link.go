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

// This file defines the batch handler shared by the keywords and credits
// passes.
//
// Logic Flow:
//
//  1. The movie ids of the batch are looked up in one call. Rows of movies the
//     movies pass never wrote are skipped.
//  2. Every named object of every literal column becomes one link task. Crew
//     members are keyed by name and job, every other kind by name alone.
//  3. The tasks run on an errgroup bounded by the worker count. Each resolves
//     its entity (creating it with the movie already referenced when needed)
//     and links it to the movie.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/services"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// LinkColumn is a literal column whose objects become entities of Kind
// linked to the row's movie.
type LinkColumn struct {
	Name string
	Kind model.Kind
}

// LinkHandler resolves the entities named in the literal columns of a table
// keyed by movie id and links them to their movie. Rows are independent, so a
// batch fans out over a bounded number of goroutines and waits for all of
// them; the first failure fails the batch.
type LinkHandler struct {
	store    store.Store
	resolver *services.Resolver
	linker   *services.Linker
	columns  []LinkColumn
	workers  int
}

// NewLinkHandler creates a handler for columns with at most workers
// concurrent resolutions.
//
// Inputs:
//   - s: The store holding the movies written by the movies pass.
//   - resolver: The entity resolver shared by the run.
//   - linker: Adds the references between a movie and an entity.
//   - workers: The number of concurrent link tasks; below 1 selects
//     services.DefaultWorkers.
//   - columns: The literal columns to link and the kind each one holds.
//
// Outputs:
//   - *LinkHandler: A pointer to the newly instantiated handler.
func NewLinkHandler(s store.Store, resolver *services.Resolver, linker *services.Linker, workers int, columns ...LinkColumn) *LinkHandler {
	if workers < 1 {
		workers = services.DefaultWorkers
	}
	return &LinkHandler{store: s, resolver: resolver, linker: linker, columns: columns, workers: workers}
}

// NewKeywordsHandler links the keywords table.
func NewKeywordsHandler(s store.Store, resolver *services.Resolver, linker *services.Linker, workers int) *LinkHandler {
	return NewLinkHandler(s, resolver, linker, workers, LinkColumn{Name: "keywords", Kind: model.KindKeyword})
}

// NewCreditsHandler links the cast and crew of the credits table.
func NewCreditsHandler(s store.Store, resolver *services.Resolver, linker *services.Linker, workers int) *LinkHandler {
	return NewLinkHandler(s, resolver, linker, workers,
		LinkColumn{Name: "cast", Kind: model.KindActor},
		LinkColumn{Name: "crew", Kind: model.KindCrewMember})
}

// linkTask links one named object to one movie.
type linkTask struct {
	movieKey string
	movieID  primitive.ObjectID
	kind     model.Kind
	key      model.NaturalKey
}

// Handle links the entities named in one batch of rows.
//
// Inputs:
//   - ctx: The context of the run. Cancelling it stops the pending tasks.
//   - stats: The counters of the stage.
//   - records: The rows of the batch.
//
// Outputs:
//   - error: The first failed resolution or link of the batch, wrapped with
//     the movie id of its row.
func (h *LinkHandler) Handle(ctx context.Context, stats *model.StageStats, records []source.Record) error {
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		if k := strings.TrimSpace(rec.Get("id")); k != "" {
			keys = append(keys, k)
		}
	}
	movies, err := h.store.LookupMovies(ctx, keys)
	if err != nil {
		return fmt.Errorf("failed to look up movies: %w", err)
	}

	// Expand the rows into link tasks.
	var tasks []linkTask
	for _, rec := range records {
		key := strings.TrimSpace(rec.Get("id"))
		movieID, ok := movies[key]
		if !ok {
			stats.RowsSkipped.Add(1)
			slog.DebugContext(ctx, "skipping row of unknown movie", "movie_id", key, "line", rec.Line)
			continue
		}
		for _, col := range h.columns {
			for _, o := range decodeObjects(ctx, stats, col.Name, key, rec.Get(col.Name)) {
				if o.Name == "" {
					slog.DebugContext(ctx, "skipping entry without name", "column", col.Name, "movie_id", key)
					continue
				}
				nk := model.NaturalKey{Name: o.Name}
				if col.Kind == model.KindCrewMember {
					nk.Job = o.Job
				}
				tasks = append(tasks, linkTask{movieKey: key, movieID: movieID, kind: col.Kind, key: nk})
			}
		}
	}

	// Run the tasks concurrently; the first failure cancels gctx.
	before := h.resolver.Created()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for _, task := range tasks {
		g.Go(func() error {
			entityID, err := h.resolver.Resolve(gctx, task.kind, task.key, task.movieID)
			if err != nil {
				return fmt.Errorf("movie %s: %w", task.movieKey, err)
			}
			res, err := h.linker.Link(gctx, task.movieID, task.kind, entityID)
			if err != nil {
				return fmt.Errorf("movie %s: %w", task.movieKey, err)
			}
			if res.MovieModified {
				stats.LinksAdded.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	stats.EntitiesCreated.Add(h.resolver.Created() - before)
	return err
}

// Finish is a no-op.
func (h *LinkHandler) Finish(context.Context, *model.StageStats) error {
	return nil
}
