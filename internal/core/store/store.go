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

// Package store defines the storage backend the migration writes the movie
// graph into. The operations mirror what the loader needs from a document
// store: exact lookups by natural key, add-if-absent updates of association
// lists and batched writes whose operations succeed or fail independently.
//
// Two implementations exist: mongostore (MongoDB) and memstore (in memory, for
// dry runs and tests). Throttled wraps either with a rate limit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a lookup or targeted update matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an insert collides with the natural key
	// of an existing entity.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Store is the storage backend of the movie graph.
type Store interface {
	// EnsureIndexes declares the unique natural key indexes.
	EnsureIndexes(ctx context.Context) error

	// FindEntity looks an entity up by exact natural key equality. It returns
	// ErrNotFound when there is none.
	FindEntity(ctx context.Context, kind model.Kind, key model.NaturalKey) (*model.Entity, error)
	// InsertEntity persists a new entity and returns its identifier. It returns
	// ErrDuplicateKey if another entity already holds the natural key.
	InsertEntity(ctx context.Context, entity *model.Entity) (primitive.ObjectID, error)
	// AddEntityMovie adds movieID to the reverse movie list of an entity if
	// absent and reports whether the entity changed.
	AddEntityMovie(ctx context.Context, kind model.Kind, entityID primitive.ObjectID, movieID primitive.ObjectID) (bool, error)
	// GetEntity loads an entity by identifier.
	GetEntity(ctx context.Context, kind model.Kind, id primitive.ObjectID) (*model.Entity, error)
	// CountEntities counts the entities of a kind.
	CountEntities(ctx context.Context, kind model.Kind) (int64, error)

	// AddMovieRef adds entityID to the movie association list for kind if
	// absent and reports whether the movie changed.
	AddMovieRef(ctx context.Context, movieID primitive.ObjectID, kind model.Kind, entityID primitive.ObjectID) (bool, error)
	// LookupMovies resolves external movie keys to identifiers in one call.
	// Unknown keys are absent from the result.
	LookupMovies(ctx context.Context, keys []string) (map[string]primitive.ObjectID, error)
	// BulkUpsertMovies writes movies keyed by external key: scalar fields are
	// overwritten, genres are added if absent and missing movies are created.
	BulkUpsertMovies(ctx context.Context, upserts []model.MovieUpsert) (BulkResult, error)
	// BulkSetRatings sets the rating of existing movies, tagged with the run
	// of each update.
	BulkSetRatings(ctx context.Context, updates []model.RatingUpdate) (BulkResult, error)
	// ClearStaleRatings removes the rating of every movie whose rating was not
	// written by run and returns how many movies lost theirs.
	ClearStaleRatings(ctx context.Context, run string) (int64, error)
	// GetMovie loads a movie by external key.
	GetMovie(ctx context.Context, key string) (*model.Movie, error)
	// CountMovies counts the movies.
	CountMovies(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
}

// OpFailure is the failure of one operation of a batched write.
type OpFailure struct {
	Index int // Position of the operation in the submitted batch.
	Err   error
}

// BulkResult is the outcome of a batched write. A returned error means the
// batch as a whole could not be submitted; failures of single operations are
// listed in Failures and do not affect the others.
type BulkResult struct {
	Matched  int64
	Modified int64
	Upserted int64
	Failures []OpFailure
}

// Err joins the operation failures, or returns nil if every operation succeeded.
func (r BulkResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("operation %d: %w", f.Index, f.Err))
	}
	return errors.Join(errs...)
}
