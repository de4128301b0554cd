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

package store

import (
	"context"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"
)

// Throttled is a Store that waits on a token bucket before every backend
// call. A batched write counts as one call.
type Throttled struct {
	Store
	limiter *rate.Limiter
}

// NewThrottled limits s to opsPerSecond calls per second, with bursts of the
// same size.
func NewThrottled(s Store, opsPerSecond int) *Throttled {
	if opsPerSecond < 1 {
		opsPerSecond = 1
	}
	return &Throttled{
		Store:   s,
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), opsPerSecond),
	}
}

// FindEntity waits for a token, then looks the entity up.
func (t *Throttled) FindEntity(ctx context.Context, kind model.Kind, key model.NaturalKey) (*model.Entity, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Store.FindEntity(ctx, kind, key)
}

// InsertEntity waits for a token, then inserts the entity.
func (t *Throttled) InsertEntity(ctx context.Context, entity *model.Entity) (primitive.ObjectID, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return primitive.NilObjectID, err
	}
	return t.Store.InsertEntity(ctx, entity)
}

// AddEntityMovie waits for a token, then updates the entity.
func (t *Throttled) AddEntityMovie(ctx context.Context, kind model.Kind, entityID primitive.ObjectID, movieID primitive.ObjectID) (bool, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return t.Store.AddEntityMovie(ctx, kind, entityID, movieID)
}

// AddMovieRef waits for a token, then updates the movie.
func (t *Throttled) AddMovieRef(ctx context.Context, movieID primitive.ObjectID, kind model.Kind, entityID primitive.ObjectID) (bool, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return t.Store.AddMovieRef(ctx, movieID, kind, entityID)
}

// LookupMovies waits for a token, then runs the lookup. The lookup counts as
// one call whatever the number of keys.
func (t *Throttled) LookupMovies(ctx context.Context, keys []string) (map[string]primitive.ObjectID, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.Store.LookupMovies(ctx, keys)
}

// BulkUpsertMovies waits for a single token for the whole batch.
func (t *Throttled) BulkUpsertMovies(ctx context.Context, upserts []model.MovieUpsert) (BulkResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return BulkResult{}, err
	}
	return t.Store.BulkUpsertMovies(ctx, upserts)
}

// BulkSetRatings waits for a single token for the whole batch.
func (t *Throttled) BulkSetRatings(ctx context.Context, updates []model.RatingUpdate) (BulkResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return BulkResult{}, err
	}
	return t.Store.BulkSetRatings(ctx, updates)
}

// ClearStaleRatings waits for a token, then clears the ratings.
func (t *Throttled) ClearStaleRatings(ctx context.Context, run string) (int64, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return t.Store.ClearStaleRatings(ctx, run)
}
