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

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottledDelegates(t *testing.T) {
	ctx := context.Background()
	s := store.NewThrottled(memstore.New(), 1000)

	id, err := s.InsertEntity(ctx, &model.Entity{Kind: model.KindKeyword, Name: "hope"})
	require.NoError(t, err)
	found, err := s.FindEntity(ctx, model.KindKeyword, model.NaturalKey{Name: "hope"})
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	n, err := s.CountEntities(ctx, model.KindKeyword)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// Once the burst is spent a call waits for a token and gives up when the
// context ends first.
func TestThrottledHonoursContext(t *testing.T) {
	s := store.NewThrottled(memstore.New(), 1)

	_, err := s.LookupMovies(context.Background(), []string{"1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.LookupMovies(ctx, []string{"1"})
	assert.Error(t, err)
}

func TestBulkResultErr(t *testing.T) {
	assert.NoError(t, store.BulkResult{Matched: 3}.Err())

	boom := errors.New("boom")
	err := store.BulkResult{Failures: []store.OpFailure{{Index: 2, Err: boom}}}.Err()
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "operation 2")
}
