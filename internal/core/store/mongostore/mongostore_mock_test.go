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

package mongostore

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// These tests run against the driver's mock deployment: every command gets
// the next queued response, and the sent commands are read back from the
// command monitor.

func mockStore(mt *mtest.T) *Store {
	return New(mt.Client, mt.DB.Name())
}

func TestMockInsertEntity(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("created", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		id, err := mockStore(mt).InsertEntity(ctx, &model.Entity{Kind: model.KindActor, Name: "Tom Hanks"})
		require.NoError(mt, err)
		assert.False(mt, id.IsZero())

		cmd := mt.GetStartedEvent().Command
		assert.Equal(mt, "actors", cmd.Lookup("insert").StringValue())
		doc := cmd.Lookup("documents").Array().Index(0).Value().Document()
		assert.Equal(mt, "Tom Hanks", doc.Lookup("name").StringValue())
		// Actors start with an empty reverse list, never a missing one.
		movies, err := doc.Lookup("movies").Array().Values()
		require.NoError(mt, err)
		assert.Empty(mt, movies)
	})

	mt.Run("duplicate key", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: test.genres index: natural_key_unique",
		}))

		_, err := mockStore(mt).InsertEntity(ctx, &model.Entity{Kind: model.KindGenre, Name: "Drama"})
		assert.ErrorIs(mt, err, store.ErrDuplicateKey)
	})

	mt.Run("other write error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 121, Message: "Document failed validation"}))

		_, err := mockStore(mt).InsertEntity(ctx, &model.Entity{Kind: model.KindGenre, Name: "Drama"})
		require.Error(mt, err)
		assert.NotErrorIs(mt, err, store.ErrDuplicateKey)
	})
}

func TestMockFindEntity(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("missing", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.crewmembers", mtest.FirstBatch))

		_, err := mockStore(mt).FindEntity(ctx, model.KindCrewMember, model.NaturalKey{Name: "Ann", Job: "Editor"})
		assert.ErrorIs(mt, err, store.ErrNotFound)

		filter := mt.GetStartedEvent().Command.Lookup("filter").Document()
		assert.Equal(mt, "Ann", filter.Lookup("name").StringValue())
		assert.Equal(mt, "Editor", filter.Lookup("job").StringValue())
	})

	mt.Run("found", func(mt *mtest.T) {
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.keywords", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: "hope"},
			{Key: "movies", Value: bson.A{}},
		}))

		e, err := mockStore(mt).FindEntity(ctx, model.KindKeyword, model.NaturalKey{Name: "hope"})
		require.NoError(mt, err)
		assert.Equal(mt, id, e.ID)
		assert.Equal(mt, model.KindKeyword, e.Kind)
	})
}

func TestMockBulkUpsertMovies(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	upserts := []model.MovieUpsert{
		{MovieID: "10", Fields: model.MovieFields{Title: "Alpha"}, Genres: []primitive.ObjectID{primitive.NewObjectID()}},
		{MovieID: "20", Fields: model.MovieFields{Title: "Beta"}},
		{MovieID: "30", Fields: model.MovieFields{Title: "Gamma"}},
	}

	mt.Run("update document", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 3},
			bson.E{Key: "nModified", Value: 2},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 2}, {Key: "_id", Value: primitive.NewObjectID()}}}},
		))

		res, err := mockStore(mt).BulkUpsertMovies(ctx, upserts)
		require.NoError(mt, err)
		assert.NoError(mt, res.Err())
		assert.Equal(mt, int64(2), res.Matched)
		assert.Equal(mt, int64(2), res.Modified)
		assert.Equal(mt, int64(1), res.Upserted)

		cmd := mt.GetStartedEvent().Command
		assert.Equal(mt, "movies", cmd.Lookup("update").StringValue())
		assert.False(mt, cmd.Lookup("ordered").Boolean())

		updates, err := cmd.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, updates, 3)
		first := updates[0].Document()
		assert.True(mt, first.Lookup("upsert").Boolean())
		assert.Equal(mt, "10", first.Lookup("q", "movieId").StringValue())
		assert.Equal(mt, "Alpha", first.Lookup("u", "$set", "title").StringValue())
		genres, err := first.Lookup("u", "$addToSet", "genres", "$each").Array().Values()
		require.NoError(mt, err)
		assert.Len(mt, genres, 1)
		for _, field := range []string{"actors", "crew", "keywords"} {
			list, err := first.Lookup("u", "$setOnInsert", field).Array().Values()
			require.NoError(mt, err, field)
			assert.Empty(mt, list, field)
		}
		// A movie without genres still gets an $each, never a null.
		_, err = updates[1].Document().Lookup("u", "$addToSet", "genres", "$each").Array().Values()
		assert.NoError(mt, err)
	})

	mt.Run("failed operations", func(mt *mtest.T) {
		resp := mtest.CreateWriteErrorsResponse(
			mtest.WriteError{Index: 1, Code: 11000, Message: "E11000 duplicate key error collection: test.movies index: movieId_unique"},
			mtest.WriteError{Index: 2, Code: 121, Message: "Document failed validation"},
		)
		resp = append(resp, bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1})
		mt.AddMockResponses(resp)

		res, err := mockStore(mt).BulkUpsertMovies(ctx, upserts)
		require.NoError(mt, err)
		assert.Equal(mt, int64(1), res.Matched)
		require.Len(mt, res.Failures, 2)
		assert.Equal(mt, 1, res.Failures[0].Index)
		assert.ErrorIs(mt, res.Failures[0].Err, store.ErrDuplicateKey)
		assert.Equal(mt, 2, res.Failures[1].Index)
		assert.NotErrorIs(mt, res.Failures[1].Err, store.ErrDuplicateKey)
		assert.Error(mt, res.Err())
	})

	mt.Run("command error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Name: "Unauthorized", Message: "not authorized"}))

		_, err := mockStore(mt).BulkUpsertMovies(ctx, upserts)
		assert.Error(mt, err)
	})

	mt.Run("nothing to write", func(mt *mtest.T) {
		res, err := mockStore(mt).BulkUpsertMovies(ctx, nil)
		require.NoError(mt, err)
		assert.Equal(mt, store.BulkResult{}, res)
		assert.Nil(mt, mt.GetStartedEvent())
	})
}

func TestMockLinks(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	movieID := primitive.NewObjectID()
	actorID := primitive.NewObjectID()

	mt.Run("added", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		added, err := mockStore(mt).AddMovieRef(ctx, movieID, model.KindActor, actorID)
		require.NoError(mt, err)
		assert.True(mt, added)

		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		assert.Equal(mt, actorID, update.Lookup("u", "$addToSet", "actors").ObjectID())
	})

	mt.Run("already linked", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		added, err := mockStore(mt).AddEntityMovie(ctx, model.KindActor, actorID, movieID)
		require.NoError(mt, err)
		assert.False(mt, added)
	})

	mt.Run("missing entity", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		_, err := mockStore(mt).AddEntityMovie(ctx, model.KindActor, actorID, movieID)
		assert.ErrorIs(mt, err, store.ErrNotFound)
	})
}

func TestMockRatings(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("set tags the run", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		res, err := mockStore(mt).BulkSetRatings(ctx, []model.RatingUpdate{{MovieID: "10", Rating: 4.5, Run: "run-1"}})
		require.NoError(mt, err)
		assert.Equal(mt, int64(1), res.Matched)

		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		upsert, ok := update.Lookup("upsert").BooleanOK()
		assert.False(mt, ok && upsert)
		assert.Equal(mt, 4.5, update.Lookup("u", "$set", "rating").Double())
		assert.Equal(mt, "run-1", update.Lookup("u", "$set", "rating_run").StringValue())
	})

	mt.Run("clear stale", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 2}, bson.E{Key: "nModified", Value: 2}))

		cleared, err := mockStore(mt).ClearStaleRatings(ctx, "run-2")
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), cleared)

		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		assert.True(mt, update.Lookup("multi").Boolean())
		assert.Equal(mt, "run-2", update.Lookup("q", "rating_run", "$ne").StringValue())
		assert.True(mt, update.Lookup("q", "rating", "$exists").Boolean())
	})
}
