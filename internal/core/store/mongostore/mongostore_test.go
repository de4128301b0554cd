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
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EnvTestMongoURI points the integration tests at an existing MongoDB
// instead of a container started for the package.
const EnvTestMongoURI = "MIGRATE_TEST_MONGO_URI"

const mongoImage = "mongo:7.0"

var (
	mongoOnce      sync.Once
	mongoContainer testcontainers.Container
	mongoURI       string
	mongoErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if mongoContainer != nil {
		if err := mongoContainer.Terminate(context.Background()); err != nil {
			slog.Warn("failed to terminate mongo container", "error", err)
		}
	}
	os.Exit(code)
}

func startMongo(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort("27017/tcp"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start %s: %w", mongoImage, err)
	}
	mongoContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), nil
}

// testMongoURI returns EnvTestMongoURI when set, otherwise the address of a
// MongoDB container shared by the package. Without Docker the test is skipped.
func testMongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv(EnvTestMongoURI); uri != "" {
		return uri
	}
	if testing.Short() {
		t.Skip("needs a MongoDB container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	mongoOnce.Do(func() {
		mongoURI, mongoErr = startMongo(context.Background())
	})
	require.NoError(t, mongoErr)
	return mongoURI
}

func TestKeyFilter(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "name", Value: "hope"}},
		keyFilter(model.KindKeyword, model.NaturalKey{Name: "hope"}))
	assert.Equal(t, bson.D{{Key: "name", Value: "Ann"}, {Key: "job", Value: ""}},
		keyFilter(model.KindCrewMember, model.NaturalKey{Name: "Ann"}))
	assert.Equal(t, bson.D{{Key: "name", Value: "Ann"}, {Key: "job", Value: "Editor"}},
		keyFilter(model.KindCrewMember, model.NaturalKey{Name: "Ann", Job: "Editor"}))
}

func connect(t *testing.T) (context.Context, *Store) {
	t.Helper()
	uri := testMongoURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	s, err := Connect(ctx, uri, "migrate_test_"+uuid.NewString()[:8], 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	require.NoError(t, s.EnsureIndexes(ctx))
	return ctx, s
}

func TestMongoEntities(t *testing.T) {
	ctx, s := connect(t)

	_, err := s.FindEntity(ctx, model.KindGenre, model.NaturalKey{Name: "Comedy"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	id, err := s.InsertEntity(ctx, &model.Entity{Kind: model.KindGenre, Name: "Comedy"})
	require.NoError(t, err)

	found, err := s.FindEntity(ctx, model.KindGenre, model.NaturalKey{Name: "Comedy"})
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)

	_, err = s.InsertEntity(ctx, &model.Entity{Kind: model.KindGenre, Name: "Comedy"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// Same name, different job: two crew members.
	_, err = s.InsertEntity(ctx, &model.Entity{Kind: model.KindCrewMember, Name: "Ann", Job: "Editor"})
	require.NoError(t, err)
	_, err = s.InsertEntity(ctx, &model.Entity{Kind: model.KindCrewMember, Name: "Ann", Job: "Writer"})
	require.NoError(t, err)
	n, err := s.CountEntities(ctx, model.KindCrewMember)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMongoMoviesAndLinks(t *testing.T) {
	ctx, s := connect(t)

	res, err := s.BulkUpsertMovies(ctx, []model.MovieUpsert{
		{MovieID: "10", Fields: model.MovieFields{Title: "Alpha"}},
		{MovieID: "11", Fields: model.MovieFields{Title: "Beta"}},
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err())
	assert.Equal(t, int64(2), res.Upserted)

	res, err = s.BulkUpsertMovies(ctx, []model.MovieUpsert{{MovieID: "10", Fields: model.MovieFields{Title: "Alpha 2"}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)

	ids, err := s.LookupMovies(ctx, []string{"10", "11", "99"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	kw, err := s.InsertEntity(ctx, &model.Entity{Kind: model.KindKeyword, Name: "hope"})
	require.NoError(t, err)

	added, err := s.AddMovieRef(ctx, ids["10"], model.KindKeyword, kw)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddMovieRef(ctx, ids["10"], model.KindKeyword, kw)
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.AddEntityMovie(ctx, model.KindKeyword, kw, ids["10"])
	require.NoError(t, err)
	assert.True(t, added)

	_, err = s.BulkSetRatings(ctx, []model.RatingUpdate{{MovieID: "10", Rating: 4.5, Run: "run-1"}})
	require.NoError(t, err)

	m, err := s.GetMovie(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, "Alpha 2", m.Title)
	assert.Equal(t, ids["10"], m.ID)
	require.NotNil(t, m.Rating)
	assert.Equal(t, 4.5, *m.Rating)
	assert.Len(t, m.Keywords, 1)
	assert.Empty(t, m.Actors)
}

// Re-upserting a movie overwrites its scalars but neither resets the lists
// created on insert nor duplicates genres.
func TestMongoUpsertKeepsLinks(t *testing.T) {
	ctx, s := connect(t)
	genre := primitive.NewObjectID()
	upsert := []model.MovieUpsert{{MovieID: "10", Fields: model.MovieFields{Title: "Alpha"}, Genres: []primitive.ObjectID{genre}}}

	res, err := s.BulkUpsertMovies(ctx, upsert)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)

	ids, err := s.LookupMovies(ctx, []string{"10"})
	require.NoError(t, err)
	actor, err := s.InsertEntity(ctx, &model.Entity{Kind: model.KindActor, Name: "Tom Hanks", Movies: []primitive.ObjectID{ids["10"]}})
	require.NoError(t, err)
	_, err = s.AddMovieRef(ctx, ids["10"], model.KindActor, actor)
	require.NoError(t, err)

	res, err = s.BulkUpsertMovies(ctx, upsert)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Matched)
	assert.Equal(t, int64(0), res.Modified)

	m, err := s.GetMovie(ctx, "10")
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{genre}, m.Genres)
	assert.Equal(t, []primitive.ObjectID{actor}, m.Actors)
	assert.NotNil(t, m.Crew)

	e, err := s.GetEntity(ctx, model.KindActor, actor)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{ids["10"]}, e.Movies)
}

func TestMongoClearStaleRatings(t *testing.T) {
	ctx, s := connect(t)
	_, err := s.BulkUpsertMovies(ctx, []model.MovieUpsert{{MovieID: "10"}, {MovieID: "11"}, {MovieID: "12"}})
	require.NoError(t, err)
	_, err = s.BulkSetRatings(ctx, []model.RatingUpdate{{MovieID: "10", Rating: 2, Run: "old"}, {MovieID: "11", Rating: 3, Run: "old"}})
	require.NoError(t, err)
	_, err = s.BulkSetRatings(ctx, []model.RatingUpdate{{MovieID: "10", Rating: 4, Run: "new"}})
	require.NoError(t, err)

	cleared, err := s.ClearStaleRatings(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	ten, err := s.GetMovie(ctx, "10")
	require.NoError(t, err)
	require.NotNil(t, ten.Rating)
	assert.Equal(t, 4.0, *ten.Rating)

	eleven, err := s.GetMovie(ctx, "11")
	require.NoError(t, err)
	assert.Nil(t, eleven.Rating)
	assert.Empty(t, eleven.RatingRun)
}
