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

// Package mongostore implements store.Store on MongoDB. Movies live in the
// `movies` collection keyed by `movieId`; each related entity kind has its own
// collection keyed by `name` (plus `job` for crew members). Unique indexes on
// those keys back the find-or-create of the resolver, and every association
// update is an `$addToSet` so concurrent linkers never lose each other's work.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// duplicateKeyCode is the server error code of a unique index violation.
const duplicateKeyCode = 11000

// Store is a store.Store backed by one MongoDB database.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	ownsClient bool
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and returns a Store for database.
// The client is disconnected by Close.
func Connect(ctx context.Context, uri string, database string, timeout time.Duration) (*Store, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	s := New(client, database)
	s.ownsClient = true
	return s, nil
}

// New wraps an existing client. Close leaves the client connected.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// entities returns the collection of kind.
func (s *Store) entities(kind model.Kind) *mongo.Collection {
	return s.db.Collection(kind.Collection())
}

func (s *Store) movies() *mongo.Collection {
	return s.db.Collection(model.MoviesCollection)
}

// EnsureIndexes creates the unique index on `movieId` and the natural key
// index of every entity collection. Creating an index that already exists
// with the same definition is a no-op, so it runs at every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.movies().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "movieId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("movieId_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create index on %s: %w", model.MoviesCollection, err)
	}

	for _, kind := range model.Kinds {
		keys := bson.D{{Key: "name", Value: 1}}
		if kind == model.KindCrewMember {
			keys = append(keys, bson.E{Key: "job", Value: 1})
		}
		_, err := s.entities(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName("natural_key_unique"),
		})
		if err != nil {
			return fmt.Errorf("failed to create index on %s: %w", kind.Collection(), err)
		}
	}
	return nil
}

// keyFilter matches the natural key exactly. Crew members always carry a job
// field, possibly empty, so the filter always names it.
func keyFilter(kind model.Kind, key model.NaturalKey) bson.D {
	filter := bson.D{{Key: "name", Value: key.Name}}
	if kind == model.KindCrewMember {
		filter = append(filter, bson.E{Key: "job", Value: key.Job})
	}
	return filter
}

// FindEntity loads the entity holding key from the collection of kind.
//
// Outputs:
//   - *model.Entity: The entity, with Kind set.
//   - error: store.ErrNotFound when no entity holds key.
func (s *Store) FindEntity(ctx context.Context, kind model.Kind, key model.NaturalKey) (*model.Entity, error) {
	var out model.Entity
	err := s.entities(kind).FindOne(ctx, keyFilter(kind, key)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %q: %w", kind, key, err)
	}
	out.Kind = kind
	return &out, nil
}

// InsertEntity inserts a new entity document. Bidirectional kinds are always
// written with a `movies` array, empty when the entity has no movie yet.
//
// Inputs:
//   - ctx: The context for the insert.
//   - entity: The entity to insert. Its ID is ignored; the server assigns one.
//
// Outputs:
//   - primitive.ObjectID: The identifier assigned to the entity.
//   - error: An error wrapping store.ErrDuplicateKey when the unique index
//     rejected the natural key.
func (s *Store) InsertEntity(ctx context.Context, entity *model.Entity) (primitive.ObjectID, error) {
	doc := keyFilter(entity.Kind, entity.Key())
	if entity.Kind.Bidirectional() {
		movies := entity.Movies
		if movies == nil {
			movies = []primitive.ObjectID{}
		}
		doc = append(doc, bson.E{Key: "movies", Value: movies})
	}

	res, err := s.entities(entity.Kind).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return primitive.NilObjectID, fmt.Errorf("%s %q: %w", entity.Kind, entity.Key(), store.ErrDuplicateKey)
	}
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to insert %s %q: %w", entity.Kind, entity.Key(), err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("unexpected id type %T for %s %q", res.InsertedID, entity.Kind, entity.Key())
	}
	return id, nil
}

// AddEntityMovie adds movieID to the `movies` array of the entity with
// `$addToSet` and reports whether the array grew.
func (s *Store) AddEntityMovie(ctx context.Context, kind model.Kind, entityID primitive.ObjectID, movieID primitive.ObjectID) (bool, error) {
	res, err := s.entities(kind).UpdateByID(ctx, entityID, bson.M{"$addToSet": bson.M{"movies": movieID}})
	if err != nil {
		return false, fmt.Errorf("failed to link movie %s to %s %s: %w", movieID.Hex(), kind, entityID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return false, fmt.Errorf("%s %s: %w", kind, entityID.Hex(), store.ErrNotFound)
	}
	return res.ModifiedCount > 0, nil
}

// GetEntity loads an entity by identifier.
func (s *Store) GetEntity(ctx context.Context, kind model.Kind, id primitive.ObjectID) (*model.Entity, error) {
	var out model.Entity
	err := s.entities(kind).FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id.Hex(), err)
	}
	out.Kind = kind
	return &out, nil
}

func (s *Store) CountEntities(ctx context.Context, kind model.Kind) (int64, error) {
	return s.entities(kind).CountDocuments(ctx, bson.D{})
}

// AddMovieRef adds entityID to the association array of the movie that
// kind maps to (see model.Kind.MovieField) and reports whether it grew. A
// movie that does not exist yields store.ErrNotFound.
func (s *Store) AddMovieRef(ctx context.Context, movieID primitive.ObjectID, kind model.Kind, entityID primitive.ObjectID) (bool, error) {
	res, err := s.movies().UpdateByID(ctx, movieID, bson.M{"$addToSet": bson.M{kind.MovieField(): entityID}})
	if err != nil {
		return false, fmt.Errorf("failed to link %s %s to movie %s: %w", kind, entityID.Hex(), movieID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return false, fmt.Errorf("movie %s: %w", movieID.Hex(), store.ErrNotFound)
	}
	return res.ModifiedCount > 0, nil
}

// LookupMovies resolves keys with a single `$in` query projected to the key
// and the identifier.
func (s *Store) LookupMovies(ctx context.Context, keys []string) (map[string]primitive.ObjectID, error) {
	out := make(map[string]primitive.ObjectID, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cur, err := s.movies().Find(ctx,
		bson.M{"movieId": bson.M{"$in": keys}},
		options.Find().SetProjection(bson.M{"_id": 1, "movieId": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to look up %d movies: %w", len(keys), err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var row struct {
			ID      primitive.ObjectID `bson:"_id"`
			MovieID string             `bson:"movieId"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode movie key: %w", err)
		}
		out[row.MovieID] = row.ID
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to look up %d movies: %w", len(keys), err)
	}
	return out, nil
}

// BulkUpsertMovies writes one upsert per movie in a single unordered bulk
// write.
//
// Each operation:
//   - matches on `movieId`;
//   - `$set`s every scalar field;
//   - `$addToSet`s the genres;
//   - creates the empty association arrays with `$setOnInsert`, leaving them
//     alone on an existing movie.
func (s *Store) BulkUpsertMovies(ctx context.Context, upserts []model.MovieUpsert) (store.BulkResult, error) {
	models := make([]mongo.WriteModel, 0, len(upserts))
	for _, u := range upserts {
		genres := u.Genres
		if genres == nil {
			genres = []primitive.ObjectID{}
		}
		update := bson.M{
			"$set":      u.Fields,
			"$addToSet": bson.M{"genres": bson.M{"$each": genres}},
			"$setOnInsert": bson.M{
				"actors":   bson.A{},
				"crew":     bson.A{},
				"keywords": bson.A{},
			},
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"movieId": u.MovieID}).
			SetUpdate(update).
			SetUpsert(true))
	}
	return s.bulkWrite(ctx, s.movies(), models)
}

// BulkSetRatings sets `rating` and `rating_run` of existing movies. It never
// upserts; a movie that does not exist is matched by nothing.
func (s *Store) BulkSetRatings(ctx context.Context, updates []model.RatingUpdate) (store.BulkResult, error) {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"movieId": u.MovieID}).
			SetUpdate(bson.M{"$set": bson.M{"rating": u.Rating, "rating_run": u.Run}}))
	}
	return s.bulkWrite(ctx, s.movies(), models)
}

// ClearStaleRatings unsets the rating of every movie whose rating_run differs
// from run, including ratings written before runs were tagged.
func (s *Store) ClearStaleRatings(ctx context.Context, run string) (int64, error) {
	res, err := s.movies().UpdateMany(ctx,
		bson.M{"rating": bson.M{"$exists": true}, "rating_run": bson.M{"$ne": run}},
		bson.M{"$unset": bson.M{"rating": "", "rating_run": ""}})
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale ratings: %w", err)
	}
	return res.ModifiedCount, nil
}

// bulkWrite submits models unordered so that every operation runs regardless
// of the others, and maps per operation write errors to store.OpFailure.
func (s *Store) bulkWrite(ctx context.Context, coll *mongo.Collection, models []mongo.WriteModel) (store.BulkResult, error) {
	var out store.BulkResult
	if len(models) == 0 {
		return out, nil
	}

	// The counts are valid even when some operations failed.
	res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if res != nil {
		out.Matched = res.MatchedCount
		out.Modified = res.ModifiedCount
		out.Upserted = res.UpsertedCount
	}
	if err == nil {
		return out, nil
	}

	// Only per operation write errors are partial failures; anything else
	// failed the batch as a whole.
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return out, fmt.Errorf("bulk write on %s failed: %w", coll.Name(), err)
	}
	for _, we := range bwe.WriteErrors {
		opErr := errors.New(we.Message)
		if we.Code == duplicateKeyCode {
			opErr = fmt.Errorf("%s: %w", we.Message, store.ErrDuplicateKey)
		}
		out.Failures = append(out.Failures, store.OpFailure{Index: we.Index, Err: opErr})
	}
	slog.WarnContext(ctx, "bulk write had failed operations",
		"collection", coll.Name(), "operations", len(models), "failed", len(out.Failures))
	return out, nil
}

func (s *Store) GetMovie(ctx context.Context, key string) (*model.Movie, error) {
	var out model.Movie
	err := s.movies().FindOne(ctx, bson.M{"movieId": key}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load movie %q: %w", key, err)
	}
	return &out, nil
}

func (s *Store) CountMovies(ctx context.Context) (int64, error) {
	return s.movies().CountDocuments(ctx, bson.D{})
}

// Close disconnects the client if Connect created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(ctx)
}
