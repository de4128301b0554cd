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

// Package memstore is an in-memory store.Store. It enforces the same natural
// key uniqueness as the MongoDB indexes and the same add-if-absent semantics
// for association lists, which makes it suitable for dry runs and tests.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type entityTable struct {
	byKey map[model.NaturalKey]*model.Entity
	byID  map[primitive.ObjectID]*model.Entity
}

// Store keeps the whole graph in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	movies   map[string]*model.Movie
	moviesID map[primitive.ObjectID]*model.Movie
	entities map[model.Kind]*entityTable
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	s := &Store{
		movies:   make(map[string]*model.Movie),
		moviesID: make(map[primitive.ObjectID]*model.Movie),
		entities: make(map[model.Kind]*entityTable, len(model.Kinds)),
	}
	for _, k := range model.Kinds {
		s.entities[k] = &entityTable{
			byKey: make(map[model.NaturalKey]*model.Entity),
			byID:  make(map[primitive.ObjectID]*model.Entity),
		}
	}
	return s
}

// EnsureIndexes is a no-op; the maps are the indexes.
func (s *Store) EnsureIndexes(_ context.Context) error {
	return nil
}

func (s *Store) table(kind model.Kind) (*entityTable, error) {
	t, ok := s.entities[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %v", kind)
	}
	return t, nil
}

// naturalKey drops the job of kinds that are not keyed by it.
func naturalKey(kind model.Kind, key model.NaturalKey) model.NaturalKey {
	if kind != model.KindCrewMember {
		key.Job = ""
	}
	return key
}

// FindEntity returns a copy of the entity holding key, or store.ErrNotFound.
func (s *Store) FindEntity(_ context.Context, kind model.Kind, key model.NaturalKey) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	e, ok := t.byKey[naturalKey(kind, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyEntity(e), nil
}

// InsertEntity stores a copy of entity under a new identifier. The movie list
// of kinds without a reverse association is dropped.
func (s *Store) InsertEntity(_ context.Context, entity *model.Entity) (primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity.Kind)
	if err != nil {
		return primitive.NilObjectID, err
	}
	key := naturalKey(entity.Kind, entity.Key())
	if _, ok := t.byKey[key]; ok {
		return primitive.NilObjectID, fmt.Errorf("%s %q: %w", entity.Kind, key, store.ErrDuplicateKey)
	}

	e := copyEntity(entity)
	e.ID = primitive.NewObjectID()
	e.Job = key.Job
	if !entity.Kind.Bidirectional() {
		e.Movies = nil
	}
	t.byKey[key] = e
	t.byID[e.ID] = e
	return e.ID, nil
}

func (s *Store) AddEntityMovie(_ context.Context, kind model.Kind, entityID primitive.ObjectID, movieID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return false, err
	}
	e, ok := t.byID[entityID]
	if !ok {
		return false, fmt.Errorf("%s %s: %w", kind, entityID.Hex(), store.ErrNotFound)
	}
	var added bool
	e.Movies, added = addToSet(e.Movies, movieID)
	return added, nil
}

func (s *Store) GetEntity(_ context.Context, kind model.Kind, id primitive.ObjectID) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	e, ok := t.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyEntity(e), nil
}

func (s *Store) CountEntities(_ context.Context, kind model.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(kind)
	if err != nil {
		return 0, err
	}
	return int64(len(t.byID)), nil
}

// AddMovieRef appends entityID to the association list of kind if absent.
func (s *Store) AddMovieRef(_ context.Context, movieID primitive.ObjectID, kind model.Kind, entityID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moviesID[movieID]
	if !ok {
		return false, fmt.Errorf("movie %s: %w", movieID.Hex(), store.ErrNotFound)
	}
	var added bool
	switch kind {
	case model.KindGenre:
		m.Genres, added = addToSet(m.Genres, entityID)
	case model.KindActor:
		m.Actors, added = addToSet(m.Actors, entityID)
	case model.KindCrewMember:
		m.Crew, added = addToSet(m.Crew, entityID)
	case model.KindKeyword:
		m.Keywords, added = addToSet(m.Keywords, entityID)
	default:
		return false, fmt.Errorf("unknown entity kind %v", kind)
	}
	return added, nil
}

func (s *Store) LookupMovies(_ context.Context, keys []string) (map[string]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]primitive.ObjectID, len(keys))
	for _, k := range keys {
		if m, ok := s.movies[k]; ok {
			out[k] = m.ID
		}
	}
	return out, nil
}

// BulkUpsertMovies applies the upserts in order under one lock. An upsert
// without a key is the only operation that can fail.
func (s *Store) BulkUpsertMovies(_ context.Context, upserts []model.MovieUpsert) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.BulkResult
	for i, u := range upserts {
		if u.MovieID == "" {
			res.Failures = append(res.Failures, store.OpFailure{Index: i, Err: fmt.Errorf("empty movie key")})
			continue
		}
		m, ok := s.movies[u.MovieID]
		if !ok {
			m = &model.Movie{
				ID:       primitive.NewObjectID(),
				MovieID:  u.MovieID,
				Genres:   []primitive.ObjectID{},
				Actors:   []primitive.ObjectID{},
				Crew:     []primitive.ObjectID{},
				Keywords: []primitive.ObjectID{},
			}
			s.movies[u.MovieID] = m
			s.moviesID[m.ID] = m
			res.Upserted++
		} else {
			res.Matched++
		}

		changed := applyFields(m, u.Fields)
		for _, g := range u.Genres {
			var added bool
			m.Genres, added = addToSet(m.Genres, g)
			changed = changed || added
		}
		if ok && changed {
			res.Modified++
		}
	}
	return res, nil
}

// BulkSetRatings sets the rating and run of the movies that exist and skips
// the others, like an update that matches nothing.
func (s *Store) BulkSetRatings(_ context.Context, updates []model.RatingUpdate) (store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res store.BulkResult
	for _, u := range updates {
		m, ok := s.movies[u.MovieID]
		if !ok {
			continue
		}
		res.Matched++
		if m.Rating == nil || *m.Rating != u.Rating || m.RatingRun != u.Run {
			r := u.Rating
			m.Rating = &r
			m.RatingRun = u.Run
			res.Modified++
		}
	}
	return res, nil
}

func (s *Store) ClearStaleRatings(_ context.Context, run string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int64
	for _, m := range s.movies {
		if m.Rating != nil && m.RatingRun != run {
			m.Rating = nil
			m.RatingRun = ""
			cleared++
		}
	}
	return cleared, nil
}

// GetMovie returns a copy of the movie.
func (s *Store) GetMovie(_ context.Context, key string) (*model.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyMovie(m), nil
}

func (s *Store) CountMovies(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.movies)), nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

func addToSet(list []primitive.ObjectID, id primitive.ObjectID) ([]primitive.ObjectID, bool) {
	if slices.Contains(list, id) {
		return list, false
	}
	return append(list, id), true
}

// applyFields overwrites the scalar fields of m and reports whether any of
// them changed.
func applyFields(m *model.Movie, f model.MovieFields) bool {
	before := model.MovieFields{
		Title:       m.Title,
		Budget:      m.Budget,
		Revenue:     m.Revenue,
		ReleaseDate: m.ReleaseDate,
		Overview:    m.Overview,
		Runtime:     m.Runtime,
	}
	m.Title = f.Title
	m.Budget = clonePtr(f.Budget)
	m.Revenue = clonePtr(f.Revenue)
	m.ReleaseDate = clonePtr(f.ReleaseDate)
	m.Overview = f.Overview
	m.Runtime = clonePtr(f.Runtime)
	return !sameFields(before, f)
}

func sameFields(a, b model.MovieFields) bool {
	return a.Title == b.Title &&
		a.Overview == b.Overview &&
		equalPtr(a.Budget, b.Budget) &&
		equalPtr(a.Revenue, b.Revenue) &&
		equalPtr(a.Runtime, b.Runtime) &&
		equalTime(a.ReleaseDate, b.ReleaseDate)
}

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyEntity(e *model.Entity) *model.Entity {
	out := *e
	out.Movies = slices.Clone(e.Movies)
	return &out
}

func copyMovie(m *model.Movie) *model.Movie {
	out := *m
	out.Budget = clonePtr(m.Budget)
	out.Revenue = clonePtr(m.Revenue)
	out.ReleaseDate = clonePtr(m.ReleaseDate)
	out.Runtime = clonePtr(m.Runtime)
	out.Rating = clonePtr(m.Rating)
	out.Genres = slices.Clone(m.Genres)
	out.Actors = slices.Clone(m.Actors)
	out.Crew = slices.Clone(m.Crew)
	out.Keywords = slices.Clone(m.Keywords)
	return &out
}
