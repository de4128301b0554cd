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

// Package model defines the core data structures for the migration engine.
// This file, `entities.go`, contains the persistent shapes of the movie graph:
// the Movie document and the related entities (Genre, Actor, CrewMember and
// Keyword) it references by identifier.
//
// Every entity is persisted with a backend-assigned ObjectID that is distinct
// from its natural key. Related entities share one Go representation, `Entity`,
// and are told apart by their `Kind`.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Movie is the central document of the graph. It is uniquely identified across
// runs by its external key (`MovieID`), never by its storage identifier.
type Movie struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	MovieID     string               `bson:"movieId" json:"movie_id"`                    // External key from the source tables.
	Title       string               `bson:"title" json:"title"`                         // Display title.
	Budget      *float64             `bson:"budget" json:"budget,omitempty"`             // Absent when the source cell is empty or not a number.
	Revenue     *float64             `bson:"revenue" json:"revenue,omitempty"`           // Absent when the source cell is empty or not a number.
	ReleaseDate *time.Time           `bson:"release_date" json:"release_date,omitempty"` // Absent when the source cell is not a YYYY-MM-DD date.
	Overview    string               `bson:"overview" json:"overview"`                   // Free text synopsis.
	Runtime     *float64             `bson:"runtime" json:"runtime,omitempty"`           // Minutes.
	Genres      []primitive.ObjectID `bson:"genres" json:"genres"`                       // References to Genre entities.
	Actors      []primitive.ObjectID `bson:"actors" json:"actors"`                       // References to Actor entities.
	Crew        []primitive.ObjectID `bson:"crew" json:"crew"`                           // References to CrewMember entities.
	Keywords    []primitive.ObjectID `bson:"keywords" json:"keywords"`                   // References to Keyword entities.
	Rating      *float64             `bson:"rating,omitempty" json:"rating,omitempty"`   // Mean of all valid ratings for MovieID.
	RatingRun   string               `bson:"rating_run,omitempty" json:"-"`              // Run that wrote Rating.
}

// MovieFields holds the scalar attributes of a Movie. A movie write always
// overwrites all of them (`$set` semantics); association lists are never part
// of this struct because they only ever grow.
type MovieFields struct {
	Title       string     `bson:"title"`
	Budget      *float64   `bson:"budget"`
	Revenue     *float64   `bson:"revenue"`
	ReleaseDate *time.Time `bson:"release_date"`
	Overview    string     `bson:"overview"`
	Runtime     *float64   `bson:"runtime"`
}

// MovieUpsert is one update-or-insert of a Movie keyed by its external key.
// Genres are added to the movie's genre list if absent.
type MovieUpsert struct {
	MovieID string
	Fields  MovieFields
	Genres  []primitive.ObjectID
}

// RatingUpdate sets the rating of the movie identified by MovieID. Run tags
// the rating with the run that computed it, so ratings no run recomputed can
// be told apart and cleared.
type RatingUpdate struct {
	MovieID string
	Rating  float64
	Run     string
}

// Entity is the persisted form of a Genre, Actor, CrewMember or Keyword.
// Job is only meaningful for crew members and Movies only for the kinds that
// keep a reverse association (see Kind.Bidirectional).
type Entity struct {
	ID     primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Kind   Kind                 `bson:"-" json:"kind"`
	Name   string               `bson:"name" json:"name"`
	Job    string               `bson:"job,omitempty" json:"job,omitempty"`
	Movies []primitive.ObjectID `bson:"movies,omitempty" json:"movies,omitempty"`
}

// Key returns the natural key of the entity.
func (e *Entity) Key() NaturalKey {
	return NaturalKey{Name: e.Name, Job: e.Job}
}
