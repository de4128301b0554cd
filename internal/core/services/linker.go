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

// This file, `linker.go`, defines the Linker, the write side of the
// relationship between a movie and an entity. Resolving the entity is the
// Resolver's job; the Linker only adds the references.
package services

import (
	"context"
	"fmt"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LinkResult reports which side of a link was actually modified.
type LinkResult struct {
	MovieModified  bool
	EntityModified bool
}

// Modified is the number of documents the link changed.
func (r LinkResult) Modified() int {
	n := 0
	if r.MovieModified {
		n++
	}
	if r.EntityModified {
		n++
	}
	return n
}

// Linker maintains the association between a movie and a related entity with
// add-if-absent updates on both sides, so linking an existing pair changes
// nothing.
type Linker struct {
	Store store.Store
}

// NewLinker creates a Linker over s.
func NewLinker(s store.Store) *Linker {
	return &Linker{Store: s}
}

// Link adds entityID to the movie's association list for kind and, for kinds
// with a reverse association, movieID to the entity's movie list.
//
// Inputs:
//   - ctx: The context for the store calls.
//   - movieID: The identifier of the movie.
//   - kind: The kind of the entity, selecting the movie's association list.
//   - entityID: The identifier of the entity.
//
// Outputs:
//   - LinkResult: Which sides were modified. Both are false for a pair that
//     was already linked.
//   - error: The first failed update, wrapped with both identifiers.
func (l *Linker) Link(ctx context.Context, movieID primitive.ObjectID, kind model.Kind, entityID primitive.ObjectID) (LinkResult, error) {
	var res LinkResult
	var err error

	res.MovieModified, err = l.Store.AddMovieRef(ctx, movieID, kind, entityID)
	if err != nil {
		return res, fmt.Errorf("failed to link %s %s to movie %s: %w", kind, entityID.Hex(), movieID.Hex(), err)
	}
	if !kind.Bidirectional() {
		return res, nil
	}
	res.EntityModified, err = l.Store.AddEntityMovie(ctx, kind, entityID, movieID)
	if err != nil {
		return res, fmt.Errorf("failed to link movie %s to %s %s: %w", movieID.Hex(), kind, entityID.Hex(), err)
	}
	return res, nil
}
