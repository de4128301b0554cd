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

// Package services contains the graph building blocks used by the migration
// passes. This file, `resolver.go`, defines the Resolver, which turns a natural
// key (a genre or keyword name, an actor name, a crew member name and job)
// into the identifier of the one stored entity holding that key, creating the
// entity on first sight.
//
// Concurrent resolutions of the same key are collapsed into a single
// find-or-create with a singleflight group that lives as long as the Resolver.
// Stores with a unique index on the natural key (MongoDB) additionally turn a
// lost race across processes into a duplicate key error, after which the
// winner is read back.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/model"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultWorkers bounds the concurrent store calls of ResolveAll when no
// limit is configured.
const DefaultWorkers = 16

// Resolver finds or creates entities by natural key.
type Resolver struct {
	Store   store.Store
	Workers int // Concurrency of ResolveAll.

	group   singleflight.Group
	created atomic.Int64
}

// NewResolver creates a Resolver over s.
func NewResolver(s store.Store, workers int) *Resolver {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Resolver{Store: s, Workers: workers}
}

// Created returns the number of entities this Resolver has inserted.
func (r *Resolver) Created() int64 {
	return r.created.Load()
}

type resolution struct {
	id         primitive.ObjectID
	created    bool
	seededWith primitive.ObjectID
}

// Resolve returns the identifier of the entity of the given kind holding key.
// If none exists it is created; for kinds with a reverse association, movieID
// is then its only movie. If the entity already existed, movieID is added to
// its reverse list when absent. A zero movieID links nothing.
//
// Inputs:
//   - ctx: The context for the store calls.
//   - kind: The kind of entity to resolve.
//   - key: The natural key. Its job is ignored for every kind but crew members.
//   - movieID: The movie the entity is resolved for, or the zero ObjectID.
//
// Outputs:
//   - primitive.ObjectID: The identifier of the one entity holding key.
//   - error: An error if the entity could neither be found nor created.
func (r *Resolver) Resolve(ctx context.Context, kind model.Kind, key model.NaturalKey, movieID primitive.ObjectID) (primitive.ObjectID, error) {
	if kind != model.KindCrewMember {
		key.Job = ""
	}

	v, err, _ := r.group.Do(flightKey(kind, key), func() (interface{}, error) {
		return r.findOrCreate(ctx, kind, key, movieID)
	})
	if err != nil {
		return primitive.NilObjectID, err
	}
	res := v.(resolution)

	// Callers sharing a flight still each need their own movie on the entity.
	if kind.Bidirectional() && !movieID.IsZero() && !(res.created && res.seededWith == movieID) {
		if _, err := r.Store.AddEntityMovie(ctx, kind, res.id, movieID); err != nil {
			return primitive.NilObjectID, err
		}
	}
	return res.id, nil
}

// findOrCreate runs once per flight.
func (r *Resolver) findOrCreate(ctx context.Context, kind model.Kind, key model.NaturalKey, movieID primitive.ObjectID) (resolution, error) {
	existing, err := r.Store.FindEntity(ctx, kind, key)
	if err == nil {
		return resolution{id: existing.ID}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return resolution{}, fmt.Errorf("failed to find %s %q: %w", kind, key, err)
	}

	entity := &model.Entity{Kind: kind, Name: key.Name, Job: key.Job}
	if kind.Bidirectional() && !movieID.IsZero() {
		entity.Movies = []primitive.ObjectID{movieID}
	}
	id, err := r.Store.InsertEntity(ctx, entity)
	if errors.Is(err, store.ErrDuplicateKey) {
		// Someone else created it between our find and insert.
		winner, err := r.Store.FindEntity(ctx, kind, key)
		if err != nil {
			return resolution{}, fmt.Errorf("failed to re-read %s %q after duplicate key: %w", kind, key, err)
		}
		return resolution{id: winner.ID}, nil
	}
	if err != nil {
		return resolution{}, fmt.Errorf("failed to create %s %q: %w", kind, key, err)
	}

	r.created.Add(1)
	slog.DebugContext(ctx, "created entity", "kind", kind.String(), "key", key.String(), "id", id.Hex())
	return resolution{id: id, created: true, seededWith: movieID}, nil
}

// ResolveAll resolves each distinct key once, without linking any movie, and
// returns the identifiers by key. It is the pre-pass used before a batch fans
// out so that repeated keys never race each other.
func (r *Resolver) ResolveAll(ctx context.Context, kind model.Kind, keys []model.NaturalKey) (map[model.NaturalKey]primitive.ObjectID, error) {
	distinct := make(map[model.NaturalKey]struct{}, len(keys))
	for _, k := range keys {
		if kind != model.KindCrewMember {
			k.Job = ""
		}
		distinct[k] = struct{}{}
	}

	var (
		mu  sync.Mutex
		ids = make(map[model.NaturalKey]primitive.ObjectID, len(distinct))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for k := range distinct {
		g.Go(func() error {
			id, err := r.Resolve(gctx, kind, k, primitive.NilObjectID)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[k] = id
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Resolver) workers() int {
	if r.Workers < 1 {
		return DefaultWorkers
	}
	return r.Workers
}

func flightKey(kind model.Kind, key model.NaturalKey) string {
	return kind.String() + "\x00" + key.Name + "\x00" + key.Job
}
