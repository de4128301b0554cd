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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store/memstore"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store/mongostore"
	"google.golang.org/api/option"
)

// ServiceClients holds every client of the process. Clients the
// configuration does not need are nil.
type ServiceClients struct {
	Store          store.Store
	StorageClient  *storage.Client
	PubsubClient   *pubsub.Client
	BiqQueryClient *bigquery.Client
}

// Close releases every open client.
func (c *ServiceClients) Close(ctx context.Context) error {
	var errs []error
	if c.Store != nil {
		errs = append(errs, c.Store.Close(ctx))
	}
	if c.StorageClient != nil {
		errs = append(errs, c.StorageClient.Close())
	}
	if c.PubsubClient != nil {
		errs = append(errs, c.PubsubClient.Close())
	}
	if c.BiqQueryClient != nil {
		errs = append(errs, c.BiqQueryClient.Close())
	}
	return errors.Join(errs...)
}

// NewCloudServiceClients opens the store and the Google Cloud clients the
// configuration calls for. On failure every client opened so far is closed.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	out := &ServiceClients{}
	defer func() {
		if err != nil {
			_ = out.Close(ctx)
		}
	}()

	if out.Store, err = openStore(ctx, config); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithUserAgent(config.Application.Name)}

	if needsStorage(config) {
		storageOpts := opts
		if config.Sources.StorageEndpoint != "" {
			storageOpts = append(storageOpts, option.WithEndpoint(config.Sources.StorageEndpoint))
		}
		if out.StorageClient, err = storage.NewClient(ctx, storageOpts...); err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	if config.Trigger.Subscription != "" {
		if out.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId, opts...); err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
	}

	if config.Report.Enabled {
		if out.BiqQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId, opts...); err != nil {
			return nil, fmt.Errorf("failed to create bigquery client: %w", err)
		}
	}
	return out, nil
}

func openStore(ctx context.Context, config *Config) (store.Store, error) {
	var s store.Store
	switch config.Store.Driver {
	case DriverMemory:
		slog.WarnContext(ctx, "using the in-memory store; nothing will be persisted")
		s = memstore.New()
	case DriverMongo:
		timeout := time.Duration(config.Mongo.ConnectTimeoutSeconds) * time.Second
		m, err := mongostore.Connect(ctx, config.Mongo.URI, config.Mongo.Database, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		s = m
	default:
		return nil, fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}
	if config.Store.MaxOpsPerSecond > 0 {
		s = store.NewThrottled(s, config.Store.MaxOpsPerSecond)
	}
	return s, nil
}

// needsStorage reports whether any source may live in Cloud Storage. Runs
// started by a trigger always read from the notified bucket.
func needsStorage(config *Config) bool {
	if config.Trigger.Subscription != "" {
		return true
	}
	for _, loc := range []string{config.Sources.Dir, config.Sources.Movies, config.Sources.Ratings, config.Sources.Keywords, config.Sources.Credits} {
		if strings.HasPrefix(loc, "gs://") {
			return true
		}
	}
	return false
}
