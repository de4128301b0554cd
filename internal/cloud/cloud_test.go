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

package cloud_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-movie-migration/internal/cloud"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir string, name string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env.toml", `
[application]
name = "movie-migration"
google_project_id = "base-project"
workers = 8

[sources]
dir = "gs://movie-dataset/exports"

[mongo]
uri = "mongodb://mongo:27017"
database = "movies"
`)
	writeFile(t, dir, ".env.test.toml", `
[application]
google_project_id = "test-project"

[store]
driver = "memory"
max_ops_per_second = 50

[ratings]
scope = "batch"
`)
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "test")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, "test-project", config.Application.GoogleProjectId)
	assert.Equal(t, 8, config.Application.Workers)
	assert.Equal(t, 1000, config.Application.BatchSize)
	assert.Equal(t, "gs://movie-dataset/exports", config.Sources.Dir)
	assert.Equal(t, "mongodb://mongo:27017", config.Mongo.URI)
	assert.Equal(t, cloud.DriverMemory, config.Store.Driver)
	assert.Equal(t, 50, config.Store.MaxOpsPerSecond)
	assert.Equal(t, "batch", config.Ratings.Scope)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigMissingFiles(t *testing.T) {
	t.Setenv(cloud.EnvConfigFilePrefix, t.TempDir())
	t.Setenv(cloud.EnvConfigRuntime, "")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))
	assert.Equal(t, cloud.NewConfig(), config)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env.toml", "[application\nname = ")
	t.Setenv(cloud.EnvConfigFilePrefix, dir)

	assert.Error(t, cloud.LoadConfig(cloud.NewConfig()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*cloud.Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*cloud.Config) {}, ok: true},
		{name: "unknown driver", mutate: func(c *cloud.Config) { c.Store.Driver = "postgres" }},
		{name: "mongo without uri", mutate: func(c *cloud.Config) { c.Mongo.URI = "" }},
		{name: "memory without uri", mutate: func(c *cloud.Config) { c.Store.Driver = cloud.DriverMemory; c.Mongo.URI = "" }, ok: true},
		{name: "unknown scope", mutate: func(c *cloud.Config) { c.Ratings.Scope = "run" }},
		{name: "no workers", mutate: func(c *cloud.Config) { c.Application.Workers = 0 }},
		{name: "no batch size", mutate: func(c *cloud.Config) { c.Application.BatchSize = 0 }},
		{name: "report without dataset", mutate: func(c *cloud.Config) { c.Report.Enabled = true; c.Application.GoogleProjectId = "p" }},
		{name: "report", mutate: func(c *cloud.Config) {
			c.Report.Enabled = true
			c.Report.Dataset = "migration"
			c.Application.GoogleProjectId = "p"
		}, ok: true},
		{name: "trigger without project", mutate: func(c *cloud.Config) { c.Trigger.Subscription = "dataset-ready" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := cloud.NewConfig()
			tt.mutate(config)
			if tt.ok {
				assert.NoError(t, config.Validate())
			} else {
				assert.Error(t, config.Validate())
			}
		})
	}
}

func TestNewCloudServiceClientsMemory(t *testing.T) {
	ctx := context.Background()
	config := cloud.NewConfig()
	config.Store.Driver = cloud.DriverMemory
	config.Sources.Dir = "testdata"

	clients, err := cloud.NewCloudServiceClients(ctx, config)
	require.NoError(t, err)
	defer func() { assert.NoError(t, clients.Close(ctx)) }()

	assert.NotNil(t, clients.Store)
	assert.Nil(t, clients.StorageClient)
	assert.Nil(t, clients.PubsubClient)
	assert.Nil(t, clients.BiqQueryClient)

	n, err := clients.Store.CountMovies(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestNewCloudServiceClientsThrottled(t *testing.T) {
	ctx := context.Background()
	config := cloud.NewConfig()
	config.Store.Driver = cloud.DriverMemory
	config.Store.MaxOpsPerSecond = 100

	clients, err := cloud.NewCloudServiceClients(ctx, config)
	require.NoError(t, err)
	defer func() { assert.NoError(t, clients.Close(ctx)) }()

	_, ok := clients.Store.(*store.Throttled)
	assert.True(t, ok)
}

func TestGCSObject(t *testing.T) {
	obj := &cloud.GCSObject{Bucket: "movie-dataset", Name: "exports/2024-10-01/_READY"}
	assert.Equal(t, "gs://movie-dataset/exports/2024-10-01/_READY", obj.URI())
	assert.Equal(t, "gs://movie-dataset/exports/2024-10-01", obj.Dir())

	root := &cloud.GCSObject{Bucket: "movie-dataset", Name: "_READY"}
	assert.Equal(t, "gs://movie-dataset", root.Dir())
}
