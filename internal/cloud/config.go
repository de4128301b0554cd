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

// Package cloud holds the configuration of the migration and the clients it
// talks to: the graph store and the Google Cloud services used for sources,
// triggers and run reports.
package cloud

import (
	"errors"
	"fmt"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Application holds process wide settings.
type Application struct {
	Name            string `toml:"name"`
	GoogleProjectId string `toml:"google_project_id"`
	Workers         int    `toml:"workers"`    // Concurrent resolutions per batch.
	BatchSize       int    `toml:"batch_size"` // Records per batch.
}

// Sources locates the four dataset tables. An explicit location wins over
// Dir, which is joined with the table's file name. Locations are local paths
// or gs://bucket/object URIs.
type Sources struct {
	Dir             string `toml:"dir"`
	Movies          string `toml:"movies"`
	Ratings         string `toml:"ratings"`
	Keywords        string `toml:"keywords"`
	Credits         string `toml:"credits"`
	StorageEndpoint string `toml:"storage_endpoint"` // Overrides the Cloud Storage endpoint, e.g. for an emulator.
}

type Store struct {
	Driver          string `toml:"driver"`             // "mongo" or "memory".
	MaxOpsPerSecond int    `toml:"max_ops_per_second"` // Zero disables throttling.
}

type Mongo struct {
	URI                   string `toml:"uri"`
	Database              string `toml:"database"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
}

type Ratings struct {
	Scope string `toml:"scope"` // "stage" or "batch".
}

// Report configures the BigQuery table receiving one row per stage of every run.
type Report struct {
	Enabled bool   `toml:"enabled"`
	Dataset string `toml:"dataset"`
	Table   string `toml:"table"`
}

// Trigger names the Pub/Sub subscription whose messages start a run.
type Trigger struct {
	Subscription string `toml:"subscription"`
}

type Status struct {
	Address string `toml:"address"` // Empty disables the status server.
}

type Telemetry struct {
	Enabled  bool   `toml:"enabled"` // Export traces and metrics to Google Cloud.
	LogLevel string `toml:"log_level"`
}

// Config is the complete configuration of the migration.
type Config struct {
	Application Application `toml:"application"`
	Sources     Sources     `toml:"sources"`
	Store       Store       `toml:"store"`
	Mongo       Mongo       `toml:"mongo"`
	Ratings     Ratings     `toml:"ratings"`
	Report      Report      `toml:"report"`
	Trigger     Trigger     `toml:"trigger"`
	Status      Status      `toml:"status"`
	Telemetry   Telemetry   `toml:"telemetry"`
}

// NewConfig returns a Config holding the defaults that the TOML files
// override.
func NewConfig() *Config {
	c := &Config{}
	c.Application.Name = "movie-migration"
	c.Application.Workers = 16
	c.Application.BatchSize = 1000
	c.Store.Driver = DriverMongo
	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.Database = "movies"
	c.Mongo.ConnectTimeoutSeconds = 10
	c.Ratings.Scope = "stage"
	c.Report.Table = "migration_runs"
	c.Telemetry.LogLevel = "info"
	return c
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.uri and mongo.database are required by the mongo driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Ratings.Scope != "stage" && c.Ratings.Scope != "batch" {
		errs = append(errs, fmt.Errorf("unknown ratings.scope %q", c.Ratings.Scope))
	}
	if c.Application.Workers < 1 {
		errs = append(errs, fmt.Errorf("application.workers must be positive, got %d", c.Application.Workers))
	}
	if c.Application.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("application.batch_size must be positive, got %d", c.Application.BatchSize))
	}
	if c.Store.MaxOpsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("store.max_ops_per_second must not be negative, got %d", c.Store.MaxOpsPerSecond))
	}
	if c.Report.Enabled && (c.Report.Dataset == "" || c.Report.Table == "" || c.Application.GoogleProjectId == "") {
		errs = append(errs, errors.New("report.dataset, report.table and application.google_project_id are required when the report is enabled"))
	}
	if c.Trigger.Subscription != "" && c.Application.GoogleProjectId == "" {
		errs = append(errs, errors.New("application.google_project_id is required by trigger.subscription"))
	}
	return errors.Join(errs...)
}
