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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-movie-migration/internal/cloud"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/commands"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/workflow"
)

// StateManager holds everything the process opened.
type StateManager struct {
	config   *cloud.Config
	cloud    *cloud.ServiceClients
	workflow *workflow.MigrationWorkflow
}

// SetupOS points the configuration loader at ./configs unless the
// environment already says otherwise.
func SetupOS() error {
	if _, ok := os.LookupEnv(cloud.EnvConfigFilePrefix); !ok {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if _, ok := os.LookupEnv(cloud.EnvConfigRuntime); !ok {
		return os.Setenv(cloud.EnvConfigRuntime, cloud.DefaultRuntime)
	}
	return nil
}

// GetConfig loads and validates the configuration.
func GetConfig() (*cloud.Config, error) {
	if err := SetupOS(); err != nil {
		return nil, fmt.Errorf("failed to set up environment: %w", err)
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// InitState opens the clients and assembles the workflow.
//
// Inputs:
//   - ctx: The context used while opening the clients.
//   - config: The validated configuration.
//
// Outputs:
//   - *StateManager: The clients and the workflow built on them. The BigQuery
//     reporter is only set when a report table is configured.
//   - error: An error if any client could not be opened.
func InitState(ctx context.Context, config *cloud.Config) (*StateManager, error) {
	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return nil, err
	}

	wf := workflow.NewMigrationWorkflow(config, clients.Store, source.NewOpener(clients.StorageClient))
	if clients.BiqQueryClient != nil {
		wf.SetReporter(commands.NewReportPersistToBigQuery("report-to-bigquery",
			clients.BiqQueryClient, config.Report.Dataset, config.Report.Table))
	}
	return &StateManager{config: config, cloud: clients, workflow: wf}, nil
}

// SetupListener starts the trigger listener; the returned channel closes once
// it stopped.
func SetupListener(ctx context.Context, state *StateManager) (<-chan struct{}, error) {
	if state.cloud.PubsubClient == nil {
		return nil, fmt.Errorf("listen mode needs trigger.subscription")
	}
	listener, err := cloud.NewPubSubListener(state.cloud.PubsubClient, state.config.Trigger.Subscription, state.workflow)
	if err != nil {
		return nil, err
	}
	return listener.Listen(ctx), nil
}

// Close releases every client.
func (s *StateManager) Close(ctx context.Context) {
	if err := s.cloud.Close(ctx); err != nil {
		slog.WarnContext(ctx, "failed to close clients", "error", err)
	}
}
