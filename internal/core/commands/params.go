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

// Package commands holds the cor.Command implementations the migration chain
// is built from: one pass command per source table, the trigger parser and the
// run report writer.
package commands

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// Keys of the values the migration keeps in the chain context.
const (
	// ParamRunReport holds the *model.RunReport of the current run.
	ParamRunReport = "__run_report__"
	// ParamSourceDir optionally holds a directory (local or gs://) that
	// overrides the configured location of every pass.
	ParamSourceDir = "__source_dir__"
)

// Pass names reported to batch handlers and dataset file names, in run order.
const (
	PassMovies   = "movies_metadata"
	PassRatings  = "ratings"
	PassKeywords = "keywords"
	PassCredits  = "credits"
)

// FileName returns the dataset file read by the pass.
func FileName(pass string) string {
	return pass + ".csv"
}

// ReleaseDateLayout is the layout of the release_date column.
const ReleaseDateLayout = "2006-01-02"

// parseNumber parses a decimal cell. Empty, malformed and non-finite values
// are absent.
func parseNumber(ctx context.Context, column string, raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		slog.DebugContext(ctx, "ignoring non-numeric value", "column", column, "value", raw)
		return nil
	}
	return &v
}

func parseDate(ctx context.Context, raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := time.Parse(ReleaseDateLayout, raw)
	if err != nil {
		slog.DebugContext(ctx, "ignoring malformed release date", "value", raw)
		return nil
	}
	return &v
}
