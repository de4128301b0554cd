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

// Package batch groups the records of a source into fixed size batches and
// hands them to a pass handler. Batches are delivered in source order and the
// handler for one batch returns before the next record is read, which bounds
// memory to a single batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
)

// DefaultSize is the number of records per batch when none is configured.
const DefaultSize = 1000

// Handler processes one batch of a pass. An error aborts the read.
type Handler func(ctx context.Context, pass string, batch []source.Record) error

// Stats summarizes a completed or aborted read.
type Stats struct {
	Records      int64 // Records delivered to the handler.
	RecordErrors int64 // Malformed records skipped.
	Batches      int64 // Handler invocations.
}

// Reader streams a source into batches of Size records.
type Reader struct {
	Size int
}

// NewReader creates a Reader; a size below one selects DefaultSize.
func NewReader(size int) *Reader {
	if size < 1 {
		size = DefaultSize
	}
	return &Reader{Size: size}
}

// Read drains src, calling handler every Size records and once more for a
// final partial batch. Malformed records are logged and skipped. A stream
// failure or handler error ends the read and is returned; the handler is not
// called again after either.
func (r *Reader) Read(ctx context.Context, pass string, src source.Source, handler Handler) (stats Stats, err error) {
	size := r.Size
	if size < 1 {
		size = DefaultSize
	}

	flush := func(batch []source.Record) error {
		stats.Batches++
		stats.Records += int64(len(batch))
		if err := handler(ctx, pass, batch); err != nil {
			return fmt.Errorf("%s: batch %d: %w", pass, stats.Batches, err)
		}
		slog.InfoContext(ctx, "processed batch",
			"pass", pass, "batch", stats.Batches, "rows", len(batch), "total_rows", stats.Records)
		return nil
	}

	batch := make([]source.Record, 0, size)
	for {
		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var recErr *source.RecordError
			if errors.As(err, &recErr) {
				stats.RecordErrors++
				slog.WarnContext(ctx, "skipping malformed record", "pass", pass, "source", recErr.Source, "line", recErr.Line, "error", recErr.Err)
				continue
			}
			return stats, fmt.Errorf("%s: %w", pass, err)
		}

		batch = append(batch, rec)
		if len(batch) == size {
			if err := flush(batch); err != nil {
				return stats, err
			}
			batch = make([]source.Record, 0, size)
		}
	}

	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
