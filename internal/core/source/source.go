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

// Package source streams the tabular exports the migration reads from. A
// Source yields one column-named Record at a time and tells apart two kinds
// of failure:
//
//   - a *RecordError for a single malformed record; the stream can go on.
//   - any other error, wrapping ErrSource, when the stream itself broke; the
//     caller must stop reading.
//
// The end of the stream is signalled with io.EOF.
package source

import (
	"context"
	"errors"
	"fmt"
)

// ErrSource marks a failure of the underlying stream.
var ErrSource = errors.New("source read failed")

// Source is a sequential stream of records with named columns.
type Source interface {
	// Name identifies the source in logs and reports, usually its location.
	Name() string
	// Next returns the next record, io.EOF at the end of the stream, a
	// *RecordError for a record that could not be read or an ErrSource error.
	Next(ctx context.Context) (Record, error)
	Close() error
}

// Record is one row of a source. Values are looked up by column name.
type Record struct {
	Line   int
	header map[string]int
	values []string
}

// NewRecord builds a record from its header index and values.
func NewRecord(line int, header map[string]int, values []string) Record {
	return Record{Line: line, header: header, values: values}
}

// Get returns the value of the named column, or "" when the column is absent
// from the header or from this row.
func (r Record) Get(column string) string {
	i, ok := r.header[column]
	if !ok || i >= len(r.values) {
		return ""
	}
	return r.values[i]
}

// RecordError reports a single record that could not be read.
type RecordError struct {
	Source string
	Line   int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: malformed record at line %d: %v", e.Source, e.Line, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
