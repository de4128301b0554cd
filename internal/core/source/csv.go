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

package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\xef\xbb\xbf"

// CSV is a Source over comma separated text whose first row is the header.
type CSV struct {
	name   string
	reader *csv.Reader
	closer io.Closer
	header map[string]int
}

// NewCSV reads records from r. If r is also an io.Closer it is closed by
// Close.
func NewCSV(name string, r io.Reader) *CSV {
	// Quoting is strict and every row must have as many fields as the header,
	// so a damaged row surfaces as a *RecordError instead of shifted columns.
	c := &CSV{name: name, reader: csv.NewReader(r)}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}
	return c
}

func (c *CSV) Name() string {
	return c.name
}

func (c *CSV) readHeader() error {
	cols, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %s: reading header: %w", ErrSource, c.name, err)
	}
	c.header = make(map[string]int, len(cols))
	for i, col := range cols {
		if i == 0 {
			col = strings.TrimPrefix(col, utf8BOM)
		}
		c.header[strings.TrimSpace(col)] = i
	}
	return nil
}

func (c *CSV) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if c.header == nil {
		if err := c.readHeader(); err != nil {
			return Record{}, err
		}
	}

	values, err := c.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return Record{}, &RecordError{Source: c.name, Line: parseErr.StartLine, Err: err}
		}
		return Record{}, fmt.Errorf("%w: %s: %w", ErrSource, c.name, err)
	}
	line, _ := c.reader.FieldPos(0)
	return NewRecord(line, c.header, values), nil
}

func (c *CSV) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
