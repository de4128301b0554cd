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
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/h2non/filetype"
)

// GCSScheme prefixes locations of objects in Cloud Storage.
const GCSScheme = "gs://"

// sniffLen is the number of leading bytes handed to the file type matchers.
const sniffLen = 262

// Opener opens CSV sources from local paths or gs://bucket/object locations.
// Gzip compressed content is detected from its magic bytes and decompressed
// on the fly; other archive formats are rejected.
type Opener struct {
	Storage *storage.Client // Required only for gs:// locations.
}

// NewOpener creates an Opener. client may be nil when every location is local.
func NewOpener(client *storage.Client) *Opener {
	return &Opener{Storage: client}
}

// Open opens the source at location.
func (o *Opener) Open(ctx context.Context, location string) (Source, error) {
	raw, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}

	buffered := bufio.NewReader(raw)
	head, err := buffered.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		_ = raw.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrSource, location, err)
	}

	switch {
	case filetype.Is(head, "gz"):
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrSource, location, err)
		}
		return NewCSV(location, &multiCloser{Reader: gz, closers: []io.Closer{gz, raw}}), nil
	case filetype.IsArchive(head):
		_ = raw.Close()
		kind, _ := filetype.Match(head)
		return nil, fmt.Errorf("%w: %s: unsupported archive type %q", ErrSource, location, kind.Extension)
	}
	return NewCSV(location, &multiCloser{Reader: buffered, closers: []io.Closer{raw}}), nil
}

func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, GCSScheme) {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSource, err)
		}
		return f, nil
	}

	bucket, object, err := SplitGCSLocation(location)
	if err != nil {
		return nil, err
	}
	if o.Storage == nil {
		return nil, fmt.Errorf("%w: %s: no storage client configured", ErrSource, location)
	}
	r, err := o.Storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSource, location, err)
	}
	return r, nil
}

// SplitGCSLocation splits gs://bucket/object into its bucket and object name.
func SplitGCSLocation(location string) (bucket string, object string, err error) {
	rest, ok := strings.CutPrefix(location, GCSScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %s: not a %s location", ErrSource, location, GCSScheme)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %s: location needs a bucket and an object name", ErrSource, location)
	}
	return bucket, object, nil
}

// multiCloser reads from one reader and closes a stack of closers in order.
type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var err error
	for _, c := range m.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
