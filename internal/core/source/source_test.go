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

package source_test

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ratingsCSV = "userId,movieId,rating,timestamp\n1,31,2.5,1260759144\n1,1029,3.0,1260759179\n"

// drain reads a source to the end, collecting records and record errors.
func drain(t *testing.T, src source.Source) ([]source.Record, []*source.RecordError, error) {
	t.Helper()
	var (
		records []source.Record
		bad     []*source.RecordError
	)
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return records, bad, nil
		}
		var recErr *source.RecordError
		if errors.As(err, &recErr) {
			bad = append(bad, recErr)
			continue
		}
		if err != nil {
			return records, bad, err
		}
		records = append(records, rec)
	}
}

func TestCSVRecords(t *testing.T) {
	src := source.NewCSV("ratings", strings.NewReader(ratingsCSV))
	defer src.Close()

	records, bad, err := drain(t, src)
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, records, 2)

	assert.Equal(t, "31", records[0].Get("movieId"))
	assert.Equal(t, "2.5", records[0].Get("rating"))
	assert.Equal(t, 2, records[0].Line)
	assert.Equal(t, "1029", records[1].Get("movieId"))
	assert.Equal(t, "", records[1].Get("missing"))
	assert.Equal(t, "1260759179", records[1].Get("timestamp"))
}

func TestCSVHeaderBOM(t *testing.T) {
	src := source.NewCSV("bom", strings.NewReader("\xef\xbb\xbfid,title\n10,Alpha\n"))
	records, _, err := drain(t, src)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "10", records[0].Get("id"))
}

func TestCSVEmpty(t *testing.T) {
	src := source.NewCSV("empty", strings.NewReader(""))
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

// Malformed rows are reported one by one and reading continues after them.
func TestCSVRecordErrors(t *testing.T) {
	in := "id,title\n1,Alpha\n2,Bad \"quote\n3\n4,Delta\n"
	src := source.NewCSV("movies", strings.NewReader(in))

	records, bad, err := drain(t, src)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Alpha", records[0].Get("title"))
	assert.Equal(t, "Delta", records[1].Get("title"))

	require.Len(t, bad, 2)
	assert.Equal(t, 3, bad[0].Line)
	assert.Equal(t, "movies", bad[0].Source)
	assert.False(t, errors.Is(bad[0], source.ErrSource))
}

func TestCSVStreamError(t *testing.T) {
	broken := io.MultiReader(strings.NewReader("id\n1\n2\n"), iotest.ErrReader(errors.New("connection reset")))
	src := source.NewCSV("broken", broken)

	records, _, err := drain(t, src)
	assert.Len(t, records, 2)
	assert.ErrorIs(t, err, source.ErrSource)
	assert.ErrorContains(t, err, "connection reset")
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestOpenPlain(t *testing.T) {
	path := writeFile(t, "ratings.csv", []byte(ratingsCSV))

	src, err := source.NewOpener(nil).Open(context.Background(), path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, path, src.Name())

	records, _, err := drain(t, src)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestOpenGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(ratingsCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	// The name does not matter, the content is sniffed.
	path := writeFile(t, "ratings.csv", buf.Bytes())

	src, err := source.NewOpener(nil).Open(context.Background(), path)
	require.NoError(t, err)

	records, _, err := drain(t, src)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1029", records[1].Get("movieId"))
	assert.NoError(t, src.Close())
}

func TestOpenRejectsZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("ratings.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(ratingsCSV))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "ratings.zip", buf.Bytes())

	_, err = source.NewOpener(nil).Open(context.Background(), path)
	assert.ErrorIs(t, err, source.ErrSource)
	assert.ErrorContains(t, err, "unsupported archive")
}

func TestOpenMissing(t *testing.T) {
	_, err := source.NewOpener(nil).Open(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, source.ErrSource)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenGCSWithoutClient(t *testing.T) {
	_, err := source.NewOpener(nil).Open(context.Background(), "gs://movies/credits.csv")
	assert.ErrorIs(t, err, source.ErrSource)
}

func TestSplitGCSLocation(t *testing.T) {
	bucket, object, err := source.SplitGCSLocation("gs://movies/exports/2024/credits.csv.gz")
	require.NoError(t, err)
	assert.Equal(t, "movies", bucket)
	assert.Equal(t, "exports/2024/credits.csv.gz", object)

	_, _, err = source.SplitGCSLocation("gs://movies")
	assert.Error(t, err)
	_, _, err = source.SplitGCSLocation("/tmp/movies.csv")
	assert.Error(t, err)
}
