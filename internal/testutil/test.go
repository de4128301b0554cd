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

// Package test holds fixtures and helpers shared by the test suites: small
// CSV exports of the four dataset tables, an in-memory source opener and a
// helper writing a dataset to a temporary directory.
package test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaycherian/gcp-go-movie-migration/internal/core/source"
)

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Dataset fixtures. Movie 10 ("Alpha") is the scenario used end to end; movie
// 20 appears twice, the second row being an update of the first.
const (
	MoviesCSV = `id,title,release_date,overview,budget,revenue,runtime,genres
10,Alpha,1995-10-30,A first movie.,30000000,373554033,81.0,"[{'id': 18, 'name': 'Drama'}]"
20,Beta,not a date,Draft overview.,,12,,"[{'id': 35, 'name': 'Comedy'}]"
20,Beta (Director's Cut),1996-01-05,Final overview.,1000,,95,"[{'id': 35, 'name': 'Comedy'}, {'id': 18, 'name': 'Drama'}]"
30,Gamma,2001-02-03,,abc,,,[]
`
	RatingsCSV = `userId,movieId,rating,timestamp
1,10,4.0,964982703
2,10,5.0,964981247
3,10,abc,964982224
4,20,3.0,964983815
5,999,5.0,964982931
`
	KeywordsCSV = `id,keywords
10,"[{'id': 1, 'name': 'hope'}, {'id': 2, 'name': 'friendship'}]"
20,"[{'id': 1, 'name': 'hope'}]"
999,"[{'id': 3, 'name': 'orphan'}]"
30,"[{'id': 4, 'name': 'broken'"
`
	CreditsCSV = `cast,crew,id
"[{'cast_id': 1, 'character': 'Woody', 'name': 'Tom Hanks'}, {'cast_id': 2, 'character': 'Buzz', 'name': 'Tim Allen'}]","[{'job': 'Director', 'name': 'John Lasseter'}, {'job': 'Editor', 'name': 'Lee Unkrich'}]",10
"[{'cast_id': 1, 'character': ""Joe 'Bird' Smith"", 'name': 'Tom Hanks'}]","[{'job': 'Writer', 'name': 'John Lasseter'}]",20
`
)

// Dataset maps every dataset file name to its fixture.
func Dataset() map[string]string {
	return map[string]string{
		"movies_metadata.csv": MoviesCSV,
		"ratings.csv":         RatingsCSV,
		"keywords.csv":        KeywordsCSV,
		"credits.csv":         CreditsCSV,
	}
}

// WriteDataset writes files (name to content) into a new temporary directory
// and returns it.
func WriteDataset(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		HandleErr(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644), t)
	}
	return dir
}

// MemOpener serves CSV sources from memory, keyed by location.
type MemOpener map[string]string

func (m MemOpener) Open(_ context.Context, location string) (source.Source, error) {
	content, ok := m[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrSource, location, os.ErrNotExist)
	}
	return source.NewCSV(location, strings.NewReader(content)), nil
}

// GetTestTriggerMessageText is the notification sent when the readiness
// marker of a dataset export is uploaded.
func GetTestTriggerMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "movie-dataset/exports/2024-10-01/_READY/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/movie-dataset/o/exports%2F2024-10-01%2F_READY",
  "name": "exports/2024-10-01/_READY",
  "bucket": "movie-dataset",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "text/plain",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "timeStorageClassUpdated": "2024-10-11T03:04:08.672Z",
  "size": "0",
  "md5Hash": "1B2M2Y8AsgTpgAmY7PhCfg==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/movie-dataset/o/exports%2F2024-10-01%2F_READY?generation=1728615848664286&alt=media",
  "metadata": { "touch": "1" },
  "crc32c": "AAAAAA==",
  "etag": "CN658+yrhYkDEAE="
}`
}
