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

package model

import (
	"encoding/json"
	"fmt"
)

// Collection names used by the storage backends.
const (
	MoviesCollection      = "movies"
	GenresCollection      = "genres"
	ActorsCollection      = "actors"
	CrewMembersCollection = "crewmembers"
	KeywordsCollection    = "keywords"
)

// Kind identifies the type of a related entity.
type Kind int

const (
	KindGenre Kind = iota
	KindActor
	KindCrewMember
	KindKeyword
)

// Kinds lists every related entity kind in a stable order.
var Kinds = []Kind{KindGenre, KindActor, KindCrewMember, KindKeyword}

func (k Kind) String() string {
	switch k {
	case KindGenre:
		return "genre"
	case KindActor:
		return "actor"
	case KindCrewMember:
		return "crew_member"
	case KindKeyword:
		return "keyword"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalJSON renders the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Collection is the name of the collection holding entities of this kind.
func (k Kind) Collection() string {
	switch k {
	case KindGenre:
		return GenresCollection
	case KindActor:
		return ActorsCollection
	case KindCrewMember:
		return CrewMembersCollection
	case KindKeyword:
		return KeywordsCollection
	}
	return ""
}

// MovieField is the Movie association field that references this kind.
func (k Kind) MovieField() string {
	switch k {
	case KindGenre:
		return "genres"
	case KindActor:
		return "actors"
	case KindCrewMember:
		return "crew"
	case KindKeyword:
		return "keywords"
	}
	return ""
}

// Bidirectional reports whether entities of this kind keep a reverse list of
// the movies that reference them. Genres do not.
func (k Kind) Bidirectional() bool {
	return k != KindGenre
}

// NaturalKey identifies an entity independently of its storage identifier.
// Job is part of the key for crew members only and is empty otherwise.
type NaturalKey struct {
	Name string
	Job  string
}

// String renders the key for logs and for per-key exclusion groups.
func (k NaturalKey) String() string {
	if k.Job == "" {
		return k.Name
	}
	return k.Name + " (" + k.Job + ")"
}
