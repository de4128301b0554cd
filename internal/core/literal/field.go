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

package literal

import "strings"

// Object is the part of a decoded list element the loader cares about.
type Object struct {
	Name string
	Job  string
}

// Objects extracts the name (and job, when present) of every element of a
// decoded list. A value that is not a list yields no objects. Elements that are
// plain strings are taken as names; mappings without a string "name" and any
// other element are ignored. An empty name is kept as an empty string.
func Objects(v any) []Object {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Object, 0, len(list))
	for _, el := range list {
		switch e := el.(type) {
		case string:
			out = append(out, Object{Name: e})
		case map[string]any:
			name, ok := e["name"].(string)
			if !ok {
				continue
			}
			job, _ := e["job"].(string)
			out = append(out, Object{Name: name, Job: job})
		}
	}
	return out
}

// Field is the raw text of a literal column as it crosses into the loader. The
// zero Field is an empty cell.
type Field struct {
	Raw string
}

// Text wraps raw cell text.
func Text(raw string) Field {
	return Field{Raw: raw}
}

// Objects decodes the field and extracts its objects. An empty or blank cell
// yields no objects and no error; a cell that cannot be decoded yields a
// *DecodeError.
func (f Field) Objects() ([]Object, error) {
	if strings.TrimSpace(f.Raw) == "" {
		return nil, nil
	}
	v, err := Decode(f.Raw)
	if err != nil {
		return nil, err
	}
	return Objects(v), nil
}
