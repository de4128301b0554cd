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

// Package literal decodes the quasi-structured literals found in the cells of
// the movie dataset exports. Those cells hold lists of objects written with
// single or double quoted strings (whichever the exporter picked per value),
// bare None/True/False and the occasional `\xa0` escape, for example:
//
//	[{'id': 18, 'name': 'Drama'}, {'id': 35, 'name': "Dumb & Dumber's"}]
//
// Decode rewrites such text into JSON and parses it. The rewrite is purely
// textual and knows nothing about the shape of the result.
//
// Known limitation: quoting nested one level deep (a ' inside a "..." string
// or a "..." inside a '...' string) is handled; deeper nesting is not
// guaranteed to decode correctly.
package literal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

const (
	singleQuoteSentinel = "__SINGLE_QUOTE__"
	doubleQuoteSentinel = "__DOUBLE_QUOTE__"
)

var (
	doubleQuoted = regexp.MustCompile(`"([^"]*)"`)
	singleQuoted = regexp.MustCompile(`'([^']*)'`)
	innerDouble  = regexp.MustCompile(`"([^"]+)"`)
)

// DecodeError is returned when the rewritten text is still not a valid literal.
// It carries both the original cell text and the text after rewriting so that
// callers can log them side by side.
type DecodeError struct {
	Original    string
	Transformed string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode literal %q (rewritten as %q): %v", e.Original, e.Transformed, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode converts a literal into a value tree made of string, float64, bool,
// nil, []any and map[string]any.
func Decode(text string) (any, error) {
	transformed := Normalize(text)
	var out any
	if err := json.Unmarshal([]byte(transformed), &out); err != nil {
		return nil, &DecodeError{Original: text, Transformed: transformed, Err: err}
	}
	return out, nil
}

// Normalize performs the textual rewrite of Decode without parsing the result.
func Normalize(text string) string {
	// Mask quotes of the other kind nested inside strings.
	out := doubleQuoted.ReplaceAllStringFunc(text, func(m string) string {
		return strings.ReplaceAll(m, "'", singleQuoteSentinel)
	})
	out = singleQuoted.ReplaceAllStringFunc(out, func(m string) string {
		return innerDouble.ReplaceAllStringFunc(m, func(sub string) string {
			return strings.ReplaceAll(sub, `"`, doubleQuoteSentinel)
		})
	})

	// '...' becomes "...", '' becomes "".
	out = singleQuoted.ReplaceAllStringFunc(out, func(m string) string {
		return `"` + m[1:len(m)-1] + `"`
	})

	out = strings.ReplaceAll(out, singleQuoteSentinel, "'")
	out = strings.ReplaceAll(out, doubleQuoteSentinel, `\"`)

	out = strings.ReplaceAll(out, `\xa0`, `\u00a0`)

	return replaceBareWords(out)
}

var bareWords = map[string]string{
	"None":  "null",
	"True":  "true",
	"False": "false",
}

// replaceBareWords rewrites None, True and False when they appear as whole
// words outside of double quoted strings.
func replaceBareWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(s) {
					b.WriteByte(s[i+1])
					i++
				}
			case '"':
				inString = false
			}
			i++
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			i++
			continue
		}
		if isWordByte(c) && (i == 0 || !isWordByte(s[i-1])) {
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			word := s[i:j]
			if repl, ok := bareWords[word]; ok {
				b.WriteString(repl)
			} else {
				b.WriteString(word)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
