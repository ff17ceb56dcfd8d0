// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tokenizer maps between output tokens and vocabulary ids.
package tokenizer

// Reserved token spellings.
const (
	StartToken   = "<start>"
	EndToken     = "<end>"
	PadToken     = "<pad>"
	UnknownToken = "<unk>"
)

// Specials holds the ids of the reserved tokens.
type Specials struct {
	Start   int32
	End     int32
	Pad     int32
	Unknown int32
}

// Tokenizer converts between text and token ids. Lookups never fail: unknown
// tokens map to the unknown id and unknown ids to the unknown token.
type Tokenizer interface {
	// Encode splits text into tokens and maps each one to its id.
	Encode(text string) []int32
	// Token returns the spelling of id.
	Token(id int32) string
	// ID returns the id of token.
	ID(token string) int32
	// Specials returns the reserved token ids.
	Specials() Specials
	// VocabSize is the number of ids a model distribution must cover.
	VocabSize() int
}

// Lookup resolves token, mapping the reserved spellings to tok's special ids.
// It reports false when token is not in the vocabulary.
func Lookup(tok Tokenizer, token string) (int32, bool) {
	s := tok.Specials()
	switch token {
	case StartToken:
		return s.Start, true
	case EndToken:
		return s.End, true
	case PadToken:
		return s.Pad, true
	case UnknownToken:
		return s.Unknown, true
	}
	id := tok.ID(token)
	return id, id != s.Unknown
}
