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

package tokenizer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
)

// Vocab is a whitespace tokenizer over a fixed vocabulary. Id 0 is always the
// padding token.
type Vocab struct {
	tokens   []string
	ids      map[string]int32
	specials Specials
}

var _ Tokenizer = (*Vocab)(nil)

// NewVocab builds a Vocab where tokens[i] has id i. tokens[0] must be the
// padding token and the start and end tokens must be present. The unknown
// token is appended when missing. Empty entries are holes that decode as the
// unknown token.
func NewVocab(tokens []string) (*Vocab, error) {
	if len(tokens) == 0 || tokens[0] != PadToken {
		return nil, fmt.Errorf("vocabulary must start with %s", PadToken)
	}

	v := &Vocab{
		tokens: append([]string(nil), tokens...),
		ids:    make(map[string]int32, len(tokens)+1),
	}
	for i, tok := range v.tokens {
		if tok == "" {
			continue
		}
		if _, dup := v.ids[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q at id %d", tok, i)
		}
		v.ids[tok] = int32(i)
	}
	if _, ok := v.ids[UnknownToken]; !ok {
		v.ids[UnknownToken] = int32(len(v.tokens))
		v.tokens = append(v.tokens, UnknownToken)
	}

	for _, tok := range []string{StartToken, EndToken} {
		if _, ok := v.ids[tok]; !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", tok)
		}
	}
	v.specials = Specials{
		Start:   v.ids[StartToken],
		End:     v.ids[EndToken],
		Pad:     0,
		Unknown: v.ids[UnknownToken],
	}
	return v, nil
}

// LoadVocab reads a vocabulary from disk. Files ending in .json are read as a
// Keras tokenizer export; anything else as one token per line.
func LoadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseKerasJSON(data)
	}
	return ParseLines(data)
}

// ParseLines reads one token per line; the line number is the id. A missing
// first line for padding is tolerated and inserted.
func ParseLines(data []byte) (*Vocab, error) {
	var tokens []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		tokens = append(tokens, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning vocabulary: %w", err)
	}
	for len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 || tokens[0] != PadToken {
		tokens = append([]string{PadToken}, tokens...)
	}
	return NewVocab(tokens)
}

// kerasTokenizer is the JSON written by a Keras text tokenizer's to_json.
// word_index is itself a JSON-encoded object.
type kerasTokenizer struct {
	ClassName string `json:"class_name"`
	Config    struct {
		WordIndex string `json:"word_index"`
		OOVToken  string `json:"oov_token"`
	} `json:"config"`
}

// ParseKerasJSON reads a Keras tokenizer export. Keras starts indices at 1, so
// id 0 is taken by the padding token.
func ParseKerasJSON(data []byte) (*Vocab, error) {
	var kt kerasTokenizer
	if err := sonic.Unmarshal(data, &kt); err != nil {
		return nil, fmt.Errorf("parsing tokenizer json: %w", err)
	}
	if kt.Config.WordIndex == "" {
		return nil, fmt.Errorf("tokenizer json has no word_index")
	}
	var index map[string]int
	if err := sonic.UnmarshalString(kt.Config.WordIndex, &index); err != nil {
		return nil, fmt.Errorf("parsing word_index: %w", err)
	}

	size := 1
	for _, id := range index {
		if id < 0 {
			return nil, fmt.Errorf("negative token id %d", id)
		}
		size = max(size, id+1)
	}
	tokens := make([]string, size)
	tokens[0] = PadToken
	for tok, id := range index {
		if id == 0 {
			continue
		}
		tokens[id] = tok
	}
	if kt.Config.OOVToken != "" && kt.Config.OOVToken != UnknownToken {
		if id, ok := index[kt.Config.OOVToken]; ok {
			tokens[id] = UnknownToken
		}
	}
	return NewVocab(tokens)
}

// Encode splits text on whitespace.
func (v *Vocab) Encode(text string) []int32 {
	fields := strings.Fields(text)
	ids := make([]int32, len(fields))
	for i, f := range fields {
		ids[i] = v.ID(f)
	}
	return ids
}

func (v *Vocab) Token(id int32) string {
	if id < 0 || int(id) >= len(v.tokens) || v.tokens[id] == "" {
		return UnknownToken
	}
	return v.tokens[id]
}

func (v *Vocab) ID(token string) int32 {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return v.specials.Unknown
}

func (v *Vocab) Specials() Specials { return v.specials }

func (v *Vocab) VocabSize() int { return len(v.tokens) }

// Tokens returns the vocabulary in id order.
func (v *Vocab) Tokens() []string {
	return append([]string(nil), v.tokens...)
}
