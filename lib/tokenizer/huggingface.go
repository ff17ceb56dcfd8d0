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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// HuggingFace adapts a go-huggingface tokenizer. The beginning and end of
// sentence tokens play the role of the start and end tokens.
type HuggingFace struct {
	tok       api.Tokenizer
	specials  Specials
	vocabSize int
}

var _ Tokenizer = (*HuggingFace)(nil)

// FromHuggingFace wraps tok. vocabSize is the width of the model's output
// distribution, which the api does not expose.
func FromHuggingFace(tok api.Tokenizer, vocabSize int) (*HuggingFace, error) {
	if vocabSize <= 0 {
		return nil, fmt.Errorf("vocabulary size must be positive, got %d", vocabSize)
	}
	start, err := tok.SpecialTokenID(api.TokBeginningOfSentence)
	if err != nil {
		return nil, fmt.Errorf("start token: %w", err)
	}
	end, err := tok.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		return nil, fmt.Errorf("end token: %w", err)
	}
	unk, err := tok.SpecialTokenID(api.TokUnknown)
	if err != nil {
		return nil, fmt.Errorf("unknown token: %w", err)
	}
	// Not every tokenizer defines padding.
	pad, err := tok.SpecialTokenID(api.TokPad)
	if err != nil {
		pad = 0
	}
	return &HuggingFace{
		tok: tok,
		specials: Specials{
			Start:   int32(start),
			End:     int32(end),
			Pad:     int32(pad),
			Unknown: int32(unk),
		},
		vocabSize: vocabSize,
	}, nil
}

// HuggingFaceConfigFile is read from the directory of the tokenizer file
// when present.
const HuggingFaceConfigFile = "tokenizer_config.json"

// LoadHuggingFace loads a tokenizer.json file. Special tokens the tokenizer
// does not register are taken from the bos/eos/unk/pad spellings of a
// sibling tokenizer_config.json.
func LoadHuggingFace(path string, vocabSize int) (*HuggingFace, error) {
	var config *api.Config
	configPath := filepath.Join(filepath.Dir(path), HuggingFaceConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		if config, err = api.ParseConfigFile(configPath); err != nil {
			return nil, fmt.Errorf("parsing tokenizer config: %w", err)
		}
	}

	tok, err := hftokenizer.NewFromFile(config, path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}
	if config == nil {
		return FromHuggingFace(tok, vocabSize)
	}
	return FromHuggingFace(&configSpecials{Tokenizer: tok, config: config}, vocabSize)
}

// configSpecials resolves special tokens missing from the tokenizer by
// encoding their configured spelling.
type configSpecials struct {
	api.Tokenizer
	config *api.Config
}

func (c *configSpecials) SpecialTokenID(token api.SpecialToken) (int, error) {
	id, err := c.Tokenizer.SpecialTokenID(token)
	if err == nil {
		return id, nil
	}
	var spelling string
	switch token {
	case api.TokBeginningOfSentence:
		spelling = firstNonEmpty(c.config.BosToken, c.config.ClsToken)
	case api.TokEndOfSentence:
		spelling = firstNonEmpty(c.config.EosToken, c.config.SepToken)
	case api.TokUnknown:
		spelling = c.config.UnkToken
	case api.TokPad:
		spelling = c.config.PadToken
	}
	if spelling == "" {
		return 0, err
	}
	ids := c.Tokenizer.Encode(spelling)
	if len(ids) != 1 {
		return 0, fmt.Errorf("special token %q does not encode to a single id", spelling)
	}
	return ids[0], nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *HuggingFace) Encode(text string) []int32 {
	ids := h.tok.Encode(text)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func (h *HuggingFace) Token(id int32) string {
	if id < 0 || int(id) >= h.vocabSize {
		return UnknownToken
	}
	return strings.TrimSpace(h.tok.Decode([]int{int(id)}))
}

// ID returns the id of token when it encodes to exactly one id.
func (h *HuggingFace) ID(token string) int32 {
	ids := h.tok.Encode(token)
	if len(ids) != 1 {
		return h.specials.Unknown
	}
	return int32(ids[0])
}

func (h *HuggingFace) Specials() Specials { return h.specials }

func (h *HuggingFace) VocabSize() int { return h.vocabSize }
