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

// Package tablemodel implements a sequence model whose next-token scores are
// read from a table keyed by the previous token.
//
// A model bundle is a directory holding a model.yaml and a vocabulary:
//
//	name: toy
//	vocab: vocab.txt
//	features: 8
//	default: {a: 0.9, b: 0.1}
//	after:
//	  a: {<end>: 1.0}
//
// A bundle may instead ship a HuggingFace tokenizer.json:
//
//	tokenizer: huggingface
//	vocab: tokenizer.json
//	vocab_size: 9
//
// The reserved spellings <start>, <end>, <pad> and <unk> always name the
// tokenizer's special tokens. Tokens missing from a row score Floor. The encoder pools the input into a
// fixed number of features; every step reports attention over them.
package tablemodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajroetker/go-highway/hwy/contrib/nn"
	"gopkg.in/yaml.v3"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

// ManifestFile is the name of the bundle manifest.
const ManifestFile = "model.yaml"

// Tokenizer kinds accepted in a manifest.
const (
	TokenizerVocab       = "vocab"
	TokenizerHuggingFace = "huggingface"
)

// Spec is the manifest of a table model.
type Spec struct {
	Name        string                        `yaml:"name"`
	Description string                        `yaml:"description,omitempty"`
	Tokenizer   string                        `yaml:"tokenizer,omitempty"`
	Vocab       string                        `yaml:"vocab"`
	VocabSize   int                           `yaml:"vocab_size,omitempty"`
	Features    int                           `yaml:"features,omitempty"`
	Floor       float32                       `yaml:"floor,omitempty"`
	Default     map[string]float32            `yaml:"default"`
	After       map[string]map[string]float32 `yaml:"after,omitempty"`
}

// Encoded is the context produced by Encode.
type Encoded struct {
	Features []float32
}

// Model is a table-driven backends.SequenceModel. It holds no mutable state.
type Model struct {
	name     string
	features int
	rows     map[int32][]float32
	fallback []float32
}

var _ backends.SequenceModel = (*Model)(nil)

// New builds a model from spec, resolving token spellings with tok.
func New(spec Spec, tok tokenizer.Tokenizer) (*Model, error) {
	if len(spec.Default) == 0 {
		return nil, fmt.Errorf("model %q: default row is empty", spec.Name)
	}
	features := spec.Features
	if features <= 0 {
		features = 8
	}

	m := &Model{
		name:     spec.Name,
		features: features,
		rows:     make(map[int32][]float32, len(spec.After)),
	}

	var err error
	if m.fallback, err = buildRow(spec.Default, spec.Floor, tok); err != nil {
		return nil, fmt.Errorf("model %q: default row: %w", spec.Name, err)
	}
	for prev, row := range spec.After {
		id, ok := tokenizer.Lookup(tok, prev)
		if !ok {
			return nil, fmt.Errorf("model %q: unknown token %q in after", spec.Name, prev)
		}
		if m.rows[id], err = buildRow(row, spec.Floor, tok); err != nil {
			return nil, fmt.Errorf("model %q: row after %q: %w", spec.Name, prev, err)
		}
	}
	return m, nil
}

func buildRow(scores map[string]float32, floor float32, tok tokenizer.Tokenizer) ([]float32, error) {
	row := make([]float32, tok.VocabSize())
	for i := range row {
		row[i] = floor
	}
	for token, v := range scores {
		id, ok := tokenizer.Lookup(tok, token)
		if !ok {
			return nil, fmt.Errorf("unknown token %q", token)
		}
		if int(id) >= len(row) {
			return nil, fmt.Errorf("token %q has id %d outside the vocabulary of %d", token, id, len(row))
		}
		row[id] = v
	}
	return row, nil
}

// Parse decodes a manifest.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return spec, nil
}

// Load reads the bundle in dir and returns the model with its tokenizer.
func Load(dir string) (*Model, tokenizer.Tokenizer, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest: %w", err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if spec.Name == "" {
		spec.Name = filepath.Base(dir)
	}
	if spec.Vocab == "" {
		return nil, nil, fmt.Errorf("model %q: manifest has no vocab", spec.Name)
	}

	tok, err := loadTokenizer(dir, spec)
	if err != nil {
		return nil, nil, fmt.Errorf("model %q: %w", spec.Name, err)
	}
	m, err := New(spec, tok)
	if err != nil {
		return nil, nil, err
	}
	return m, tok, nil
}

func loadTokenizer(dir string, spec Spec) (tokenizer.Tokenizer, error) {
	path := filepath.Join(dir, spec.Vocab)
	switch spec.Tokenizer {
	case "", TokenizerVocab:
		return tokenizer.LoadVocab(path)
	case TokenizerHuggingFace:
		return tokenizer.LoadHuggingFace(path, spec.VocabSize)
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", spec.Tokenizer)
	}
}

// IsBundle reports whether dir holds a manifest.
func IsBundle(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil && !info.IsDir()
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Close is a no-op; the model holds no resources.
func (m *Model) Close() error { return nil }

// Encode pools the input into the model's feature vector. Pixels take
// precedence over token ids, which take precedence over text.
func (m *Model) Encode(ctx context.Context, input backends.Input) (backends.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var values []float32
	switch {
	case len(input.Pixels) > 0:
		values = input.Pixels
	case len(input.TokenIDs) > 0:
		values = make([]float32, len(input.TokenIDs))
		for i, id := range input.TokenIDs {
			values[i] = float32(id)
		}
	default:
		for _, r := range input.Text {
			values = append(values, float32(r))
		}
	}
	return &Encoded{Features: pool(values, m.features)}, nil
}

// pool averages values into n equal buckets.
func pool(values []float32, n int) []float32 {
	out := make([]float32, n)
	if len(values) == 0 {
		return out
	}
	counts := make([]int, n)
	for i, v := range values {
		b := i * n / len(values)
		out[b] += v
		counts[b]++
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= float32(counts[i])
		}
	}
	return out
}

// Step returns the row for the last token of prefix. The state is the number
// of steps taken so far.
func (m *Model) Step(ctx context.Context, prefix []int32, c backends.Context, prior backends.State) (*backends.StepOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(prefix) == 0 {
		return nil, fmt.Errorf("empty prefix")
	}
	enc, ok := c.(*Encoded)
	if !ok {
		return nil, fmt.Errorf("unexpected context type %T", c)
	}

	steps := 0
	if prior != nil {
		n, ok := prior.(int)
		if !ok {
			return nil, fmt.Errorf("unexpected state type %T", prior)
		}
		steps = n
	}

	row, ok := m.rows[prefix[len(prefix)-1]]
	if !ok {
		row = m.fallback
	}
	return &backends.StepOutput{
		Distribution: append([]float32(nil), row...),
		State:        steps + 1,
		Attention:    m.attend(enc.Features, steps),
	}, nil
}

// attend focuses on feature step%n, weighted by the feature values.
func (m *Model) attend(features []float32, step int) []float32 {
	logits := make([]float32, len(features))
	for i, f := range features {
		logits[i] = f / 255
	}
	logits[step%len(features)] += 4
	weights := make([]float32, len(logits))
	nn.Softmax(logits, weights)
	return weights
}
