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

package tablemodel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

func TestLoad_Scenario(t *testing.T) {
	m, vocab, err := Load(filepath.Join("testdata", "scenario"))
	require.NoError(t, err)
	assert.Equal(t, "scenario", m.Name())
	assert.Equal(t, 6, vocab.VocabSize())
	assert.True(t, IsBundle(filepath.Join("testdata", "scenario")))
	assert.False(t, IsBundle("testdata"))
	require.NoError(t, m.Close())

	ctx := context.Background()
	enc, err := m.Encode(ctx, backends.Input{Text: "x^2"})
	require.NoError(t, err)
	require.Len(t, enc.(*Encoded).Features, 4)

	out, err := m.Step(ctx, []int32{1}, enc, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0.9, 0.1, 0, 0}, out.Distribution)
	assert.Equal(t, 1, out.State)

	var sum float32
	for _, w := range out.Attention {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Len(t, out.Attention, 4)

	out, err = m.Step(ctx, []int32{1, 2}, enc, out.State)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 0}, out.Distribution)
	assert.Equal(t, 2, out.State)
}

func TestStep_ReturnsFreshRows(t *testing.T) {
	m, _, err := Load(filepath.Join("testdata", "scenario"))
	require.NoError(t, err)
	enc, err := m.Encode(context.Background(), backends.Input{})
	require.NoError(t, err)

	out, err := m.Step(context.Background(), []int32{1}, enc, nil)
	require.NoError(t, err)
	out.Distribution[2] = 100

	again, err := m.Step(context.Background(), []int32{1}, enc, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(0.9), again.Distribution[2])
}

func TestStep_Errors(t *testing.T) {
	m, _, err := Load(filepath.Join("testdata", "scenario"))
	require.NoError(t, err)
	enc, err := m.Encode(context.Background(), backends.Input{})
	require.NoError(t, err)

	_, err = m.Step(context.Background(), nil, enc, nil)
	assert.Error(t, err)
	_, err = m.Step(context.Background(), []int32{1}, "not encoded", nil)
	assert.Error(t, err)
	_, err = m.Step(context.Background(), []int32{1}, enc, "bad state")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Step(ctx, []int32{1}, enc, nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.Encode(ctx, backends.Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Errors(t *testing.T) {
	vocab, err := tokenizer.NewVocab([]string{tokenizer.PadToken, tokenizer.StartToken, "a", tokenizer.EndToken})
	require.NoError(t, err)

	_, err = New(Spec{Name: "empty"}, vocab)
	assert.Error(t, err)

	_, err = New(Spec{Name: "bad", Default: map[string]float32{"zzz": 1}}, vocab)
	assert.Error(t, err)

	_, err = New(Spec{
		Name:    "bad-after",
		Default: map[string]float32{"a": 1},
		After:   map[string]map[string]float32{"zzz": {"a": 1}},
	}, vocab)
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("default: [unclosed"), 0o644))
	_, _, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("default: {a: 1}\n"), 0o644))
	_, _, err = Load(dir)
	assert.ErrorContains(t, err, "no vocab")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("tokenizer: bpe\nvocab: v.txt\ndefault: {a: 1}\n"), 0o644))
	_, _, err = Load(dir)
	assert.ErrorContains(t, err, "unknown tokenizer")
}

func TestLoad_HuggingFace(t *testing.T) {
	dir := filepath.Join("testdata", "poly")
	m, tok, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme/poly", m.Name())

	require.IsType(t, &tokenizer.HuggingFace{}, tok)
	assert.Equal(t, 9, tok.VocabSize())
	assert.Equal(t, tokenizer.Specials{Start: 2, End: 3, Pad: 0, Unknown: 1}, tok.Specials())
	assert.Equal(t, int32(4), tok.ID("x"))

	e, err := decoding.NewEngine(m, tok, decoding.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	res, err := e.Decode(context.Background(), decoding.KindGreedy, backends.Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 6, 7, 3}, res.Best().IDs)
	assert.Equal(t, "x ^ 2", res.Best().Text)
	assert.True(t, res.Best().Terminated)
}

func TestNew_ReservedSpellings(t *testing.T) {
	vocab, err := tokenizer.NewVocab([]string{tokenizer.PadToken, tokenizer.StartToken, "a", tokenizer.EndToken})
	require.NoError(t, err)

	m, err := New(Spec{
		Name:    "reserved",
		Default: map[string]float32{tokenizer.EndToken: 2, tokenizer.UnknownToken: 1},
	}, vocab)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 2, 1}, m.fallback)
}

func TestPool(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, pool(nil, 2))
	assert.Equal(t, []float32{1.5, 3.5}, pool([]float32{1, 2, 3, 4}, 2))
	assert.Equal(t, []float32{1, 2, 0}, pool([]float32{1, 2}, 3))
}

func TestEncode_Precedence(t *testing.T) {
	m, _, err := Load(filepath.Join("testdata", "scenario"))
	require.NoError(t, err)

	enc, err := m.Encode(context.Background(), backends.Input{
		Pixels:   []float32{8, 8, 8, 8},
		TokenIDs: []int32{1, 1, 1, 1},
		Text:     "zzzz",
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 8, 8, 8}, enc.(*Encoded).Features)

	enc, err = m.Encode(context.Background(), backends.Input{TokenIDs: []int32{1, 2, 3, 4}, Text: "zzzz"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, enc.(*Encoded).Features)
}

func TestDecode_WithEngine(t *testing.T) {
	m, vocab, err := Load(filepath.Join("testdata", "scenario"))
	require.NoError(t, err)
	e, err := decoding.NewEngine(m, vocab, decoding.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	res, err := e.Decode(context.Background(), decoding.KindGreedy, backends.Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Best().Text)

	res, err = e.Decode(context.Background(), decoding.KindBeam, backends.Input{Text: "x"},
		decoding.WithBeamWidth(2), decoding.WithMaxLength(3))
	require.NoError(t, err)
	require.Len(t, res.Sequences, 2)
	assert.Equal(t, "b a", res.Sequences[0].Text)
	assert.Equal(t, "a", res.Sequences[1].Text)

	res, err = e.Decode(context.Background(), decoding.KindCategorical, backends.Input{Text: "x"},
		decoding.WithSeed(1), decoding.WithMaxLength(4))
	require.NoError(t, err)
	assert.Len(t, res.Trace, len(res.Best().IDs))
	for _, step := range res.Trace {
		assert.Len(t, step.Attention, 4)
	}
}
