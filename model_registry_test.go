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

package im2latex

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

var testModelsDir = filepath.Join("testdata", "models")

func newTestRegistry(t *testing.T, config RegistryConfig) *ModelRegistry {
	t.Helper()
	if config.Decoding == (decoding.Config{}) {
		config.Decoding = decoding.DefaultConfig()
	}
	r, err := NewModelRegistry(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestModelRegistry_Discovery(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	assert.Equal(t, []string{"acme/greek", "acme/poly", "scenario"}, r.List())
	assert.Empty(t, r.ListLoaded())

	info, ok := r.Info("acme/greek")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(testModelsDir, "acme", "greek"), info.Path)

	_, ok = r.Info("notamodel")
	assert.False(t, ok)
}

func TestModelRegistry_HuggingFaceBundle(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	m, err := r.Get("acme/poly")
	require.NoError(t, err)
	require.IsType(t, &tokenizer.HuggingFace{}, m.Engine.Tokenizer())

	res, err := m.Engine.Decode(context.Background(), decoding.KindGreedy, backends.Input{Text: "img"})
	require.NoError(t, err)
	assert.Equal(t, "x ^ 2", res.Best().Text)
}

func TestModelRegistry_MissingDir(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: filepath.Join(t.TempDir(), "nope")})
	assert.Empty(t, r.List())

	r = newTestRegistry(t, RegistryConfig{})
	assert.Empty(t, r.List())
}

func TestModelRegistry_LazyLoad(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	assert.False(t, r.IsLoaded("scenario"))
	m, err := r.Get("scenario")
	require.NoError(t, err)
	assert.Equal(t, "scenario", m.Name)
	assert.True(t, r.IsLoaded("scenario"))
	assert.Equal(t, []string{"scenario"}, r.ListLoaded())

	again, err := r.Get("scenario")
	require.NoError(t, err)
	assert.Same(t, m, again)

	res, err := m.Engine.Decode(context.Background(), decoding.KindGreedy, backends.Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "a", res.Best().Text)
}

func TestModelRegistry_NotFound(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = r.Acquire("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelRegistry_LoaderError(t *testing.T) {
	boom := errors.New("corrupt bundle")
	var calls atomic.Int64
	r := newTestRegistry(t, RegistryConfig{
		ModelsDir: testModelsDir,
		Loader: func(path string) (backends.SequenceModel, tokenizer.Tokenizer, error) {
			calls.Add(1)
			return nil, nil, boom
		},
	})

	_, err := r.Get("scenario")
	assert.ErrorIs(t, err, boom)
	assert.False(t, r.IsLoaded("scenario"))
	assert.Equal(t, int64(1), calls.Load())

	assert.Error(t, r.Preload([]string{"scenario", "acme/greek"}))
}

func TestModelRegistry_Preload(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	require.NoError(t, r.Preload([]string{"scenario", "acme/greek", "missing"}))
	assert.Equal(t, []string{"acme/greek", "scenario"}, r.ListLoaded())
	require.NoError(t, r.Preload(nil))
}

func TestModelRegistry_CapacityEvictsUnpinned(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir, MaxLoadedModels: 1})

	_, err := r.Get("scenario")
	require.NoError(t, err)
	_, err = r.Get("acme/greek")
	require.NoError(t, err)

	assert.Equal(t, []string{"acme/greek"}, r.ListLoaded())
}

func TestModelRegistry_AcquireRelease(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})

	m, err := r.Acquire("scenario")
	require.NoError(t, err)
	assert.Equal(t, "scenario", m.Name)
	assert.Equal(t, 1, r.refCounts["scenario"])

	r.Release("scenario")
	r.Release("scenario")
	assert.Equal(t, 0, r.refCounts["scenario"])
}

type closingModel struct {
	backends.ModelFunc
	closed atomic.Bool
}

func (m *closingModel) Close() error {
	m.closed.Store(true)
	return nil
}

func TestModelRegistry_Register(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{ModelsDir: testModelsDir})
	vocab, err := tokenizer.NewVocab([]string{tokenizer.PadToken, tokenizer.StartToken, tokenizer.EndToken})
	require.NoError(t, err)

	model := &closingModel{ModelFunc: backends.ModelFunc{
		StepFunc: func(ctx context.Context, prefix []int32, c backends.Context, prior backends.State) (*backends.StepOutput, error) {
			return &backends.StepOutput{Distribution: []float32{0, 0, 1}}, nil
		},
	}}
	require.NoError(t, r.Register("inline", model, vocab))
	assert.Error(t, r.Register("inline", model, vocab))

	assert.Contains(t, r.List(), "inline")
	m, err := r.Get("inline")
	require.NoError(t, err)
	assert.Same(t, model, m.Model)

	require.NoError(t, r.Close())
	assert.True(t, model.closed.Load())
}

func TestModelRegistry_InvalidDecodingConfig(t *testing.T) {
	_, err := NewModelRegistry(RegistryConfig{Decoding: decoding.DefaultConfig().With(decoding.WithBeamWidth(0))}, nil)
	assert.ErrorIs(t, err, decoding.ErrInvalidArgument)
}
