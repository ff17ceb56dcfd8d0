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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pavviaz/im2latex/lib/backends"
)

// countingEncoder counts Encode calls and can be slowed down or failed.
type countingEncoder struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (e *countingEncoder) Encode(ctx context.Context, input backends.Input) (backends.Context, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	return "enc:" + input.Text, nil
}

func TestContextCache_HitAndMiss(t *testing.T) {
	cc := NewContextCache(time.Minute, 0, zap.NewNop())
	defer cc.Close()
	enc := &countingEncoder{}
	ctx := context.Background()

	c1, err := cc.Encode(ctx, "m", enc, backends.Input{Text: "x^2"})
	require.NoError(t, err)
	c2, err := cc.Encode(ctx, "m", enc, backends.Input{Text: "x^2"})
	require.NoError(t, err)
	assert.Equal(t, "enc:x^2", c1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, int64(1), enc.calls.Load())

	// A different model or content misses.
	_, err = cc.Encode(ctx, "other", enc, backends.Input{Text: "x^2"})
	require.NoError(t, err)
	_, err = cc.Encode(ctx, "m", enc, backends.Input{Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), enc.calls.Load())

	stats := cc.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, 3, stats.Items)
}

func TestContextCache_ErrorsAreNotCached(t *testing.T) {
	cc := NewContextCache(time.Minute, 0, zap.NewNop())
	defer cc.Close()
	boom := errors.New("boom")
	enc := &countingEncoder{err: boom}

	_, err := cc.Encode(context.Background(), "m", enc, backends.Input{Text: "a"})
	assert.ErrorIs(t, err, boom)
	_, err = cc.Encode(context.Background(), "m", enc, backends.Input{Text: "a"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), enc.calls.Load())
	assert.Equal(t, 0, cc.Stats().Items)
}

func TestContextCache_Singleflight(t *testing.T) {
	cc := NewContextCache(time.Minute, 0, zap.NewNop())
	defer cc.Close()
	enc := &countingEncoder{delay: 50 * time.Millisecond}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := cc.Encode(context.Background(), "m", enc, backends.Input{Pixels: []float32{1, 2, 3}})
			assert.NoError(t, err)
			assert.Equal(t, "enc:", c)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), enc.calls.Load())
}

func TestContextKey(t *testing.T) {
	base := backends.Input{Key: "p1", Text: "t", TokenIDs: []int32{1, 2}, Pixels: []float32{0.5}, Width: 1, Height: 1, Channels: 1}
	same := base
	assert.Equal(t, contextKey("m", base), contextKey("m", same))
	assert.Len(t, contextKey("m", base), 8)

	variants := []backends.Input{
		{Key: "p2", Text: "t", TokenIDs: []int32{1, 2}, Pixels: []float32{0.5}, Width: 1, Height: 1, Channels: 1},
		{Key: "p1", Text: "u", TokenIDs: []int32{1, 2}, Pixels: []float32{0.5}, Width: 1, Height: 1, Channels: 1},
		{Key: "p1", Text: "t", TokenIDs: []int32{2, 1}, Pixels: []float32{0.5}, Width: 1, Height: 1, Channels: 1},
		{Key: "p1", Text: "t", TokenIDs: []int32{1, 2}, Pixels: []float32{0.25}, Width: 1, Height: 1, Channels: 1},
		{Key: "p1", Text: "t", TokenIDs: []int32{1, 2}, Pixels: []float32{0.5}, Width: 2, Height: 1, Channels: 1},
	}
	for i, v := range variants {
		assert.NotEqual(t, contextKey("m", base), contextKey("m", v), "variant %d", i)
	}
	assert.NotEqual(t, contextKey("m", base), contextKey("n", base))
}

func TestContextKey_FieldBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		ma, mb string
		a, b   backends.Input
	}{
		{
			name: "key and text",
			ma:   "m",
			mb:   "m",
			a:    backends.Input{Key: "x|t:", Text: "y"},
			b:    backends.Input{Key: "x", Text: "|t:y"},
		},
		{
			name: "model and key",
			ma:   "ab",
			mb:   "a",
			a:    backends.Input{Key: "c"},
			b:    backends.Input{Key: "bc"},
		},
		{
			name: "key and empty text",
			ma:   "m",
			mb:   "m",
			a:    backends.Input{Key: "ab"},
			b:    backends.Input{Key: "a", Text: "b"},
		},
		{
			name: "token ids and pixels",
			ma:   "m",
			mb:   "m",
			a:    backends.Input{TokenIDs: []int32{0}},
			b:    backends.Input{Pixels: []float32{0}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEqual(t, contextKey(tc.ma, tc.a), contextKey(tc.mb, tc.b))
		})
	}
}
