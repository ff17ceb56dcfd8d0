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
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pavviaz/im2latex/lib/backends"
)

// ContextCacheTTL is the default TTL for cached encoder outputs
const ContextCacheTTL = 5 * time.Minute

// Encoder produces the context for an input. decoding.Engine implements it.
type Encoder interface {
	Encode(ctx context.Context, input backends.Input) (backends.Context, error)
}

// ContextCache memoizes encoder outputs so that decoding the same input with
// several strategies, or retrying a page, runs the encoder once.
type ContextCache struct {
	cache   *ttlcache.Cache[string, backends.Context]
	sfGroup singleflight.Group
	logger  *zap.Logger
	cancel  context.CancelFunc
	once    sync.Once

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// ContextCacheStats holds cache statistics
type ContextCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Items            int    `json:"items"`
}

// NewContextCache creates a cache. A zero ttl uses ContextCacheTTL; a zero
// capacity is unbounded.
func NewContextCache(ttl time.Duration, capacity uint64, logger *zap.Logger) *ContextCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl == 0 {
		ttl = ContextCacheTTL
	}

	opts := []ttlcache.Option[string, backends.Context]{
		ttlcache.WithTTL[string, backends.Context](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, backends.Context](capacity))
	}
	cache := ttlcache.New(opts...)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cc := &ContextCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}

	// Log cache stats periodically
	go cc.logStats(ctx)

	return cc
}

// Encode returns the cached context for input under model, running enc on a
// miss. Concurrent misses for the same key share one encoder call.
func (cc *ContextCache) Encode(ctx context.Context, model string, enc Encoder, input backends.Input) (backends.Context, error) {
	key := contextKey(model, input)

	if item := cc.cache.Get(key); item != nil {
		cc.hits.Add(1)
		RecordCacheHit("context")
		cc.logger.Debug("Context cache hit",
			zap.String("model", model),
			zap.String("input", input.Key))
		return item.Value(), nil
	}

	result, err, shared := cc.sfGroup.Do(key, func() (any, error) {
		cc.misses.Add(1)
		RecordCacheMiss("context")

		start := time.Now()
		encoded, err := enc.Encode(ctx, input)
		if err != nil {
			return nil, err
		}
		cc.cache.Set(key, encoded, ttlcache.DefaultTTL)

		cc.logger.Debug("Encoded and cached context",
			zap.String("model", model),
			zap.String("input", input.Key),
			zap.Duration("duration", time.Since(start)))
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		cc.sfHits.Add(1)
		cc.logger.Debug("Singleflight hit for encode request",
			zap.String("model", model))
	}
	return result, nil
}

// contextKey hashes the model name and the input content. Key is included
// when set but does not replace the content hash. Every variable-length field
// is written after its length so that field boundaries cannot shift.
func contextKey(model string, input backends.Input) string {
	h := xxhash.New()

	writeString(h, model)
	writeString(h, input.Key)
	writeString(h, input.Text)

	var buf [4]byte
	writeLen(h, len(input.TokenIDs))
	for _, id := range input.TokenIDs {
		binary.BigEndian.PutUint32(buf[:], uint32(id))
		_, _ = h.Write(buf[:])
	}

	var dims [12]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(input.Width))
	binary.BigEndian.PutUint32(dims[4:8], uint32(input.Height))
	binary.BigEndian.PutUint32(dims[8:12], uint32(input.Channels))
	_, _ = h.Write(dims[:])
	writeLen(h, len(input.Pixels))
	for _, p := range input.Pixels {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(p))
		_, _ = h.Write(buf[:])
	}

	var out [8]byte
	binary.BigEndian.PutUint64(out[:], h.Sum64())
	return string(out[:])
}

func writeLen(h *xxhash.Digest, n int) {
	var buf [binary.MaxVarintLen64]byte
	_, _ = h.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

func writeString(h *xxhash.Digest, s string) {
	writeLen(h, len(s))
	_, _ = h.WriteString(s)
}

// Stats returns cache statistics
func (cc *ContextCache) Stats() ContextCacheStats {
	return ContextCacheStats{
		Hits:             cc.hits.Load(),
		Misses:           cc.misses.Load(),
		SingleflightHits: cc.sfHits.Load(),
		Items:            cc.cache.Len(),
	}
}

// Close stops the cache
func (cc *ContextCache) Close() {
	cc.once.Do(func() {
		cc.cancel()
		cc.cache.Stop()
	})
}

// logStats logs cache statistics periodically
func (cc *ContextCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := cc.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				total := metrics.Hits + metrics.Misses
				hitRate := float64(metrics.Hits) / float64(total) * 100
				cc.logger.Info("Context cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", cc.cache.Len()))
			}
		}
	}
}
