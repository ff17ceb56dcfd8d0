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

// Package im2latex serves image-to-markup decoding: it discovers and loads
// models, caches encoder outputs, and decodes single inputs or whole
// documents with the strategies of package decoding.
package im2latex

import (
	"fmt"
	"time"

	"github.com/pavviaz/im2latex/lib/decoding"
)

// Config configures a Service.
type Config struct {
	ModelsDir string
	Decoding  decoding.Config

	// ContextCacheTTL and ContextCacheCapacity size the encoder output cache.
	// A negative TTL disables the cache.
	ContextCacheTTL      time.Duration
	ContextCacheCapacity uint64

	KeepAlive       time.Duration
	MaxLoadedModels uint64

	// Preload names models to load when the service starts.
	Preload []string

	// PageParallelism bounds how many document pages decode at once.
	PageParallelism int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Decoding:             decoding.DefaultConfig(),
		ContextCacheTTL:      ContextCacheTTL,
		ContextCacheCapacity: 1024,
		KeepAlive:            5 * time.Minute,
		PageParallelism:      4,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := c.Decoding.Validate(); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	if c.PageParallelism < 1 {
		return fmt.Errorf("page parallelism must be at least 1, got %d", c.PageParallelism)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("keep alive must not be negative, got %s", c.KeepAlive)
	}
	return nil
}
