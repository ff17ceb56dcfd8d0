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

package decoding

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ScoreMode selects how a step's value is added to a hypothesis score.
type ScoreMode int

const (
	// ScoreRaw adds the model's value divided by the temperature. Values are
	// summed as returned, without normalization.
	ScoreRaw ScoreMode = iota
	// ScoreLogProb adds log(softmax(values / temperature)) for the chosen id.
	ScoreLogProb
)

func (m ScoreMode) String() string {
	switch m {
	case ScoreRaw:
		return "raw"
	case ScoreLogProb:
		return "logprob"
	default:
		return fmt.Sprintf("ScoreMode(%d)", int(m))
	}
}

// ParseScoreMode parses "raw" or "logprob". The empty string is raw.
func ParseScoreMode(s string) (ScoreMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return ScoreRaw, nil
	case "logprob", "log_prob", "log-prob":
		return ScoreLogProb, nil
	default:
		return 0, invalidArgumentf("unknown score mode %q", s)
	}
}

// Config holds decoding parameters. An Engine keeps one as its defaults and
// derives a per-call copy with Options; the stored value is never modified.
type Config struct {
	// MaxLength is the maximum number of generated tokens, not counting the
	// start token.
	MaxLength int
	// BeamWidth is the number of hypotheses kept by beam search and the number
	// of samples drawn per step by the vote strategy.
	BeamWidth int
	// Temperature divides model values before selection and sampling.
	Temperature float64
	// Seed seeds the sampling strategies. Negative values pick a random seed.
	Seed int64
	// ScoreMode selects the score accumulation rule.
	ScoreMode ScoreMode
	// MaxDuration bounds the wall-clock time of one decode. Zero means no
	// limit besides the caller's context.
	MaxDuration time.Duration
	// Parallelism bounds concurrent model steps within one decoding step.
	Parallelism int
}

// DefaultConfig returns the default decoding configuration.
func DefaultConfig() Config {
	return Config{
		MaxLength:   200,
		BeamWidth:   3,
		Temperature: 1.0,
		Seed:        -1,
		ScoreMode:   ScoreRaw,
		Parallelism: runtime.GOMAXPROCS(0),
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if c.MaxLength < 1 {
		return invalidArgumentf("max length must be at least 1, got %d", c.MaxLength)
	}
	if c.BeamWidth < 1 {
		return invalidArgumentf("beam width must be at least 1, got %d", c.BeamWidth)
	}
	if !(c.Temperature > 0) {
		return invalidArgumentf("temperature must be positive, got %v", c.Temperature)
	}
	if c.ScoreMode != ScoreRaw && c.ScoreMode != ScoreLogProb {
		return invalidArgumentf("unknown score mode %d", int(c.ScoreMode))
	}
	if c.MaxDuration < 0 {
		return invalidArgumentf("max duration must not be negative, got %s", c.MaxDuration)
	}
	if c.Parallelism < 1 {
		return invalidArgumentf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	return nil
}

// With returns a copy of c with opts applied.
func (c Config) With(opts ...Option) Config {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option overrides one Config field for a single decode.
type Option func(*Config)

// WithMaxLength sets the maximum number of generated tokens.
func WithMaxLength(n int) Option {
	return func(c *Config) { c.MaxLength = n }
}

// WithBeamWidth sets the beam width (vote sample count).
func WithBeamWidth(n int) Option {
	return func(c *Config) { c.BeamWidth = n }
}

// WithTemperature sets the temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithSeed seeds the sampling strategies.
func WithSeed(seed int64) Option {
	return func(c *Config) { c.Seed = seed }
}

// WithScoreMode sets the score accumulation rule.
func WithScoreMode(m ScoreMode) Option {
	return func(c *Config) { c.ScoreMode = m }
}

// WithMaxDuration bounds the wall-clock time of the decode.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Config) { c.MaxDuration = d }
}

// WithParallelism bounds concurrent model steps.
func WithParallelism(n int) Option {
	return func(c *Config) { c.Parallelism = n }
}
