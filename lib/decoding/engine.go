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
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

// Sequence is a finished hypothesis rendered for the caller.
type Sequence struct {
	Text       string   `json:"text"`
	Tokens     []string `json:"tokens"`
	IDs        []int32  `json:"ids"`
	Score      float64  `json:"score"`
	Terminated bool     `json:"terminated"`
}

// Result is the outcome of one decode.
type Result struct {
	Strategy Kind `json:"strategy"`
	// Sequences are ordered best first.
	Sequences  []Sequence   `json:"sequences"`
	Hypotheses []Hypothesis `json:"-"`
	Steps      int          `json:"steps"`
	// Exhausted is set when at least one sequence stopped on a budget rather
	// than on the end token.
	Exhausted  bool          `json:"exhausted"`
	StopReason StopReason    `json:"stop_reason"`
	Duration   time.Duration `json:"duration"`
	Trace      []TraceStep   `json:"trace,omitempty"`
}

// Best returns the highest-ranked sequence.
func (r *Result) Best() Sequence {
	if len(r.Sequences) == 0 {
		return Sequence{}
	}
	return r.Sequences[0]
}

// Engine decodes inputs with a fixed model, tokenizer and default
// configuration. It is safe for concurrent use.
type Engine struct {
	model     backends.SequenceModel
	tokenizer tokenizer.Tokenizer
	config    Config
	logger    *zap.Logger
}

// NewEngine validates config and returns an Engine.
func NewEngine(model backends.SequenceModel, tok tokenizer.Tokenizer, config Config, logger *zap.Logger) (*Engine, error) {
	if model == nil {
		return nil, invalidArgumentf("nil model")
	}
	if tok == nil {
		return nil, invalidArgumentf("nil tokenizer")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		model:     model,
		tokenizer: tok,
		config:    config,
		logger:    logger,
	}, nil
}

// Config returns the engine's default configuration.
func (e *Engine) Config() Config { return e.config }

// Tokenizer returns the engine's tokenizer.
func (e *Engine) Tokenizer() tokenizer.Tokenizer { return e.tokenizer }

// Encode runs the model encoder on input.
func (e *Engine) Encode(ctx context.Context, input backends.Input) (backends.Context, error) {
	c, err := e.model.Encode(ctx, input)
	if err != nil {
		return nil, &ModelEvaluationError{Op: "encode", Err: err}
	}
	return c, nil
}

// Decode encodes input and decodes it with the strategy named by kind.
func (e *Engine) Decode(ctx context.Context, kind Kind, input backends.Input, opts ...Option) (*Result, error) {
	strategy, err := StrategyFor(kind)
	if err != nil {
		return nil, err
	}
	c, err := e.Encode(ctx, input)
	if err != nil {
		return nil, err
	}
	return e.decode(ctx, strategy, c, opts)
}

// DecodeEncoded decodes an already encoded context.
func (e *Engine) DecodeEncoded(ctx context.Context, kind Kind, c backends.Context, opts ...Option) (*Result, error) {
	strategy, err := StrategyFor(kind)
	if err != nil {
		return nil, err
	}
	return e.decode(ctx, strategy, c, opts)
}

func (e *Engine) decode(ctx context.Context, strategy Strategy, c backends.Context, opts []Option) (*Result, error) {
	config := e.config.With(opts...)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.MaxDuration)
		defer cancel()
	}

	seed := config.Seed
	if seed < 0 {
		seed = rand.Int63()
	}

	r := &run{
		ctx:      ctx,
		model:    e.model,
		encoded:  c,
		config:   config,
		specials: e.tokenizer.Specials(),
		rng:      rand.New(rand.NewSource(seed)),
		logger:   e.logger,
	}

	start := time.Now()
	hyps, err := strategy.decode(r)
	if err != nil {
		e.logger.Debug("Decode failed",
			zap.String("strategy", string(strategy.Kind())),
			zap.Int("steps", r.steps),
			zap.Error(err))
		return nil, err
	}

	result := &Result{
		Strategy:   strategy.Kind(),
		Sequences:  make([]Sequence, len(hyps)),
		Hypotheses: hyps,
		Steps:      r.steps,
		StopReason: r.stopReason(hyps),
		Duration:   time.Since(start),
		Trace:      r.trace,
	}
	for i, h := range hyps {
		result.Sequences[i] = e.render(h)
		if !h.terminated {
			result.Exhausted = true
		}
	}

	e.logger.Debug("Decode finished",
		zap.String("strategy", string(strategy.Kind())),
		zap.Int("steps", r.steps),
		zap.Int("sequences", len(hyps)),
		zap.String("stop_reason", string(result.StopReason)),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// render converts a hypothesis to text, dropping the start, end and padding
// tokens.
func (e *Engine) render(h Hypothesis) Sequence {
	sp := e.tokenizer.Specials()
	ids := h.Generated()
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == sp.Start || id == sp.End || id == sp.Pad {
			continue
		}
		tokens = append(tokens, e.tokenizer.Token(id))
	}
	return Sequence{
		Text:       strings.Join(tokens, " "),
		Tokens:     tokens,
		IDs:        ids,
		Score:      h.score,
		Terminated: h.terminated,
	}
}
