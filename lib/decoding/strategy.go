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
	"errors"
	"math/rand"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/tokenizer"
)

// Kind names a decoding strategy.
type Kind string

const (
	KindGreedy      Kind = "greedy"
	KindBeam        Kind = "beam"
	KindVote        Kind = "vote"
	KindCategorical Kind = "categorical"
)

// Kinds lists every supported strategy.
func Kinds() []Kind {
	return []Kind{KindGreedy, KindBeam, KindVote, KindCategorical}
}

// ParseKind parses a strategy name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Kinds(), k) {
		return "", invalidArgumentf("unknown decoding strategy %q", s)
	}
	return k, nil
}

// Strategy is one decoding algorithm. The set is closed; use StrategyFor.
type Strategy interface {
	Kind() Kind
	decode(r *run) ([]Hypothesis, error)
}

// StrategyFor returns the strategy for k.
func StrategyFor(k Kind) (Strategy, error) {
	switch k {
	case KindGreedy:
		return greedy{}, nil
	case KindBeam:
		return beam{}, nil
	case KindVote:
		return vote{}, nil
	case KindCategorical:
		return categorical{}, nil
	default:
		return nil, invalidArgumentf("unknown decoding strategy %q", string(k))
	}
}

// StopReason says why a decode stopped.
type StopReason string

const (
	// StopEnd means every returned hypothesis ended with the end token.
	StopEnd StopReason = "end"
	// StopMaxLength means at least one hypothesis hit the token budget.
	StopMaxLength StopReason = "max_length"
	// StopDeadline means the wall-clock budget expired.
	StopDeadline StopReason = "deadline"
)

// TraceStep is the diagnostic record of one sampled token.
type TraceStep struct {
	Step        int       `json:"step"`
	Token       int32     `json:"token"`
	Probability float32   `json:"probability"`
	Attention   []float32 `json:"attention,omitempty"`
}

// run is the state of a single decode call.
type run struct {
	ctx      context.Context
	model    backends.SequenceModel
	encoded  backends.Context
	config   Config
	specials tokenizer.Specials
	rng      *rand.Rand
	logger   *zap.Logger

	steps   int
	expired bool
	trace   []TraceStep
}

func (r *run) root() Hypothesis {
	return newRoot(r.specials.Start)
}

// budgetSpent reports whether the wall-clock budget is gone. Cancellation is
// returned as an error.
func (r *run) budgetSpent() (bool, error) {
	err := r.ctx.Err()
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, context.DeadlineExceeded):
		r.expired = true
		return true, nil
	default:
		return false, err
	}
}

// deadlineHit reports whether err was caused by the wall-clock budget.
func (r *run) deadlineHit(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(r.ctx.Err(), context.DeadlineExceeded) {
		r.expired = true
		return true
	}
	return false
}

func (r *run) stepWith(ctx context.Context, h Hypothesis) (*backends.StepOutput, error) {
	out, err := r.model.Step(ctx, h.Tokens(), r.encoded, h.state)
	if err != nil {
		return nil, &ModelEvaluationError{Op: "step", Step: h.Len() + 1, Err: err}
	}
	if out == nil || len(out.Distribution) == 0 {
		return nil, &ModelEvaluationError{Op: "step", Step: h.Len() + 1, Err: ErrEmptyDistribution}
	}
	return out, nil
}

// stepAll evaluates every live hypothesis concurrently. outs[i] is nil for
// done hypotheses.
func (r *run) stepAll(hyps []Hypothesis) ([]*backends.StepOutput, error) {
	outs := make([]*backends.StepOutput, len(hyps))
	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.config.Parallelism)
	for i, h := range hyps {
		if h.done {
			continue
		}
		g.Go(func() error {
			out, err := r.stepWith(ctx, h)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

// extend appends id to h and applies the token budget.
func (r *run) extend(h Hypothesis, id int32, contribution float64, state backends.State) Hypothesis {
	child := h.extend(id, contribution, state, r.specials.End)
	if !child.done && child.Len() >= r.config.MaxLength {
		child = child.exhaust()
	}
	return child
}

func (r *run) scorer(dist []float32) stepScorer {
	return newStepScorer(dist, r.config.Temperature, r.config.ScoreMode)
}

// finish marks anything still live as exhausted.
func (r *run) finish(hyps []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(hyps))
	for i, h := range hyps {
		if !h.done {
			h = h.exhaust()
		}
		out[i] = h
	}
	return out
}

func (r *run) stopReason(hyps []Hypothesis) StopReason {
	if r.expired {
		return StopDeadline
	}
	for _, h := range hyps {
		if !h.terminated {
			return StopMaxLength
		}
	}
	return StopEnd
}
