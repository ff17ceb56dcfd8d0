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
	"slices"
)

// categorical samples one token per step and records the attention weights
// the model reports for it.
type categorical struct{}

func (categorical) Kind() Kind { return KindCategorical }

func (categorical) decode(r *run) ([]Hypothesis, error) {
	h := r.root()
	for !h.done {
		if spent, err := r.budgetSpent(); err != nil {
			return nil, err
		} else if spent {
			break
		}

		out, err := r.stepWith(r.ctx, h)
		if err != nil {
			if r.deadlineHit(err) {
				break
			}
			return nil, err
		}
		if err := checkDistribution(out.Distribution); err != nil {
			return nil, fmt.Errorf("step %d: %w", h.Len()+1, err)
		}

		probs := probabilities(out.Distribution, r.config.Temperature)
		id := sampleIndex(probs, r.rng.Float64())
		r.trace = append(r.trace, TraceStep{
			Step:        h.Len() + 1,
			Token:       id,
			Probability: probs[id],
			Attention:   slices.Clone(out.Attention),
		})
		h = r.extend(h, id, r.scorer(out.Distribution).contribution(id), out.State)
		r.steps++
	}
	return r.finish([]Hypothesis{h}), nil
}
