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
)

// greedy appends the highest-valued token at every step.
type greedy struct{}

func (greedy) Kind() Kind { return KindGreedy }

func (greedy) decode(r *run) ([]Hypothesis, error) {
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
		top, err := SelectTopN(out.Distribution, 1)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", h.Len()+1, err)
		}
		h = r.extend(h, top[0].ID, r.scorer(out.Distribution).contribution(top[0].ID), out.State)
		r.steps++
	}
	return r.finish([]Hypothesis{h}), nil
}
