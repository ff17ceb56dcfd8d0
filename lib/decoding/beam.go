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
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// beam keeps the BeamWidth best hypotheses at every step.
type beam struct{}

func (beam) Kind() Kind { return KindBeam }

// pooled is a hypothesis competing for a beam slot. id is the token it just
// appended; frozen hypotheses keep their last token.
type pooled struct {
	h  Hypothesis
	id int32
}

func (beam) decode(r *run) ([]Hypothesis, error) {
	width := r.config.BeamWidth
	hyps := []Hypothesis{r.root()}

	for !allDone(hyps) {
		if spent, err := r.budgetSpent(); err != nil {
			return nil, err
		} else if spent {
			break
		}

		outs, err := r.stepAll(hyps)
		if err != nil {
			if r.deadlineHit(err) {
				break
			}
			return nil, err
		}

		pool := make([]pooled, 0, len(hyps)*width)
		for i, h := range hyps {
			if h.done {
				pool = append(pool, pooled{h: h, id: h.Last()})
				continue
			}
			dist := outs[i].Distribution
			top, err := SelectTopN(dist, min(width, len(dist)))
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", h.Len()+1, err)
			}
			sc := r.scorer(dist)
			for _, c := range top {
				child := r.extend(h, c.ID, sc.contribution(c.ID), outs[i].State)
				pool = append(pool, pooled{h: child, id: c.ID})
			}
		}

		// Stable, so equal (score, id) pairs keep parent order.
		slices.SortStableFunc(pool, func(a, b pooled) int {
			if c := cmp.Compare(b.h.score, a.h.score); c != 0 {
				return c
			}
			return cmp.Compare(a.id, b.id)
		})

		hyps = make([]Hypothesis, min(width, len(pool)))
		for i := range hyps {
			hyps[i] = pool[i].h
		}
		r.steps++

		r.logger.Debug("Beam step",
			zap.Int("step", r.steps),
			zap.Int("candidates", len(pool)),
			zap.Float64("best_score", hyps[0].score))
	}

	hyps = r.finish(hyps)
	slices.SortStableFunc(hyps, func(a, b Hypothesis) int {
		return cmp.Compare(b.score, a.score)
	})
	return hyps, nil
}
