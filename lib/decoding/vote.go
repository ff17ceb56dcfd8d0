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

	"golang.org/x/sync/errgroup"

	"github.com/pavviaz/im2latex/lib/backends"
)

// vote advances a single hypothesis by plurality over BeamWidth independent
// samples per step.
type vote struct{}

func (vote) Kind() Kind { return KindVote }

// ballot is one categorical sample drawn from its own model step.
type ballot struct {
	id           int32
	prob         float32
	contribution float64
	state        backends.State
}

func (vote) decode(r *run) ([]Hypothesis, error) {
	h := r.root()
	for !h.done {
		if spent, err := r.budgetSpent(); err != nil {
			return nil, err
		} else if spent {
			break
		}

		ballots, err := r.castBallots(h)
		if err != nil {
			if r.deadlineHit(err) {
				break
			}
			return nil, err
		}
		w := plurality(ballots)
		h = r.extend(h, w.id, w.contribution, w.state)
		r.steps++
	}
	return r.finish([]Hypothesis{h}), nil
}

// castBallots draws BeamWidth samples for the next token of h. The uniform
// draws are taken up front so the outcome does not depend on scheduling.
func (r *run) castBallots(h Hypothesis) ([]ballot, error) {
	draws := make([]float64, r.config.BeamWidth)
	for i := range draws {
		draws[i] = r.rng.Float64()
	}

	ballots := make([]ballot, len(draws))
	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.config.Parallelism)
	for i, u := range draws {
		g.Go(func() error {
			out, err := r.stepWith(ctx, h)
			if err != nil {
				return err
			}
			if err := checkDistribution(out.Distribution); err != nil {
				return fmt.Errorf("step %d: %w", h.Len()+1, err)
			}
			probs := probabilities(out.Distribution, r.config.Temperature)
			id := sampleIndex(probs, u)
			ballots[i] = ballot{
				id:           id,
				prob:         probs[id],
				contribution: r.scorer(out.Distribution).contribution(id),
				state:        out.State,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ballots, nil
}

// plurality returns the winning ballot: the most frequent id (lowest id on a
// tie), represented by its most probable sample (earliest on a tie).
func plurality(ballots []ballot) ballot {
	counts := make(map[int32]int, len(ballots))
	for _, b := range ballots {
		counts[b.id]++
	}

	winner := ballots[0].id
	for id, n := range counts {
		if n > counts[winner] || (n == counts[winner] && id < winner) {
			winner = id
		}
	}

	best := -1
	for i, b := range ballots {
		if b.id != winner {
			continue
		}
		if best < 0 || b.prob > ballots[best].prob {
			best = i
		}
	}
	return ballots[best]
}
