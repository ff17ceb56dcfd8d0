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
	"slices"

	"github.com/pavviaz/im2latex/lib/backends"
)

// Hypothesis is one candidate output sequence. It is immutable: extending it
// produces a new Hypothesis and leaves the parent untouched.
type Hypothesis struct {
	tokens     []int32
	score      float64
	state      backends.State
	done       bool
	terminated bool
}

func newRoot(start int32) Hypothesis {
	return Hypothesis{tokens: []int32{start}}
}

// Tokens returns the full token history, starting with the start token.
func (h Hypothesis) Tokens() []int32 {
	return slices.Clone(h.tokens)
}

// Generated returns the tokens produced after the start token.
func (h Hypothesis) Generated() []int32 {
	if len(h.tokens) == 0 {
		return nil
	}
	return slices.Clone(h.tokens[1:])
}

// Len is the number of generated tokens.
func (h Hypothesis) Len() int {
	return max(len(h.tokens)-1, 0)
}

// Last returns the most recent token.
func (h Hypothesis) Last() int32 {
	return h.tokens[len(h.tokens)-1]
}

// Score is the accumulated score.
func (h Hypothesis) Score() float64 { return h.score }

// State is the model state produced by the step that appended Last.
func (h Hypothesis) State() backends.State { return h.state }

// Done reports whether the hypothesis will not be extended further.
func (h Hypothesis) Done() bool { return h.done }

// Terminated reports whether the hypothesis ended with the end token. A done
// hypothesis that is not terminated ran out of budget.
func (h Hypothesis) Terminated() bool { return h.terminated }

// extend returns a child with id appended. The token slice is always copied
// because siblings share the parent's backing array.
func (h Hypothesis) extend(id int32, contribution float64, state backends.State, end int32) Hypothesis {
	tokens := make([]int32, len(h.tokens)+1)
	copy(tokens, h.tokens)
	tokens[len(h.tokens)] = id
	return Hypothesis{
		tokens:     tokens,
		score:      h.score + contribution,
		state:      state,
		done:       id == end,
		terminated: id == end,
	}
}

// exhaust marks h as finished without an end token.
func (h Hypothesis) exhaust() Hypothesis {
	h.done = true
	return h
}

func allDone(hyps []Hypothesis) bool {
	for _, h := range hyps {
		if !h.done {
			return false
		}
	}
	return true
}
