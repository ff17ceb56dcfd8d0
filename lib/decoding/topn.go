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
	"container/heap"
	"math"
)

// Candidate is one entry of a distribution: its value and vocabulary id.
type Candidate struct {
	Value float64
	ID    int32
}

// rankedBefore orders by value descending, then id ascending.
func (c Candidate) rankedBefore(o Candidate) bool {
	if c.Value != o.Value {
		return c.Value > o.Value
	}
	return c.ID < o.ID
}

// candidateHeap keeps the weakest retained candidate at the root.
type candidateHeap []Candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].rankedBefore(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(Candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// SelectTopN returns the n highest entries of dist, best first. Equal values
// are ordered by ascending id, so the result is the same as a stable sort of
// the whole distribution truncated to n.
//
// It runs in O(V log n) using a bounded heap. n must be in [1, len(dist)] and
// dist must not contain NaN.
func SelectTopN(dist []float32, n int) ([]Candidate, error) {
	if n < 1 || n > len(dist) {
		return nil, invalidArgumentf("top-n selection of %d from a vocabulary of %d", n, len(dist))
	}

	h := make(candidateHeap, 0, n)
	for i, v := range dist {
		if math.IsNaN(float64(v)) {
			return nil, invalidArgumentf("NaN in distribution at id %d", i)
		}
		c := Candidate{Value: float64(v), ID: int32(i)}
		if len(h) < n {
			heap.Push(&h, c)
			continue
		}
		// Ids arrive in ascending order, so an equal value never displaces
		// the root.
		if c.rankedBefore(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	out := make([]Candidate, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Candidate)
	}
	return out, nil
}
