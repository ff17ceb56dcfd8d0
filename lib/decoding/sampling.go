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
	"math"

	"github.com/ajroetker/go-highway/hwy/contrib/nn"
)

// stepScorer turns the value of a selected id into a score contribution for
// one step's distribution.
type stepScorer struct {
	dist        []float32
	temperature float64
	mode        ScoreMode
	logZ        float64
}

func newStepScorer(dist []float32, temperature float64, mode ScoreMode) stepScorer {
	s := stepScorer{dist: dist, temperature: temperature, mode: mode}
	if mode == ScoreLogProb {
		s.logZ = logSumExp(dist, temperature)
	}
	return s
}

func (s stepScorer) contribution(id int32) float64 {
	v := float64(s.dist[id]) / s.temperature
	if s.mode == ScoreLogProb {
		return v - s.logZ
	}
	return v
}

// logSumExp computes log(sum(exp(v/t))) without overflow.
func logSumExp(dist []float32, temperature float64) float64 {
	hi := math.Inf(-1)
	for _, v := range dist {
		hi = max(hi, float64(v)/temperature)
	}
	if math.IsInf(hi, 0) {
		return hi
	}
	var sum float64
	for _, v := range dist {
		sum += math.Exp(float64(v)/temperature - hi)
	}
	return hi + math.Log(sum)
}

// checkDistribution rejects empty distributions and NaN values.
func checkDistribution(dist []float32) error {
	if len(dist) == 0 {
		return ErrEmptyDistribution
	}
	for i, v := range dist {
		if math.IsNaN(float64(v)) {
			return invalidArgumentf("NaN in distribution at id %d", i)
		}
	}
	return nil
}

// probabilities returns softmax(dist / temperature).
func probabilities(dist []float32, temperature float64) []float32 {
	scaled := make([]float32, len(dist))
	for i, v := range dist {
		scaled[i] = float32(float64(v) / temperature)
	}
	probs := make([]float32, len(dist))
	nn.Softmax(scaled, probs)
	return probs
}

// sampleIndex draws an id from probs using a uniform value u in [0, 1).
func sampleIndex(probs []float32, u float64) int32 {
	var cumsum float64
	for i, p := range probs {
		cumsum += float64(p)
		if u < cumsum {
			return int32(i)
		}
	}
	// Rounding left u past the total; take the last id with any mass.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return int32(i)
		}
	}
	return int32(len(probs) - 1)
}
