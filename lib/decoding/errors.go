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

// Package decoding turns per-step token distributions from a sequence model
// into finished output sequences.
//
// Four strategies share one Engine:
//
//	greedy       argmax at every step
//	beam         beam search with a fixed beam width
//	vote         per-step plurality over independent categorical samples
//	categorical  single categorical sample per step, with an attention trace
//
// Every decode is bounded by a maximum number of generated tokens and an
// optional wall-clock budget. Running out of budget is not an error: the
// engine returns what it has and marks the unfinished sequences.
package decoding

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for out-of-range options and malformed
// distributions.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrEmptyDistribution is wrapped in a ModelEvaluationError when a model step
// returns no scores.
var ErrEmptyDistribution = errors.New("model returned an empty distribution")

// ModelEvaluationError reports a failed Encode or Step call. The model's error
// is kept as is and available through errors.Is and errors.As.
type ModelEvaluationError struct {
	Op   string // "encode" or "step"
	Step int    // 1-based index of the token being predicted, 0 for encode
	Err  error
}

func (e *ModelEvaluationError) Error() string {
	if e.Op == "encode" {
		return fmt.Sprintf("model encode: %v", e.Err)
	}
	return fmt.Sprintf("model %s at step %d: %v", e.Op, e.Step, e.Err)
}

func (e *ModelEvaluationError) Unwrap() error {
	return e.Err
}

func invalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
