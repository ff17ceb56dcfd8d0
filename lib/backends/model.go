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

package backends

import (
	"context"
)

// Context is the encoded form of one input. It is produced once by Encode and
// read by every Step of the same decode. Implementations must not mutate it.
type Context any

// State is the recurrent state a model threads from one step to the next.
// A decoder stores it on each hypothesis and hands it back unmodified, so a
// State may be shared by several branches at once.
type State any

// Input is a preprocessed model input. Which fields are populated depends on
// the model: vision models read the pixel tensor, text models read Text or
// TokenIDs. Key names the input in logs and is mixed into the cache key;
// inputs are cached by content whether or not Key is set.
type Input struct {
	Key string

	Pixels   []float32
	Width    int
	Height   int
	Channels int

	Text     string
	TokenIDs []int32
}

// StepOutput is the result of one decoder step.
type StepOutput struct {
	// Distribution holds one value per vocabulary entry. It is not required to
	// be normalized.
	Distribution []float32

	// State is passed back as prior on the next step for this branch.
	State State

	// Attention holds optional alignment weights over the context for the
	// token being predicted. Nil when the model has none.
	Attention []float32
}

// SequenceModel is the trained model seen by the decoders.
type SequenceModel interface {
	// Encode runs the encoder once for the given input.
	Encode(ctx context.Context, input Input) (Context, error)

	// Step scores the next token given the prefix generated so far (starting
	// with the start token), the encoded context and the prior state. prior is
	// nil on the first step.
	Step(ctx context.Context, prefix []int32, c Context, prior State) (*StepOutput, error)
}

// EncodeFunc encodes an input.
type EncodeFunc func(ctx context.Context, input Input) (Context, error)

// StepFunc runs a single decoder step.
type StepFunc func(ctx context.Context, prefix []int32, c Context, prior State) (*StepOutput, error)

// ModelFunc adapts a pair of functions to SequenceModel. A nil EncodeFunc
// returns the input itself as the context.
type ModelFunc struct {
	EncodeFunc EncodeFunc
	StepFunc   StepFunc
}

// Encode implements SequenceModel.
func (m ModelFunc) Encode(ctx context.Context, input Input) (Context, error) {
	if m.EncodeFunc == nil {
		return input, nil
	}
	return m.EncodeFunc(ctx, input)
}

// Step implements SequenceModel.
func (m ModelFunc) Step(ctx context.Context, prefix []int32, c Context, prior State) (*StepOutput, error) {
	return m.StepFunc(ctx, prefix, c, prior)
}

// Closer is implemented by models holding resources that must be released.
type Closer interface {
	Close() error
}
