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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHypothesis_ExtendLeavesParentUntouched(t *testing.T) {
	root := newRoot(1)
	a := root.extend(2, 0.9, "s1", 4)
	b := root.extend(3, 0.1, "s2", 4)
	end := a.extend(4, 1.0, "s3", 4)

	assert.Equal(t, []int32{1}, root.Tokens())
	assert.Equal(t, 0.0, root.Score())
	assert.Nil(t, root.State())

	assert.Equal(t, []int32{1, 2}, a.Tokens())
	assert.Equal(t, []int32{1, 3}, b.Tokens())
	assert.Equal(t, "s1", a.State())
	assert.False(t, a.Done())

	assert.Equal(t, []int32{2, 4}, end.Generated())
	assert.Equal(t, 2, end.Len())
	assert.InDelta(t, 1.9, end.Score(), 1e-9)
	assert.True(t, end.Done())
	assert.True(t, end.Terminated())
	assert.Equal(t, int32(4), end.Last())
}

func TestHypothesis_TokensIsACopy(t *testing.T) {
	h := newRoot(1).extend(2, 0, nil, 4)
	toks := h.Tokens()
	toks[1] = 99
	assert.Equal(t, []int32{1, 2}, h.Tokens())
}

func TestHypothesis_Exhaust(t *testing.T) {
	h := newRoot(1).extend(2, 0.5, nil, 4)
	x := h.exhaust()

	assert.False(t, h.Done())
	assert.True(t, x.Done())
	assert.False(t, x.Terminated())
	assert.Equal(t, h.Tokens(), x.Tokens())
}

func TestAllDone(t *testing.T) {
	live := newRoot(1)
	done := live.extend(4, 0, nil, 4)
	assert.True(t, allDone(nil))
	assert.True(t, allDone([]Hypothesis{done}))
	assert.False(t, allDone([]Hypothesis{done, live}))
}
