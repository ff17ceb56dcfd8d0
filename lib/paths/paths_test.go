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

package paths

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultModelsDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses USERPROFILE")
	}
	t.Setenv("HOME", "/home/tex")
	assert.Equal(t, filepath.Join("/home/tex", ".im2latex", "models"), DefaultModelsDir())
}
