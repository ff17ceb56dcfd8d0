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

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelsDir = "../../testdata/models"

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--models-dir", testModelsDir, "--log-level", "error"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestList(t *testing.T) {
	out := execute(t, "list")

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "acme/greek")
	assert.Contains(t, out, "scenario")
	assert.NotContains(t, out, "notamodel")
}

func TestDecode_Document(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "metrics.prom")
	out := execute(t, "decode",
		"--model", "scenario",
		"--strategy", "beam",
		"--beam-width", "2",
		"--text", "first",
		"--text", "second",
		"--metrics-file", metrics)

	var doc struct {
		ID    string `json:"id"`
		Text  string `json:"text"`
		Pages []struct {
			Strategy  string `json:"strategy"`
			Sequences []struct {
				Text string `json:"text"`
			} `json:"sequences"`
		} `json:"pages"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &doc))
	assert.Equal(t, "cli", doc.ID)
	require.Len(t, doc.Pages, 2)
	for _, p := range doc.Pages {
		assert.Equal(t, "beam", p.Strategy)
		assert.Len(t, p.Sequences, 2)
	}

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "im2latex_decoder_decode_request_ops_total")
}
