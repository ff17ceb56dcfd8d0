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
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/pavviaz/im2latex"
	"github.com/pavviaz/im2latex/lib/backends"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode an input into LaTeX markup",
	Long: `Decode one input, or a document of several pages, with a discovered model
and print the result as JSON.

Each --text value is one input. A single value prints the decoding result;
several values are decoded as the pages of one document.

Examples:
  # Greedy decoding
  im2latex decode --model acme/greek --text "a b"

  # Beam search keeping five hypotheses, scored by log probability
  im2latex decode --model acme/greek --strategy beam --beam-width 5 --score-mode logprob --text "a b"

  # Reproducible categorical sampling with an attention trace
  im2latex decode --model acme/greek --strategy categorical --seed 7 --text "a b"`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	defaults := decoding.DefaultConfig()
	decodeCmd.Flags().String("model", "", "Model name (see 'im2latex list')")
	decodeCmd.Flags().String("strategy", string(decoding.KindGreedy), "Decoding strategy (greedy, beam, vote, categorical)")
	decodeCmd.Flags().StringArray("text", nil, "Input text; repeat for a multi-page document")
	decodeCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file after decoding")
	decodeCmd.Flags().Int("beam-width", defaults.BeamWidth, "Beam width, or number of samples for the vote strategy")
	decodeCmd.Flags().Int("max-length", defaults.MaxLength, "Maximum number of generated tokens")
	decodeCmd.Flags().Float64("temperature", defaults.Temperature, "Temperature applied to model values")
	decodeCmd.Flags().Int64("seed", defaults.Seed, "Seed for the sampling strategies (negative for random)")
	decodeCmd.Flags().String("score-mode", defaults.ScoreMode.String(), "Score accumulation (raw, logprob)")
	decodeCmd.Flags().Duration("timeout", defaults.MaxDuration, "Wall-clock budget per input (0 for none)")
	_ = decodeCmd.MarkFlagRequired("model")

	mustBindPFlag("decoding.beam_width", decodeCmd.Flags().Lookup("beam-width"))
	mustBindPFlag("decoding.max_length", decodeCmd.Flags().Lookup("max-length"))
	mustBindPFlag("decoding.temperature", decodeCmd.Flags().Lookup("temperature"))
	mustBindPFlag("decoding.seed", decodeCmd.Flags().Lookup("seed"))
	mustBindPFlag("decoding.score_mode", decodeCmd.Flags().Lookup("score-mode"))
	mustBindPFlag("decoding.max_duration", decodeCmd.Flags().Lookup("timeout"))
}

func runDecode(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	strategy, _ := cmd.Flags().GetString("strategy")
	texts, _ := cmd.Flags().GetStringArray("text")
	metricsFile, _ := cmd.Flags().GetString("metrics-file")

	kind, err := decoding.ParseKind(strategy)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return fmt.Errorf("at least one --text is required")
	}

	config, err := serviceConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	svc, err := im2latex.NewService(config, logger)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Error closing service", zap.Error(err))
		}
	}()

	var out any
	if len(texts) == 1 {
		out, err = svc.Decode(cmd.Context(), im2latex.DecodeRequest{
			Model:    model,
			Strategy: kind,
			Input:    backends.Input{Key: texts[0], Text: texts[0]},
		})
	} else {
		doc := im2latex.Document{ID: "cli", Pages: make([]backends.Input, len(texts))}
		for i, t := range texts {
			doc.Pages[i] = backends.Input{Key: t, Text: t}
		}
		out, err = svc.DecodeDocument(cmd.Context(), model, kind, doc)
	}
	if err != nil {
		return err
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, prometheus.DefaultGatherer); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}
