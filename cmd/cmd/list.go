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
	"text/tabwriter"

	"github.com/pavviaz/im2latex"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered models",
	Long: `List the model bundles found under the models directory.

A bundle is a directory holding a model.yaml manifest, either directly under
the models directory or one level down under an owner directory.

Examples:
  im2latex list
  im2latex list --models-dir ./models`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	modelsDir := viper.GetString("models_dir")
	registry, err := im2latex.NewModelRegistry(im2latex.RegistryConfig{
		ModelsDir: modelsDir,
		Decoding:  decoding.DefaultConfig(),
	}, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	names := registry.List()
	if len(names) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No models found in %s\n", modelsDir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPATH")
	for _, name := range names {
		info, _ := registry.Info(name)
		fmt.Fprintf(w, "%s\t%s\n", name, info.Path)
	}
	return w.Flush()
}
