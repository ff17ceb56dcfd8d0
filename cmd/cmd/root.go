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
	"os"
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/pavviaz/im2latex"
	"github.com/pavviaz/im2latex/lib/decoding"
	"github.com/pavviaz/im2latex/lib/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	Version string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "im2latex",
	Short: "Decode formula images into LaTeX markup",
	Long: `Decode formula images into LaTeX markup with greedy, beam search,
stochastic voting or categorical sampling strategies.

Examples:
  # List discovered models
  im2latex list

  # Decode with beam search
  im2latex decode --model acme/greek --strategy beam --beam-width 3 --text "a b"`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (e.g. im2latex.yaml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "set the logging output style (terminal, json, noop)")
	rootCmd.PersistentFlags().
		String("models-dir", paths.DefaultModelsDir(), "Directory holding model bundles (default: ~/.im2latex/models)")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	defaults := im2latex.DefaultConfig()
	viper.SetDefault("models_dir", paths.DefaultModelsDir())
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.style", "terminal")
	viper.SetDefault("decoding.max_length", defaults.Decoding.MaxLength)
	viper.SetDefault("decoding.beam_width", defaults.Decoding.BeamWidth)
	viper.SetDefault("decoding.temperature", defaults.Decoding.Temperature)
	viper.SetDefault("decoding.seed", defaults.Decoding.Seed)
	viper.SetDefault("decoding.score_mode", defaults.Decoding.ScoreMode.String())
	viper.SetDefault("decoding.max_duration", defaults.Decoding.MaxDuration)
	viper.SetDefault("decoding.parallelism", defaults.Decoding.Parallelism)
	viper.SetDefault("cache.ttl", defaults.ContextCacheTTL)
	viper.SetDefault("cache.capacity", defaults.ContextCacheCapacity)
	viper.SetDefault("registry.keep_alive", defaults.KeepAlive)
	viper.SetDefault("registry.max_loaded_models", defaults.MaxLoadedModels)
	viper.SetDefault("registry.preload", []string{})
	viper.SetDefault("document.page_parallelism", defaults.PageParallelism)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".im2latex")
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("im2latex")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("IM2LATEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// serviceConfig assembles the service configuration from viper.
func serviceConfig() (im2latex.Config, error) {
	mode, err := decoding.ParseScoreMode(viper.GetString("decoding.score_mode"))
	if err != nil {
		return im2latex.Config{}, err
	}
	return im2latex.Config{
		ModelsDir: viper.GetString("models_dir"),
		Decoding: decoding.Config{
			MaxLength:   viper.GetInt("decoding.max_length"),
			BeamWidth:   viper.GetInt("decoding.beam_width"),
			Temperature: viper.GetFloat64("decoding.temperature"),
			Seed:        viper.GetInt64("decoding.seed"),
			ScoreMode:   mode,
			MaxDuration: viper.GetDuration("decoding.max_duration"),
			Parallelism: viper.GetInt("decoding.parallelism"),
		},
		ContextCacheTTL:      viper.GetDuration("cache.ttl"),
		ContextCacheCapacity: viper.GetUint64("cache.capacity"),
		KeepAlive:            viper.GetDuration("registry.keep_alive"),
		MaxLoadedModels:      viper.GetUint64("registry.max_loaded_models"),
		Preload:              viper.GetStringSlice("registry.preload"),
		PageParallelism:      viper.GetInt("document.page_parallelism"),
	}, nil
}
