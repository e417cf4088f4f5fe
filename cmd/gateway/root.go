package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/toolcall-gateway/internal/pkg/config"
)

const (
	appName   = "toolgate"
	version   = "0.3.0"
	configEnv = "TOOLGATE_CONFIG"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Tool-call gateway for OpenAI, Anthropic and Gemini clients",
		Long:          `A gateway that translates between OpenAI, Anthropic and Gemini APIs and emulates function calling for upstreams without native tool support.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to the YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRoutesCmd())
	root.AddCommand(newPromptCmd())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return config.DefaultPath
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// loadSnapshot loads, validates and builds the config at the --config path.
func loadSnapshot(cmd *cobra.Command) (*config.Snapshot, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	return config.Build(cfg)
}

// newLogger returns a JSON logger writing to stdout at the configured level.
// The level var lets a config reload change it.
func newLogger(features config.FeaturesConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	lvl, disabled := features.Level()
	level.Set(lvl)

	var w io.Writer = os.Stdout
	if disabled {
		w = io.Discard
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), level
}
