package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	if err := rootCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand(logger *slog.Logger) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "pushdispatch",
		Short:        "Send push notifications to Apple and Android devices",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to the embedded local config)")

	load := func() (*config.Config, error) {
		return loadConfig(configPath, logger)
	}
	root.AddCommand(serveCommand(load, logger), sendCommand(load, logger))
	return root
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-dispatch")
}

// loadConfig reads YAML (the embedded file unless path is set), then applies env overrides.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	raw := configFile
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		raw = b
	}

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, logger)
}
