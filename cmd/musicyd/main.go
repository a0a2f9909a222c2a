// Package main is the musicyd entry point: the stream resolution server and its
// operational commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"musicy-stream/internal/platform/config"
	"musicy-stream/internal/provider"
)

var (
	envFile       string
	providersFile string
	strategyMode  string
)

var rootCmd = &cobra.Command{
	Use:           "musicyd",
	Short:         "musicyd resolves tracks to playable audio and proxies the bytes",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&providersFile, "providers", "", "providers YAML file (overrides PROVIDERS_FILE)")
	rootCmd.PersistentFlags().StringVar(&strategyMode, "strategy", "", "resolve strategy: race or sequential (overrides RESOLVE_STRATEGY)")

	rootCmd.AddCommand(serveCmd, probeCmd)
}

// loadConfig reads .env, the environment and the flag overrides.
func loadConfig() (config.Config, error) {
	if err := config.Load(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Parse()
	if err != nil {
		return config.Config{}, err
	}
	if providersFile != "" {
		cfg.ProvidersFile = providersFile
	}
	if strategyMode != "" {
		cfg.Strategy = strategyMode
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// loadEndpoints reads the provider list and logs what was loaded.
func loadEndpoints(cfg config.Config, log *slog.Logger) ([]provider.Endpoint, error) {
	eps, err := provider.LoadEndpoints(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	for i, ep := range eps {
		log.Info("provider configured",
			slog.Int("priority", i),
			slog.String("name", ep.Name),
			slog.String("kind", string(ep.Kind)),
			slog.Duration("timeout", ep.Timeout))
	}
	return eps, nil
}
