package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-variant/internal/logging"
	"github.com/tendant/simple-variant/pkg/simplevariant/config"
)

var (
	envFile    string
	configFile string

	cfg    *config.ServerConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "variantd",
	Short: "Derived image variant service",
	Long: `variantd stores original images, generates resized variants for them and
serves the best URL for a requested size. Missing variants are repaired on
lookup and by a background pass that runs while the service is idle.`,
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format for results (yaml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(bestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initializeApp(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	opts = append(opts, config.WithEnv())

	loaded, err := config.Load(opts...)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err = logging.Init(os.Stderr, cfg.Environment, cfg.LogLevel)
	return err
}

// buildRuntime wires the components for commands that work on the store directly.
func buildRuntime(ctx context.Context) (*config.Runtime, error) {
	rt, err := cfg.Build(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build runtime: %w", err)
	}
	return rt, nil
}
