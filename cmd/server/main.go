package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lawn-analyzer/backend/internal/ai"
	"github.com/lawn-analyzer/backend/internal/config"
	"github.com/lawn-analyzer/backend/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "lawn-analyzer",
	Short:        "Lawn Analyzer web server",
	Long:         `Lawn Analyzer serves a page that uploads a lawn photo and asks a generative AI service to analyze it.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print Lawn Analyzer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lawn-analyzer %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	defaultConfig := "lawn-analyzer.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		defaultConfig = p
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to the YAML configuration file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what every command needs: validated settings, a logger and the
// generative model.
type app struct {
	cfg    *config.AppConfig
	log    zerolog.Logger
	client ai.Client
	model  ai.Model
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("config", configPath).Msg("invalid configuration")
		return nil, err
	}

	client, err := ai.New(ctx, ai.Options{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		Timeout:  time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("creating AI client: %w", err)
	}
	model := client.GenerativeModel(cfg.AI.Model)

	log.Info().
		Str("provider", client.Provider()).
		Str("model", model.Name()).
		Str("keyPrefix", ai.KeyPrefix(cfg.AI.APIKey)).
		Msg("AI client ready")

	return &app{cfg: cfg, log: log, client: client, model: model}, nil
}
