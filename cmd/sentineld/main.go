package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/riftline/confluence-sentinel/internal/config"
	"github.com/riftline/confluence-sentinel/internal/core"
)

const appVersion = "0.1.0"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sentineld",
		Short: "Confluence Sentinel market-surveillance daemon",
		Long:  "Continuously ingests perpetual-futures market data and emits confluence alerts for short squeeze, long flush, and capitulation reversal setups.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to optional YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection loop and query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the sentineld version",
		Run: func(cmd *cobra.Command, args []string) {
			log.Info().Str("version", appVersion).Msg("sentineld")
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("sentineld: fatal")
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("sentineld: DATABASE_URL is unset, alert persistence will fail")
	}

	c := core.New(cfg)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("sentineld: close error")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Int("port", cfg.Port).Str("quote_asset", cfg.QuoteAsset).Msg("sentineld: starting")
	return c.Run(ctx)
}
