package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/config"
	"github.com/umaten/autopress/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopress",
		Short: "Scrapes restaurant listings and publishes generated articles",
		Long: `autopress turns restaurant listing pages into published blog articles.
It scrapes each listing, asks a language model to write an article from the
scraped record, and pushes the result to a WordPress site. The serve command
runs the full queue-driven service; run processes a handful of URLs once and
exits.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// bootstrap loads configuration and builds the process logger shared by all
// subcommands.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
