package main

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/insurance-agent/internal/config"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "insurance-agent",
	Short: "Conversational assistant for insurance policies and claims",
	Long: `insurance-agent answers policy questions from the knowledge base, checks
and submits claims through the claims API, and keeps every conversation as a
durable session.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default ./config.yaml)")
	rootCmd.AddCommand(serveCmd, chatCmd, migrateCmd)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	observability.Init(cfg.Log.Level, cfg.Log.Format)
	return nil
}
