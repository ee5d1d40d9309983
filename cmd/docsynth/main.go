package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsynth/backend/pkg/config"
	appLogger "github.com/docsynth/backend/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "docsynth",
	Short:         "Document question answering and theme synthesis",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	err := rootCmd.Execute()
	appLogger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, statsCmd, resetIndexCmd)
}

// loadConfig reads the configuration and initialises the logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}
