package cmd

import (
	"fmt"
	"os"

	"github.com/kasuganosora/questledger/app"
	"github.com/kasuganosora/questledger/config"
	"github.com/spf13/cobra"
)

// Execute runs the questledger CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "questledger",
		Short:         "Quest progress and reward ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML config file (defaults and QUESTLEDGER_* env apply when empty)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newExportCmd(&cfgPath),
		newImportCmd(&cfgPath),
		newResetCmd(&cfgPath),
		newStatsCmd(&cfgPath),
	)
	return root
}

// openApp loads config, builds the logger and assembles the application.
func openApp(cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := app.NewLogger(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	a.Close()
	_ = a.Logger.Sync()
}
