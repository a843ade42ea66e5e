package cli

import (
	"fmt"
	"os"

	"flow-observer/src/app"
	"flow-observer/src/config"
	"flow-observer/src/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "flow-observer",
	Short:         "Aggregate order flow, order book depth and liquidations from Binance futures",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/default.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadApp reads the configuration once; commands that need it call it from
// PreRunE so that version works without a config file.
func loadApp(cmd *cobra.Command, args []string) error {
	if appHandle != nil {
		return nil
	}

	cfg, err := config.NewConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	appHandle = app.NewApp(cfg, logger.NewLogger(cfg.MConfig, cfg.Name))
	return nil
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PreRunE not executed")
	}
	return appHandle
}
