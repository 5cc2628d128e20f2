package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m2rcus/hypemonitoring/internal/app"
	"github.com/m2rcus/hypemonitoring/internal/config"
	"github.com/m2rcus/hypemonitoring/internal/logging"
	"github.com/m2rcus/hypemonitoring/internal/version"
)

// noConfig marks commands that run without loading configuration.
const noConfig = "hypemonitor/no-config"

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

var (
	globals   globalFlags
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "hypemonitor",
	Short:         "Watch the HYPE price and alert when it approaches the target",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Annotations[noConfig] == "true" {
			return nil
		}
		return initApp(cmd)
	},
}

func initApp(cmd *cobra.Command) error {
	if globals.envFile != "" {
		if err := os.Setenv(config.EnvFileVar, globals.envFile); err != nil {
			return fmt.Errorf("set %s: %w", config.EnvFileVar, err)
		}
	}

	cfg, err := config.Load(globals.configPath)
	if err != nil {
		return err
	}
	if globals.logLevel != "" {
		cfg.Logging.Level = globals.logLevel
	}
	if globals.logFormat != "" {
		cfg.Logging.Format = globals.logFormat
	}

	logger := logging.NewLogger(cfg.Logging)
	logger.Debug().
		Str("command", cmd.CommandPath()).
		Str("config", globals.configPath).
		Str("asset", cfg.Source.Asset).
		Msg("configuration loaded")

	appHandle = app.NewApp(cfg, logger)
	appHandle.Out = cmd.OutOrStdout()
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "hypemonitor: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globals.configPath, "config", "", "Path to configuration file (default ./config.yaml)")
	flags.StringVar(&globals.envFile, "env-file", "", "Path to a .env file loaded before the configuration")
	flags.StringVar(&globals.logLevel, "log-level", "", "Override logging.level")
	flags.StringVar(&globals.logFormat, "log-format", "", "Override logging.format (json or console)")

	rootCmd.SetVersionTemplate("hypemonitor {{.Version}}\n")

	rootCmd.AddCommand(
		runCmd,
		exportCmd,
		showCmd,
		replayCmd,
		simulateCmd,
		settingsCmd,
		versionCmd,
	)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
