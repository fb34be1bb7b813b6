package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "keygate",
	Short: "Keygate - AI provider key governance and admission control",
	Long: `Keygate manages a pool of AI provider credentials grouped into model tiers
and decides, per request, which credential may serve it.

  - Admission control against per-credential RPM, RPD and TPM limits
  - Fallback to lower tiers when a tier is exhausted
  - Usage reconciliation, failure tracking and automatic rotation
  - Sealed credential material and cached caller quota status`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and KEYGATE_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return cli.NewConfigError("env-file", err.Error())
	}
	return nil
}

// loadConfig initializes the process-wide configuration and logging.
func loadConfig() (*config.Config, *logging.Logger, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, nil, cli.NewConfigError("", err.Error())
	}
	cfg := config.GetConfig()

	logCfg := logging.FromConfig(cfg.Telemetry.Logging)
	if verbose {
		logCfg.Level = "debug"
	}
	logCfg.Writer = os.Stderr
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.SetDefault()

	return cfg, logger, nil
}
