// Package cmd holds the triage command tree.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/triage/internal/config"
	"github.com/joshsymonds/triage/internal/runtime"
)

var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "triage",
	Short:         "Shared-inbox rule engine for Gmail",
	Long:          `triage labels and assigns shared-inbox mail by sender rules, sweeps the inbox on a schedule, and inspects the rules for conflicts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := runtime.NewLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		loaded, err := config.Load(configFile, envFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (toml, yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with TRIAGE_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
}

// Execute runs the command tree and logs the error that ended it.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		l := logger
		if l == nil {
			l = runtime.DefaultLogger()
		}
		l.Error("triage failed", "error", err)
	}
	return err
}
