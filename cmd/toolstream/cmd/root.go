package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"toolstream/internal/logging"
)

// Version is stamped at build time with -ldflags "-X toolstream/cmd/toolstream/cmd.Version=...".
var Version = "dev"

var (
	globalConfigFile string
	globalEnvFile    string
	globalLogFormat  string
	globalLogLevel   string
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "toolstream",
		Short:         "Streaming tool-invocation server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(logging.Options{
				Level:  globalLogLevel,
				Format: globalLogFormat,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(
		&globalConfigFile,
		"config",
		"",
		"config file (default: search up for .toolstream/config.yaml, fallback: ~/.toolstream/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(&globalEnvFile, "env-file", "", "dotenv file to load (default: ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log format: text|json")
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewToolsCmd())

	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func GetConfigFileFlag() string {
	return globalConfigFile
}
