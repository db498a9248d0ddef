package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"toolstream/internal/config"
	"toolstream/internal/logging"
)

func NewConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage toolstream config",
	}

	configCmd.AddCommand(newConfigPathCmd())
	configCmd.AddCommand(newConfigValidateCmd())
	configCmd.AddCommand(newConfigApplyCmd())
	return configCmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print resolved config path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.ResolveConfigPath(GetConfigFileFlag()))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.FromContext(cmd.Context())
			cfg, err := loadConfig(firstNonEmpty(file, GetConfigFileFlag()), nil)
			if err != nil {
				return err
			}
			logger.Info("config valid", "listen", cfg.Server.Listen, "backend_url", cfg.Backend.URL, "tools", len(cfg.Tools))
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	validateCmd.Flags().StringVar(&file, "file", "", "config file path (default: search up for .toolstream/config.yaml, fallback: ~/.toolstream/config.yaml)")
	return validateCmd
}

func newConfigApplyCmd() *cobra.Command {
	var file string
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply config file to default location",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.FromContext(cmd.Context())
			src := firstNonEmpty(file, GetConfigFileFlag())
			if src == "" {
				return errors.New("missing --file (or --config)")
			}
			dst := config.DefaultConfigPath()
			if err := config.ApplyFile(src, dst); err != nil {
				return err
			}
			logger.Info("config applied", "path", dst)
			fmt.Fprintln(cmd.OutOrStdout(), dst)
			return nil
		},
	}
	applyCmd.Flags().StringVar(&file, "file", "", "source config file path")
	return applyCmd
}

// loadConfig loads and validates configuration with the global file flags.
func loadConfig(file string, cmd *cobra.Command) (*config.Config, error) {
	opts := config.LoadOptions{ConfigFile: file, EnvFile: globalEnvFile}
	if cmd != nil {
		opts.Flags = serveFlagBindings(cmd)
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
