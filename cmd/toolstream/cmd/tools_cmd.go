package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"toolstream/internal/catalog"
	"toolstream/internal/json"
	"toolstream/internal/protocol"
)

func NewToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	toolsCmd.AddCommand(newToolsListCmd())
	return toolsCmd
}

func newToolsListCmd() *cobra.Command {
	var format string
	c := &cobra.Command{
		Use:   "list",
		Short: "Print built-in and configured tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(GetConfigFileFlag(), nil)
			if err != nil {
				return err
			}
			reg, err := catalog.NewRegistry(cfg.Tools)
			if err != nil {
				return err
			}
			payload := protocol.Catalog(reg.List())

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(payload); err != nil {
					return err
				}
				return enc.Close()
			}
			return fmt.Errorf("unsupported format %q (want json|yaml)", format)
		},
	}
	c.Flags().StringVar(&format, "format", "json", "output format: json|yaml")
	return c
}
