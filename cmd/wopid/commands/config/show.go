package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/output"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and WOPID_* environment
overrides are applied. Table output prints YAML.

Examples:
  wopid config show
  wopid config show --output json --config /etc/wopid/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	format, err := cmdutil.OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
