package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/prompt"
	"github.com/marmos91/wopihost/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample wopid configuration file with a freshly generated
admin JWT secret.

By default the file is created at $XDG_CONFIG_HOME/wopid/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize with default location
  wopid init

  # Initialize with custom path
  wopid init --config /etc/wopid/config.yaml

  # Overwrite an existing file without asking
  wopid init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file without asking")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := cmdutil.Flags.ConfigFile
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	force := initForce
	if _, err := os.Stat(configPath); err == nil && !force {
		ok, err := prompt.Confirm(fmt.Sprintf("%s exists. Overwrite it, replacing the admin secret?", configPath), false)
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
		force = true
	}

	if err := config.InitConfigToPath(configPath, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Point clients[].discovery_url at your WOPI editor")
	_, _ = fmt.Fprintln(out, "  2. Set server.public_url to the address editors use to reach wopid")
	_, _ = fmt.Fprintf(out, "  3. Start the server with: wopid start --config %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  admin.jwt_secret was generated for this file. In production prefer")
	_, _ = fmt.Fprintln(out, "    export WOPID_ADMIN_JWT_SECRET=$(openssl rand -hex 32)")
	return nil
}
