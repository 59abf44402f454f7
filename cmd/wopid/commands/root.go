// Package commands implements the wopid command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/cmd/wopid/commands/config"
	"github.com/marmos91/wopihost/cmd/wopid/commands/discovery"
	"github.com/marmos91/wopihost/cmd/wopid/commands/item"
	"github.com/marmos91/wopihost/cmd/wopid/commands/token"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "wopid",
	Short: "wopid - WOPI host server",
	Long: `wopid is a WOPI host: it serves documents from a database-backed item
store and from S3, Azure Blob or local mounts to WOPI editors such as
Collabora Online and Microsoft 365 for the web.

Use "wopid [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cmdutil.Flags.ConfigFile, _ = cmd.Flags().GetString("config")
		cmdutil.Flags.ServerURL, _ = cmd.Flags().GetString("server")
		cmdutil.Flags.Output, _ = cmd.Flags().GetString("output")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/wopid/config.yaml)")
	rootCmd.PersistentFlags().String("server", "", "admin API URL (default: server.public_url or http://localhost:<server.port>)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(token.Cmd)
	rootCmd.AddCommand(discovery.Cmd)
	rootCmd.AddCommand(item.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
