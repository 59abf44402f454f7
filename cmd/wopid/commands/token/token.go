// Package token implements access token subcommands.
package token

import (
	"github.com/spf13/cobra"
)

// Cmd is the token subcommand.
var Cmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and revoke WOPI access tokens",
	Long: `Issue and revoke WOPI access tokens through the admin API of a
running server. The CLI signs its admin token with admin.jwt_secret from
the configuration file.`,
}

func init() {
	Cmd.AddCommand(issueCmd)
	Cmd.AddCommand(revokeCmd)
}
