package token

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke an access token",
	Long: `Revoke an access token. Editors holding it get 401 on their next
request. Revoking an unknown or expired token succeeds.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.AdminClient()
		if err != nil {
			return err
		}
		if err := client.RevokeToken(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Token revoked")
		return nil
	},
}
