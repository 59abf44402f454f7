package token

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/internal/cli/timeutil"
	"github.com/marmos91/wopihost/pkg/apiclient"
)

var (
	issueItem  string
	issueMount string
	issuePath  string
	issueUser  string
	issueLang  string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an access token for a document",
	Long: `Issue an access token for a document, named either by item id or by
mount id and path. Without --user the token is anonymous.

Examples:
  # Token for an item
  wopid token issue --item 0b7c3c1e-8f5e-4a35-9f55-0e8c8f1f6d2a --user alice

  # Token for a file on a mount, with the editor UI in German
  wopid token issue --mount shared --path reports/q3.xlsx --user bob --lang de-DE`,
	RunE: runIssue,
}

func init() {
	issueCmd.Flags().StringVar(&issueItem, "item", "", "Item id")
	issueCmd.Flags().StringVar(&issueMount, "mount", "", "Mount id")
	issueCmd.Flags().StringVar(&issuePath, "path", "", "Path inside the mount")
	issueCmd.Flags().StringVar(&issueUser, "user", "", "User the token acts for (default: anonymous)")
	issueCmd.Flags().StringVar(&issueLang, "lang", "", "UI language passed to the editor")
	issueCmd.MarkFlagsMutuallyExclusive("item", "mount")
	issueCmd.MarkFlagsOneRequired("item", "mount")
	issueCmd.MarkFlagsRequiredTogether("mount", "path")
}

func runIssue(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.AdminClient()
	if err != nil {
		return err
	}

	req := apiclient.IssueTokenRequest{
		ItemID:  issueItem,
		MountID: issueMount,
		Path:    issuePath,
		Lang:    issueLang,
	}
	if cmd.Flags().Changed("user") {
		req.User = &issueUser
	}

	tok, err := client.IssueToken(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	return cmdutil.PrintResource(cmd.OutOrStdout(), tok, func(w io.Writer) error {
		return output.PrintKeyValues(w, output.KeyValues{}.
			Add("Access token", tok.AccessToken).
			Add("Expires", timeutil.FormatExpiry(tok.ExpiresAt())).
			Add("File ID", tok.FileID).
			Add("WOPISrc", tok.WopiSrc).
			Add("Launch URL", cmdutil.EmptyOr(tok.LaunchURL, "-")))
	})
}
