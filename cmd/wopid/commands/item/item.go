// Package item implements item store subcommands.
package item

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/pkg/apiclient"
)

// Cmd is the item subcommand.
var Cmd = &cobra.Command{
	Use:   "item",
	Short: "Manage documents in the item store",
}

var (
	createFolder string
	createOwner  string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty document",
	Long: `Create an empty document in the item store. The editor writes its
first content with PutFile.

Examples:
  wopid item create "Budget 2025.xlsx" --owner alice --folder finance`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.AdminClient()
		if err != nil {
			return err
		}
		it, err := client.CreateItem(cmd.Context(), apiclient.CreateItemRequest{
			FolderID: createFolder,
			Name:     args[0],
			Owner:    createOwner,
		})
		if err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
		return cmdutil.PrintResource(cmd.OutOrStdout(), it, func(w io.Writer) error {
			return output.PrintKeyValues(w, output.KeyValues{}.
				Add("ID", it.ID).
				Add("File ID", it.FileID).
				Add("Name", it.Name).
				Add("Folder", cmdutil.EmptyOr(it.FolderID, "-")).
				Add("Owner", cmdutil.EmptyOr(it.Owner, "-")).
				Add("MIME type", it.MimeType))
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createFolder, "folder", "", "Folder id")
	createCmd.Flags().StringVar(&createOwner, "owner", "", "Owning user")
	Cmd.AddCommand(createCmd)
}
