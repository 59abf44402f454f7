// Package discovery implements discovery subcommands.
package discovery

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/pkg/apiclient"
)

// Cmd is the discovery subcommand.
var Cmd = &cobra.Command{
	Use:   "discovery",
	Short: "Inspect and refresh WOPI client discovery",
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the live discovery snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.AdminClient()
		if err != nil {
			return err
		}
		d, err := client.GetDiscovery(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get discovery: %w", err)
		}
		return printDiscovery(cmd.OutOrStdout(), d)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch discovery from every client now",
	Long: `Fetch discovery from every configured client now. If any client fails
the previous snapshot stays live and the command fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.AdminClient()
		if err != nil {
			return err
		}
		d, err := client.RefreshDiscovery(cmd.Context())
		if err != nil {
			return fmt.Errorf("discovery refresh failed: %w", err)
		}
		return printDiscovery(cmd.OutOrStdout(), d)
	},
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(refreshCmd)
}

// launchTable lists the launch templates, extensions first.
func launchTable(d *apiclient.Discovery) *output.TableData {
	table := output.NewTableData("Kind", "Key", "Template")
	for _, kind := range []struct {
		name    string
		entries map[string]string
	}{{"extension", d.Extensions}, {"mimetype", d.Mimetypes}} {
		keys := make([]string, 0, len(kind.entries))
		for k := range kind.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			table.AddRow(kind.name, k, kind.entries[k])
		}
	}
	return table
}

func printDiscovery(w io.Writer, d *apiclient.Discovery) error {
	return cmdutil.PrintResource(w, d, func(w io.Writer) error {
		refreshed := "never"
		if d.RefreshedAt != nil {
			refreshed = d.RefreshedAt.Local().String()
		}
		if err := output.PrintKeyValues(w, output.KeyValues{}.
			Add("Ready", fmt.Sprint(d.Ready)).
			Add("Refreshed", refreshed).
			Add("Clients", cmdutil.EmptyOr(strings.Join(d.Clients, ", "), "-")).
			Add("Proof keys", cmdutil.EmptyOr(strings.Join(d.ProofClients, ", "), "-"))); err != nil {
			return err
		}
		if !d.Ready {
			return nil
		}
		_, _ = fmt.Fprintln(w)
		return output.PrintTable(w, launchTable(d))
	})
}
