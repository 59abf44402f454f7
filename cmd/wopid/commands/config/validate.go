package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the wopid configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  wopid config validate
  wopid config validate --config /etc/wopid/config.yaml`,
	RunE: runConfigValidate,
}

// warnings lists settings that load fine but are probably unintended.
func warnings(cfg *config.Config) []string {
	var out []string
	if !cfg.Admin.Enabled() {
		out = append(out, "admin.jwt_secret is empty - the admin API is disabled and no tokens can be issued")
	}
	if len(cfg.Clients) == 0 {
		out = append(out, "no WOPI clients configured - launch URLs cannot be computed")
	}
	if cfg.Server.PublicURL == "" {
		out = append(out, "server.public_url is empty - proof checks trust the request Host header")
	}
	if cfg.Cache.Type == "memory" {
		out = append(out, "cache.type is memory - tokens and locks are lost on restart")
	}
	return out
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	displayPath := cmdutil.Flags.ConfigFile
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(w, "Validation: OK")

	if ws := warnings(cfg); len(ws) > 0 {
		_, _ = fmt.Fprintln(w, "\nWarnings:")
		for _, msg := range ws {
			_, _ = fmt.Fprintf(w, "  - %s\n", msg)
		}
	}

	_, _ = fmt.Fprintln(w, "\nConfiguration summary:")
	return output.PrintKeyValues(w, output.KeyValues{}.
		Add("  Server port", fmt.Sprint(cfg.Server.Port)).
		Add("  Cache", string(cfg.Cache.Type)).
		Add("  Item database", string(cfg.Store.Database.Type)).
		Add("  Mounts", fmt.Sprint(len(cfg.Mounts))).
		Add("  WOPI clients", fmt.Sprint(len(cfg.Clients))).
		Add("  Log level", cfg.Logging.Level))
}
