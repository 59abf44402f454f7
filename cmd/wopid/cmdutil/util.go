// Package cmdutil provides shared utilities for wopid commands.
package cmdutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/pkg/api/auth"
	"github.com/marmos91/wopihost/pkg/apiclient"
	"github.com/marmos91/wopihost/pkg/config"
)

// cliSubject is the subject of admin tokens minted by the CLI.
const cliSubject = "wopid-cli"

// UserAgent is sent on admin API calls; main appends the build version.
var UserAgent = cliSubject

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ConfigFile string
	ServerURL  string
	Output     string
}

// LoadConfig loads the configuration selected by --config.
func LoadConfig() (*config.Config, error) {
	return config.MustLoad(Flags.ConfigFile)
}

// ServerURL returns the admin API base URL: --server, then the configured
// public URL, then localhost on the configured port.
func ServerURL(cfg *config.Config) string {
	if Flags.ServerURL != "" {
		return strings.TrimRight(Flags.ServerURL, "/")
	}
	if cfg.Server.PublicURL != "" {
		return strings.TrimRight(cfg.Server.PublicURL, "/")
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// AdminClient returns an API client authenticated with an admin token
// minted locally from admin.jwt_secret.
func AdminClient() (*apiclient.Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	jwtService, err := auth.NewJWTService(cfg.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin API unavailable: %w", err)
	}
	tok, _, err := jwtService.GenerateToken(cliSubject, auth.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to mint admin token: %w", err)
	}
	return apiclient.New(ServerURL(cfg)).WithToken(tok).WithUserAgent(UserAgent), nil
}

// OutputFormat returns the parsed --output flag.
func OutputFormat() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintResource prints data as JSON or YAML, or renders table for the
// table format.
func PrintResource(w io.Writer, data any, table func(io.Writer) error) error {
	format, err := OutputFormat()
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		return table(w)
	}
	return output.Print(w, format, data)
}

// EmptyOr returns value, or fallback when value is empty.
func EmptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
