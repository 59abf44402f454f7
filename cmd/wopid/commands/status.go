package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/cli/health"
	"github.com/marmos91/wopihost/internal/cli/output"
	"github.com/marmos91/wopihost/internal/cli/timeutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of a running wopid server.

This command calls the health endpoints and reports uptime and the
readiness of the cache, the stores and discovery.

Examples:
  # Check the server configured in the default config
  wopid status

  # Check another server
  wopid status --server http://wopi.internal:8080

  # Output as JSON
  wopid status --output json`,
	RunE: runStatus,
}

// ServerStatus is the result of wopid status.
type ServerStatus struct {
	Running   bool              `json:"running" yaml:"running"`
	Ready     bool              `json:"ready" yaml:"ready"`
	Message   string            `json:"message" yaml:"message"`
	StartedAt string            `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Uptime    string            `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Cache     *health.Component `json:"cache,omitempty" yaml:"cache,omitempty"`
	Store     *health.Component `json:"store,omitempty" yaml:"store,omitempty"`
	Discovery *health.Component `json:"discovery,omitempty" yaml:"discovery,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := cmdutil.OutputFormat()
	if err != nil {
		return err
	}

	baseURL := cmdutil.Flags.ServerURL
	if baseURL == "" {
		cfg, err := cmdutil.LoadConfig()
		if err != nil {
			return err
		}
		baseURL = cmdutil.ServerURL(cfg)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	status := fetchStatus(ctx, &http.Client{}, baseURL)

	if format != output.FormatTable {
		return output.Print(cmd.OutOrStdout(), format, status)
	}
	printStatusTable(cmd.OutOrStdout(), status)
	return nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(resp.Body).Decode(v)
}

// fetchStatus queries /health and /health/ready. Readiness answers 503
// with a full body, so only transport errors mark the server down.
func fetchStatus(ctx context.Context, client *http.Client, baseURL string) ServerStatus {
	status := ServerStatus{Message: "Server is not running"}

	var live health.Liveness
	if err := getJSON(ctx, client, baseURL+"/health", &live); err != nil {
		return status
	}
	status.Running = true
	status.StartedAt = live.Data.StartedAt
	status.Uptime = live.Data.Uptime

	var ready health.Readiness
	if err := getJSON(ctx, client, baseURL+"/health/ready", &ready); err != nil {
		status.Message = "Server is running but readiness is unknown"
		return status
	}
	status.Ready = ready.Status == "healthy"
	status.Cache = &ready.Data.Cache
	status.Store = &ready.Data.Store
	status.Discovery = &ready.Data.Discovery
	if status.Ready {
		status.Message = "Server is running and ready"
	} else {
		status.Message = "Server is running but not ready"
	}
	return status
}

func componentLine(c *health.Component) string {
	if c == nil {
		return "-"
	}
	if c.Error != "" {
		return fmt.Sprintf("%s (%s)", c.Status, c.Error)
	}
	return c.Status
}

func printStatusTable(w io.Writer, status ServerStatus) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "wopid Server Status")
	_, _ = fmt.Fprintln(w, "===================")
	_, _ = fmt.Fprintln(w)

	if !status.Running {
		_, _ = fmt.Fprintf(w, "  Status:     \033[31m○ Stopped\033[0m\n\n")
		return
	}

	if status.Ready {
		_, _ = fmt.Fprintf(w, "  Status:     \033[32m● Ready\033[0m\n")
	} else {
		_, _ = fmt.Fprintf(w, "  Status:     \033[33m● Running (not ready)\033[0m\n")
	}
	pairs := output.KeyValues{}.
		Add("  Started", timeutil.FormatTime(status.StartedAt)).
		Add("  Uptime", timeutil.FormatUptime(status.Uptime)).
		Add("  Cache", componentLine(status.Cache)).
		Add("  Store", componentLine(status.Store)).
		Add("  Discovery", componentLine(status.Discovery))
	_ = output.PrintKeyValues(w, pairs)

	_, _ = fmt.Fprintf(w, "\n  %s\n\n", status.Message)
}
