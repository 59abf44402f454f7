package apiclient

import (
	"context"
	"time"
)

// Discovery is the live discovery snapshot of the server.
type Discovery struct {
	Ready        bool              `json:"ready"`
	RefreshedAt  *time.Time        `json:"refreshed_at,omitempty"`
	Mimetypes    map[string]string `json:"mimetypes"`
	Extensions   map[string]string `json:"extensions"`
	Clients      []string          `json:"clients"`
	ProofClients []string          `json:"proof_clients"`
}

// GetDiscovery returns the current snapshot.
func (c *Client) GetDiscovery(ctx context.Context) (*Discovery, error) {
	return getResource[Discovery](ctx, c, "/api/v1/discovery")
}

// RefreshDiscovery runs discovery now and returns the resulting snapshot.
func (c *Client) RefreshDiscovery(ctx context.Context) (*Discovery, error) {
	return createResource[Discovery](ctx, c, "/api/v1/discovery/refresh", nil)
}
