package apiclient

import (
	"context"
	"net/url"
	"time"
)

// IssueTokenRequest names the document to open, by item id or by mount
// and path. A nil User issues an anonymous token.
type IssueTokenRequest struct {
	ItemID  string  `json:"item_id,omitempty"`
	MountID string  `json:"mount_id,omitempty"`
	Path    string  `json:"path,omitempty"`
	User    *string `json:"user,omitempty"`
	Lang    string  `json:"lang,omitempty"`
}

// AccessToken is a freshly minted WOPI access token.
type AccessToken struct {
	AccessToken    string `json:"access_token"`
	AccessTokenTTL int64  `json:"access_token_ttl"`
	FileID         string `json:"file_id"`
	WopiSrc        string `json:"wopi_src"`
	LaunchURL      string `json:"launch_url,omitempty"`
}

// ExpiresAt converts AccessTokenTTL, an absolute Unix time in
// milliseconds, to a time.
func (t *AccessToken) ExpiresAt() time.Time {
	return time.UnixMilli(t.AccessTokenTTL)
}

// IssueToken mints an access token. Requires the issuer or admin role.
func (c *Client) IssueToken(ctx context.Context, req IssueTokenRequest) (*AccessToken, error) {
	return createResource[AccessToken](ctx, c, "/api/v1/tokens", req)
}

// RevokeToken invalidates an access token. Unknown tokens are not an error.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	return c.delete(ctx, resourcePath("/api/v1/tokens/%s", url.PathEscape(token)))
}
