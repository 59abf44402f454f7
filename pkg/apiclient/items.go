package apiclient

import (
	"context"
	"time"
)

// CreateItemRequest describes a new, empty document.
type CreateItemRequest struct {
	FolderID string `json:"folder_id,omitempty"`
	Name     string `json:"name"`
	Owner    string `json:"owner,omitempty"`
}

// Item is a document in the primary store.
type Item struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	FolderID  string    `json:"folder_id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner,omitempty"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateItem creates an empty item. Requires the admin role.
func (c *Client) CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error) {
	return createResource[Item](ctx, c, "/api/v1/items", req)
}
