package apiclient

import (
	"context"
	"fmt"
)

// getResource performs a GET request and decodes the response into a T.
func getResource[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var result T
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// createResource performs a POST request and decodes the response into a T.
func createResource[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(ctx, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// resourcePath formats a path template.
//
//	path := resourcePath("/api/v1/tokens/%s", token)
func resourcePath(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
