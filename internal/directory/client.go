package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the auth/user collaborator service. The core consumes
// token validation, external-identity lookup and profile names from it.
type Client struct {
	http *resty.Client
}

// NewClient builds a directory client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

type tokenResponse struct {
	UserID int `json:"user_id"`
}

type identityResponse struct {
	ExternalID string `json:"external_id"`
}

type resolveResponse struct {
	UserID int `json:"user_id"`
}

type userResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// ValidateToken resolves a bearer token to a local user id.
func (c *Client) ValidateToken(ctx context.Context, token string) (int, error) {
	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get("/internal/auth/validate")
	if err != nil {
		return 0, fmt.Errorf("validate token: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("validate token: status %d", resp.StatusCode())
	}
	return out.UserID, nil
}

// ExternalID returns the user's opaque identity in the shared remote store,
// or "" when the user has none.
func (c *Client) ExternalID(ctx context.Context, userID int) (string, error) {
	var out identityResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprint(userID)).
		SetResult(&out).
		Get("/internal/users/{id}/identity")
	if err != nil {
		return "", fmt.Errorf("identity lookup: %w", err)
	}
	if resp.StatusCode() == 404 {
		return "", nil
	}
	if resp.IsError() {
		return "", fmt.Errorf("identity lookup: status %d", resp.StatusCode())
	}
	return out.ExternalID, nil
}

// ResolveExternalID maps an external identity to a local user id, creating a
// placeholder local user on first sight. Used by the mirror import path.
func (c *Client) ResolveExternalID(ctx context.Context, externalID string) (int, error) {
	var out resolveResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"external_id": externalID}).
		SetResult(&out).
		Post("/internal/users/resolve")
	if err != nil {
		return 0, fmt.Errorf("resolve identity: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("resolve identity: status %d", resp.StatusCode())
	}
	return out.UserID, nil
}

// BulkUsers fetches display names for the given user ids.
func (c *Client) BulkUsers(ctx context.Context, ids []int) (map[int]string, error) {
	var out []userResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string][]int{"ids": ids}).
		SetResult(&out).
		Post("/internal/users/bulk")
	if err != nil {
		return nil, fmt.Errorf("bulk users: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bulk users: status %d", resp.StatusCode())
	}
	names := make(map[int]string, len(out))
	for _, u := range out {
		names[u.ID] = u.Username
	}
	return names, nil
}
