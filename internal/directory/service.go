package directory

import "context"

// Service is the collaborator surface the core depends on.
type Service interface {
	ValidateToken(ctx context.Context, token string) (int, error)
	ExternalID(ctx context.Context, userID int) (string, error)
	ResolveExternalID(ctx context.Context, externalID string) (int, error)
	BulkUsers(ctx context.Context, ids []int) (map[int]string, error)
}

var _ Service = (*Client)(nil)
