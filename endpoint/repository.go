package endpoint

import "context"

// Reader provides read operations for users and endpoints
type Reader interface {
	UserByAPIKey(ctx context.Context, apiKey string) (User, error)
	Get(ctx context.Context, id string) (Endpoint, error)
	ListByUser(ctx context.Context, userID string) ([]Endpoint, error)
}

// Writer provides write operations for users and endpoints
type Writer interface {
	CreateUser(ctx context.Context, user User) error
	Create(ctx context.Context, endpoint Endpoint) error
	Update(ctx context.Context, endpoint Endpoint) error
	// Deactivate is a soft delete; events keep referencing the row
	Deactivate(ctx context.Context, id string) error
}

type Repository interface {
	Reader
	Writer
}
