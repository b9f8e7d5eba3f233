package endpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Authorizer resolves an API key to an endpoint the caller may post to
type Authorizer interface {
	Authorize(ctx context.Context, apiKey, endpointID string) (Endpoint, error)
}

// UseCase defines endpoint management operations
type UseCase interface {
	Authorizer
	RegisterUser(ctx context.Context, email string) (User, error)
	Register(ctx context.Context, userID, name, destinationURL, secret string) (Endpoint, error)
	Update(ctx context.Context, endpoint Endpoint) (Endpoint, error)
	Deactivate(ctx context.Context, id string) error
	SigningSecret(ctx context.Context, endpointID string) (string, error)
}

type Service struct {
	Repo Repository
	now  func() time.Time
}

// NewService creates a new endpoint service
func NewService(repo Repository) *Service {
	return &Service{
		Repo: repo,
		now:  time.Now,
	}
}

/* Authorize maps failures onto the intake contract:
 * missing key and unknown key are authentication failures,
 * an absent, inactive or foreign endpoint is not found
 */
func (s *Service) Authorize(ctx context.Context, apiKey, endpointID string) (Endpoint, error) {
	if apiKey == "" {
		return Endpoint{}, ErrMissingAPIKey
	}

	user, err := s.Repo.UserByAPIKey(ctx, apiKey)
	if errors.Is(err, ErrNotFound) {
		return Endpoint{}, ErrUnauthorized
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("resolving api key: %w", err)
	}

	// ids are uuids in the store; anything else cannot name an endpoint
	if _, err := uuid.Parse(endpointID); err != nil {
		return Endpoint{}, ErrNotFound
	}

	ep, err := s.Repo.Get(ctx, endpointID)
	if errors.Is(err, ErrNotFound) {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("getting endpoint: %w", err)
	}
	if ep.UserID != user.ID || !ep.IsActive {
		return Endpoint{}, ErrNotFound
	}
	return ep, nil
}

// RegisterUser creates a user with a freshly generated API key
func (s *Service) RegisterUser(ctx context.Context, email string) (User, error) {
	if email == "" {
		return User{}, fmt.Errorf("%w: email cannot be empty", ErrInvalid)
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:        uuid.New().String(),
		Email:     email,
		APIKey:    key,
		CreatedAt: s.now(),
	}
	if err := s.Repo.CreateUser(ctx, user); err != nil {
		return User{}, fmt.Errorf("storing user: %w", err)
	}
	return user, nil
}

// Register creates an active endpoint for userID
func (s *Service) Register(ctx context.Context, userID, name, destinationURL, secret string) (Endpoint, error) {
	now := s.now()
	ep := Endpoint{
		ID:             uuid.New().String(),
		UserID:         userID,
		Name:           name,
		DestinationURL: destinationURL,
		Secret:         secret,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	if err := s.Repo.Create(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("storing endpoint: %w", err)
	}
	return ep, nil
}

// Update replaces name, destination, secret and active flag
func (s *Service) Update(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	ep.UpdatedAt = s.now()
	if err := s.Repo.Update(ctx, ep); err != nil {
		return Endpoint{}, fmt.Errorf("updating endpoint: %w", err)
	}
	return ep, nil
}

// Deactivate stops intake for the endpoint
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.Repo.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivating endpoint: %w", err)
	}
	return nil
}

// SigningSecret returns the endpoint's shared secret, empty when none is set
func (s *Service) SigningSecret(ctx context.Context, endpointID string) (string, error) {
	ep, err := s.Repo.Get(ctx, endpointID)
	if err != nil {
		return "", fmt.Errorf("getting endpoint: %w", err)
	}
	return ep.Secret, nil
}
