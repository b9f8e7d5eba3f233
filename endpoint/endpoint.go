package endpoint

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrMissingAPIKey = errors.New("API key required")
	ErrUnauthorized  = errors.New("invalid API key")
	ErrNotFound      = errors.New("endpoint not found")
	ErrInvalid       = errors.New("invalid endpoint")
)

// User owns endpoints and authenticates with an API key
type User struct {
	ID        string
	Email     string
	APIKey    string
	CreatedAt time.Time
}

// Endpoint is a subscriber's delivery target
type Endpoint struct {
	ID             string
	UserID         string
	Name           string
	DestinationURL string
	Secret         string // optional; deliveries are signed when set
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the fields a subscriber controls
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalid)
	}
	return ValidateDestination(e.DestinationURL)
}

// ValidateDestination accepts absolute http and https URLs only
func ValidateDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: destination url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: destination url must use http or https (got %q)", ErrInvalid, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: destination url has no host (got %q)", ErrInvalid, raw)
	}
	return nil
}

// GenerateAPIKey returns 32 random bytes, hex encoded
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
