package blob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Key prefixes
const (
	Payloads  = "payloads"
	Responses = "responses"
	Errors    = "errors"
)

// ErrNotFound is returned by Get when no object exists under the key
var ErrNotFound = errors.New("blob not found")

// Store keeps JSON documents that are too large for the relational store
type Store interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) error
	Delete(ctx context.Context, key string) error
}

// Key builds "<prefix>/<yyyy-mm-dd>/<id>.json" using the UTC date of at
func Key(prefix, id string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", prefix, at.UTC().Format(time.DateOnly), id)
}

// AttemptID names the response or error blob of one delivery attempt
func AttemptID(eventID string, attempt int) string {
	return fmt.Sprintf("%s-%d", eventID, attempt)
}
