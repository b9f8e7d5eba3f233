package webhook

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("event not found")
	ErrInvalidRequest    = errors.New("invalid webhook request")
	ErrTransitionDenied  = errors.New("status transition denied")
	ErrDuplicateAttempt  = errors.New("attempt already recorded")
	ErrAttemptOutOfOrder = errors.New("attempt number out of order")
)

// Event is one received callback, tracked until it reaches a final status
type Event struct {
	ID          string
	EndpointID  string
	PayloadKey  string
	Method      string
	Headers     map[string]string
	Status      Status
	ReceivedAt  time.Time
	ForwardedAt *time.Time
	UpdatedAt   time.Time
}

// Attempt is one delivery try. Rows are append-only.
type Attempt struct {
	ID           string
	EventID      string
	Number       int
	Status       AttemptStatus
	ResponseCode *int
	BlobKey      string
	ErrorMessage string
	Duration     time.Duration
	AttemptedAt  time.Time
	NextRetryAt  *time.Time
}

// EventStatus is what the status poll returns
type EventStatus struct {
	Event       Event
	Attempts    int
	LastAttempt *Attempt
}

// Stalled is a non-final event nobody has touched for a while
type Stalled struct {
	EventID        string
	EndpointID     string
	DestinationURL string
	PayloadKey     string
	LastAttempt    int // 0 when no attempt was recorded
}
