package webhook

import (
	"context"
	"time"
)

// Reader provides read operations for events and their attempts
type Reader interface {
	Get(ctx context.Context, id string) (Event, error)
	ListByEndpoint(ctx context.Context, endpointID string, limit int) ([]Event, error)
	// ListAttempts returns attempts newest first
	ListAttempts(ctx context.Context, eventID string) ([]Attempt, error)
	// LatestAttempt returns ErrNotFound when nothing was recorded yet
	LatestAttempt(ctx context.Context, eventID string) (Attempt, error)
}

// Writer provides write operations for events and their attempts
type Writer interface {
	Create(ctx context.Context, event Event) error
	// Delete only exists to undo a failed intake
	Delete(ctx context.Context, id string) error

	/* Status writes are guarded: they return ErrTransitionDenied
	 * when the event is already delivered or failed
	 */
	MarkForwarding(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error

	/* InsertAttempt returns ErrDuplicateAttempt when the number is taken
	 * and ErrAttemptOutOfOrder when the previous number is missing
	 */
	InsertAttempt(ctx context.Context, attempt Attempt) error
}

// Sweeper finds events the delivery pipeline lost track of
type Sweeper interface {
	FindStalled(ctx context.Context, olderThan time.Time, limit int) ([]Stalled, error)
}

type Repository interface {
	Reader
	Writer
}
