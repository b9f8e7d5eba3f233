package queue

import (
	"context"
	"time"
)

// Producer appends messages to the immediate queue
type Producer interface {
	Push(ctx context.Context, msg Message) error
}

// Reservation is a message taken from the immediate queue but not yet acknowledged
type Reservation struct {
	Message Message
	Raw     string
}

// Consumer takes messages off the immediate queue with reserve/ack semantics
type Consumer interface {
	/* Reserve blocks up to timeout for the oldest message.
	 * It returns (nil, nil) when the queue stayed empty.
	 */
	Reserve(ctx context.Context, timeout time.Duration) (*Reservation, error)
	Ack(ctx context.Context, r *Reservation) error
}

// RetrySet holds retries until they are due
type RetrySet interface {
	ScheduleRetry(ctx context.Context, msg Retry, delay time.Duration) error
	// DrainDue removes and returns every message due at or before now
	DrainDue(ctx context.Context, now time.Time) ([]Message, error)
}
