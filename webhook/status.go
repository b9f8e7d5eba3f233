package webhook

import "fmt"

/* Status represents the current state of a received event
 * Follows the lifecycle: Pending -> Forwarding -> Delivered/Failed
 * Forwarding repeats once per attempt; the final states never change
 */
type Status int

const (
	Pending Status = iota + 1
	Forwarding
	Delivered
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Forwarding:
		return "forwarding"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "forwarding":
		return Forwarding
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	default:
		return Pending
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed
}

// CanTransition reports whether an event in s may move to next
func (s Status) CanTransition(next Status) bool {
	if s.IsFinal() {
		return false
	}
	switch next {
	case Forwarding, Delivered, Failed:
		return true
	default:
		return false
	}
}

// AttemptStatus is the outcome of one delivery attempt
type AttemptStatus int

const (
	AttemptSuccess AttemptStatus = iota + 1
	AttemptFailed
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptSuccess:
		return "success"
	case AttemptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewAttemptStatus creates an AttemptStatus from a string
func NewAttemptStatus(str string) AttemptStatus {
	if str == "success" {
		return AttemptSuccess
	}
	return AttemptFailed
}
