package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/queue"
)

// ScheduledRetry is a retry waiting in the Queue's retry set
type ScheduledRetry struct {
	Message queue.Retry
	Delay   time.Duration
	Due     time.Time
}

// Queue is an in-memory immediate queue, retry set and heartbeat
type Queue struct {
	mu         sync.Mutex
	now        func() time.Time
	immediate  []queue.Message
	retries    []ScheduledRetry
	acked      int
	heartbeats []string
	cleared    bool
	recovered  int

	PushErr     error
	ScheduleErr error
	ReserveErr  error
	DrainErr    error
}

// NewQueue uses now to compute due times; nil means time.Now
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{now: now}
}

func (q *Queue) Push(_ context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.PushErr != nil {
		return q.PushErr
	}
	q.immediate = append(q.immediate, msg)
	return nil
}

func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*queue.Reservation, error) {
	q.mu.Lock()
	if q.ReserveErr != nil {
		err := q.ReserveErr
		q.mu.Unlock()
		return nil, err
	}
	if len(q.immediate) > 0 {
		msg := q.immediate[0]
		q.immediate = q.immediate[1:]
		q.mu.Unlock()
		return &queue.Reservation{Message: msg}, nil
	}
	q.mu.Unlock()

	wait := min(timeout, 10*time.Millisecond)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *Queue) Ack(context.Context, *queue.Reservation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked++
	return nil
}

// ScheduleRetry replaces an identical pending message, like ZADD
func (q *Queue) ScheduleRetry(_ context.Context, msg queue.Retry, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ScheduleErr != nil {
		return q.ScheduleErr
	}
	entry := ScheduledRetry{Message: msg, Delay: delay, Due: q.now().Add(delay)}
	for i, r := range q.retries {
		if sameRetry(r.Message, msg) {
			q.retries[i] = entry
			return nil
		}
	}
	q.retries = append(q.retries, entry)
	return nil
}

func sameRetry(a, b queue.Retry) bool {
	return a.EventID == b.EventID && a.AttemptNumber == b.AttemptNumber
}

func (q *Queue) DrainDue(_ context.Context, now time.Time) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.DrainErr != nil {
		return nil, q.DrainErr
	}
	var due []queue.Message
	rest := q.retries[:0]
	for _, r := range q.retries {
		if !r.Due.After(now) {
			due = append(due, r.Message)
		} else {
			rest = append(rest, r)
		}
	}
	q.retries = rest
	return due, nil
}

func (q *Queue) SetHeartbeat(_ context.Context, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heartbeats = append(q.heartbeats, status)
	return nil
}

func (q *Queue) ClearHeartbeat(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleared = true
	return nil
}

// RecoverOrphaned reports SetRecovered's count once
func (q *Queue) RecoverOrphaned(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.recovered
	q.recovered = 0
	return n, nil
}

func (q *Queue) SetRecovered(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recovered = n
}

// Pushed returns the messages waiting in the immediate queue
func (q *Queue) Pushed() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Message(nil), q.immediate...)
}

// Retries returns the pending retries
func (q *Queue) Retries() []ScheduledRetry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ScheduledRetry(nil), q.retries...)
}

func (q *Queue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *Queue) Heartbeats() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.heartbeats...)
}

func (q *Queue) HeartbeatCleared() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cleared
}
