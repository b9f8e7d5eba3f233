package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-relay/webhook"
)

// EventStore is an in-memory webhook.Repository and webhook.Sweeper with the
// same guards as the SQL implementation
type EventStore struct {
	mu       sync.Mutex
	events   map[string]webhook.Event
	attempts map[string][]webhook.Attempt
	dests    map[string]string

	// Err, when set, is returned by the named method instead of running it
	Err map[string]error
}

func NewEventStore() *EventStore {
	return &EventStore{
		events:   make(map[string]webhook.Event),
		attempts: make(map[string][]webhook.Attempt),
		dests:    make(map[string]string),
		Err:      make(map[string]error),
	}
}

// SetDestination registers the URL FindStalled reports for an endpoint
func (s *EventStore) SetDestination(endpointID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dests[endpointID] = url
}

func (s *EventStore) fail(method string) error {
	return s.Err[method]
}

func (s *EventStore) Create(_ context.Context, e webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Create"); err != nil {
		return err
	}
	s.events[e.ID] = e
	return nil
}

func (s *EventStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return webhook.ErrNotFound
	}
	delete(s.events, id)
	delete(s.attempts, id)
	return nil
}

func (s *EventStore) Get(_ context.Context, id string) (webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Get"); err != nil {
		return webhook.Event{}, err
	}
	e, ok := s.events[id]
	if !ok {
		return webhook.Event{}, webhook.ErrNotFound
	}
	return e, nil
}

func (s *EventStore) ListByEndpoint(_ context.Context, endpointID string, limit int) ([]webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []webhook.Event
	for _, e := range s.events {
		if e.EndpointID == endpointID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) ListAttempts(_ context.Context, eventID string) ([]webhook.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.attempts[eventID]
	out := make([]webhook.Attempt, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *EventStore) LatestAttempt(_ context.Context, eventID string) (webhook.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LatestAttempt"); err != nil {
		return webhook.Attempt{}, err
	}
	list := s.attempts[eventID]
	if len(list) == 0 {
		return webhook.Attempt{}, webhook.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *EventStore) transition(method, id string, apply func(*webhook.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(method); err != nil {
		return err
	}
	e, ok := s.events[id]
	if !ok {
		return webhook.ErrNotFound
	}
	if e.Status.IsFinal() {
		return webhook.ErrTransitionDenied
	}
	apply(&e)
	e.UpdatedAt = time.Now()
	s.events[id] = e
	return nil
}

func (s *EventStore) MarkForwarding(_ context.Context, id string) error {
	return s.transition("MarkForwarding", id, func(e *webhook.Event) { e.Status = webhook.Forwarding })
}

func (s *EventStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	return s.transition("MarkDelivered", id, func(e *webhook.Event) {
		e.Status = webhook.Delivered
		if e.ForwardedAt == nil {
			e.ForwardedAt = &at
		}
	})
}

func (s *EventStore) MarkFailed(_ context.Context, id string) error {
	return s.transition("MarkFailed", id, func(e *webhook.Event) { e.Status = webhook.Failed })
}

func (s *EventStore) InsertAttempt(_ context.Context, a webhook.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertAttempt"); err != nil {
		return err
	}
	list := s.attempts[a.EventID]
	switch {
	case a.Number <= len(list):
		return webhook.ErrDuplicateAttempt
	case a.Number != len(list)+1:
		return webhook.ErrAttemptOutOfOrder
	}
	s.attempts[a.EventID] = append(list, a)
	return nil
}

func (s *EventStore) FindStalled(_ context.Context, olderThan time.Time, limit int) ([]webhook.Stalled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindStalled"); err != nil {
		return nil, err
	}

	var out []webhook.Stalled
	for _, e := range s.events {
		if e.Status.IsFinal() || !e.UpdatedAt.Before(olderThan) {
			continue
		}
		last := 0
		if list := s.attempts[e.ID]; len(list) > 0 {
			a := list[len(list)-1]
			if a.NextRetryAt != nil && !a.NextRetryAt.Before(olderThan) {
				continue
			}
			last = a.Number
		}
		out = append(out, webhook.Stalled{
			EventID:        e.ID,
			EndpointID:     e.EndpointID,
			DestinationURL: s.dests[e.EndpointID],
			PayloadKey:     e.PayloadKey,
			LastAttempt:    last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Event returns the stored event, the zero value when missing
func (s *EventStore) Event(id string) webhook.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

// Attempts returns the recorded attempts oldest first
func (s *EventStore) Attempts(eventID string) []webhook.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webhook.Attempt(nil), s.attempts[eventID]...)
}
