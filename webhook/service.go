package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/blob"
	"github.com/marcelsud/webhook-relay/endpoint"
	"github.com/marcelsud/webhook-relay/queue"
	"github.com/rs/zerolog"
)

/* Service is the intake path
 * Uses pointer semantics as it's an API, not data
 */

// UseCase defines the operations exposed to the HTTP layer
type UseCase interface {
	Receive(ctx context.Context, apiKey, endpointID string, req Request) (string, error)
	Status(ctx context.Context, apiKey, endpointID, eventID string) (EventStatus, error)
}

/* ReceivedRecorder counts accepted events on the day they arrived.
 * UndoReceived takes back a count whose event could not be queued
 */
type ReceivedRecorder interface {
	RecordReceived(ctx context.Context, endpointID string, at time.Time)
	UndoReceived(ctx context.Context, endpointID string, at time.Time)
}

type Service struct {
	Repo       Repository
	Blobs      blob.Store
	Queue      queue.Producer
	Stats      ReceivedRecorder
	Authorizer endpoint.Authorizer

	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewService creates a new intake service with dependency injection
func NewService(repo Repository, blobs blob.Store, q queue.Producer, stats ReceivedRecorder, auth endpoint.Authorizer, log zerolog.Logger) *Service {
	return &Service{
		Repo:       repo,
		Blobs:      blobs,
		Queue:      q,
		Stats:      stats,
		Authorizer: auth,
		log:        log.With().Str("component", "intake").Logger(),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

/* Receive durably records one callback and queues its first attempt
 * The payload blob and the event row exist before the message is queued,
 * and a failure at any step leaves nothing behind
 */
func (s *Service) Receive(ctx context.Context, apiKey, endpointID string, req Request) (string, error) {
	ep, err := s.Authorizer.Authorize(ctx, apiKey, endpointID)
	if err != nil {
		return "", err
	}

	snapshot, err := NewSnapshot(req)
	if err != nil {
		return "", err
	}
	if snapshot.Method == "" {
		snapshot.Method = "POST"
	}

	now := s.now()
	id := s.newID()
	key := blob.Key(blob.Payloads, id, now)

	if err := s.Blobs.Put(ctx, key, snapshot); err != nil {
		return "", fmt.Errorf("storing payload: %w", err)
	}

	event := Event{
		ID:         id,
		EndpointID: ep.ID,
		PayloadKey: key,
		Method:     snapshot.Method,
		Headers:    snapshot.Headers,
		Status:     Pending,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	if err := s.Repo.Create(ctx, event); err != nil {
		s.discardBlob(key)
		return "", fmt.Errorf("storing event: %w", err)
	}

	// counted before the push so no outcome can be recorded ahead of its receipt
	s.Stats.RecordReceived(ctx, ep.ID, now)

	msg := queue.Webhook{Envelope: queue.Envelope{
		EventID:        id,
		EndpointID:     ep.ID,
		DestinationURL: ep.DestinationURL,
		PayloadKey:     key,
		AttemptNumber:  1,
	}}
	if err := s.Queue.Push(ctx, msg); err != nil {
		s.Stats.UndoReceived(context.WithoutCancel(ctx), ep.ID, now)
		s.discardEvent(id)
		s.discardBlob(key)
		return "", fmt.Errorf("queueing event: %w", err)
	}

	s.log.Info().Str("event_id", id).Str("endpoint_id", ep.ID).Str("method", snapshot.Method).Msg("webhook accepted")
	return id, nil
}

// Status returns an event of the endpoint together with its attempt history
func (s *Service) Status(ctx context.Context, apiKey, endpointID, eventID string) (EventStatus, error) {
	ep, err := s.Authorizer.Authorize(ctx, apiKey, endpointID)
	if err != nil {
		return EventStatus{}, err
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return EventStatus{}, ErrNotFound
	}

	event, err := s.Repo.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return EventStatus{}, ErrNotFound
		}
		return EventStatus{}, fmt.Errorf("getting event: %w", err)
	}
	if event.EndpointID != ep.ID {
		return EventStatus{}, ErrNotFound
	}

	attempts, err := s.Repo.ListAttempts(ctx, eventID)
	if err != nil {
		return EventStatus{}, fmt.Errorf("listing attempts: %w", err)
	}

	status := EventStatus{Event: event, Attempts: len(attempts)}
	if len(attempts) > 0 {
		last := attempts[0]
		status.LastAttempt = &last
	}
	return status, nil
}

// discardBlob runs detached from the request so a cancelled caller still leaves no partial record
func (s *Service) discardBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Blobs.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("blob_key", key).Msg("failed to discard payload after intake error")
	}
}

func (s *Service) discardEvent(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Repo.Delete(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("event_id", id).Msg("failed to discard event after intake error")
	}
}
