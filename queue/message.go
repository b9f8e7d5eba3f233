package queue

import (
	"encoding/json"
	"fmt"
)

/* Message is a closed set of variants: Webhook for the first delivery
 * attempt and Retry for every later one. Handle it with a type switch.
 */
type Message interface {
	Env() Envelope
	sealed()
}

// Envelope carries the fields shared by every message variant
type Envelope struct {
	EventID        string
	EndpointID     string
	DestinationURL string
	PayloadKey     string
	AttemptNumber  int
	Headers        map[string]string
}

// Webhook is the first delivery attempt for an event
type Webhook struct{ Envelope }

// Retry is a follow-up attempt scheduled after a failure
type Retry struct{ Envelope }

func (m Webhook) Env() Envelope { return m.Envelope }
func (m Retry) Env() Envelope   { return m.Envelope }
func (Webhook) sealed()         {}
func (Retry) sealed()           {}

// NextAttempt builds the retry that follows m
func NextAttempt(m Message) Retry {
	env := m.Env()
	env.AttemptNumber++
	return Retry{Envelope: env}
}

// WithAttempt returns a copy of m renumbered to attempt n, keeping its variant
func WithAttempt(m Message, n int) Message {
	switch v := m.(type) {
	case Webhook:
		v.Envelope.AttemptNumber = n
		return v
	case Retry:
		v.Envelope.AttemptNumber = n
		return v
	default:
		panic(fmt.Sprintf("queue: unknown message type %T", m))
	}
}

const (
	typeWebhook = "webhook"
	typeRetry   = "retry"
)

// wireMessage is the JSON shape shared with other relay processes
type wireMessage struct {
	Type           string            `json:"type"`
	EventID        string            `json:"eventId"`
	EndpointID     string            `json:"endpointId"`
	DestinationURL string            `json:"destinationUrl"`
	PayloadKey     string            `json:"payloadS3Key"`
	AttemptNumber  int               `json:"attemptNumber"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Encode serializes a message for the broker
func Encode(m Message) ([]byte, error) {
	var kind string
	switch m.(type) {
	case Webhook:
		kind = typeWebhook
	case Retry:
		kind = typeRetry
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}

	env := m.Env()
	data, err := json.Marshal(wireMessage{
		Type:           kind,
		EventID:        env.EventID,
		EndpointID:     env.EndpointID,
		DestinationURL: env.DestinationURL,
		PayloadKey:     env.PayloadKey,
		AttemptNumber:  env.AttemptNumber,
		Headers:        env.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	return data, nil
}

// Decode parses a message read from the broker
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}
	if w.EventID == "" {
		return nil, fmt.Errorf("message has no eventId")
	}
	if w.AttemptNumber < 1 {
		return nil, fmt.Errorf("message %s has invalid attempt number %d", w.EventID, w.AttemptNumber)
	}

	env := Envelope{
		EventID:        w.EventID,
		EndpointID:     w.EndpointID,
		DestinationURL: w.DestinationURL,
		PayloadKey:     w.PayloadKey,
		AttemptNumber:  w.AttemptNumber,
		Headers:        w.Headers,
	}
	switch w.Type {
	case typeWebhook:
		return Webhook{Envelope: env}, nil
	case typeRetry:
		return Retry{Envelope: env}, nil
	default:
		return nil, fmt.Errorf("message %s has unknown type %q", w.EventID, w.Type)
	}
}
