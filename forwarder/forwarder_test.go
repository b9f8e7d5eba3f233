package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/blob"
	"github.com/marcelsud/webhook-relay/internal/testutil"
	"github.com/marcelsud/webhook-relay/queue"
	"github.com/marcelsud/webhook-relay/stats"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/signature"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// destination is an httptest server answering with a scripted list of status codes
type destination struct {
	*httptest.Server

	mu       sync.Mutex
	codes    []int
	requests []*http.Request
	bodies   [][]byte
}

func newDestination(t *testing.T, codes ...int) *destination {
	d := &destination{codes: codes}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		d.mu.Lock()
		n := len(d.requests)
		d.requests = append(d.requests, r)
		d.bodies = append(d.bodies, body)
		code := d.codes[len(d.codes)-1]
		if n < len(d.codes) {
			code = d.codes[n]
		}
		d.mu.Unlock()

		w.Header().Set("X-Destination", "test")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *destination) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *destination) request(i int) (*http.Request, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[i], d.bodies[i]
}

type secrets map[string]string

func (s secrets) SigningSecret(_ context.Context, endpointID string) (string, error) {
	return s[endpointID], nil
}

type harness struct {
	events *testutil.EventStore
	blobs  *testutil.BlobStore
	queue  *testutil.Queue
	stats  *testutil.StatsStore
	clock  *testutil.FakeClock
	fwd    *Forwarder
}

var start = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newHarness(cfg Config) *harness {
	h := &harness{
		events: testutil.NewEventStore(),
		blobs:  testutil.NewBlobStore(),
		stats:  testutil.NewStatsStore(),
		clock:  testutil.NewFakeClock(start),
	}
	h.queue = testutil.NewQueue(h.clock.Now)
	h.fwd = New(cfg, h.events, h.blobs, h.queue, NewHTTPSender(nil),
		stats.NewAggregator(h.stats, zerolog.Nop()), zerolog.Nop())
	h.fwd.now = h.clock.Now
	return h
}

// seed stores an event with a JSON payload and returns its first message
func (h *harness) seed(t *testing.T, id, url string) queue.Webhook {
	t.Helper()
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Custom", "kept")
	headers.Set("Host", "evil.example")
	headers.Set("Content-Length", "999")
	headers.Set("Connection", "close")

	snap, err := webhook.NewSnapshot(webhook.Request{
		Method:  http.MethodPost,
		Headers: headers,
		Body:    []byte(`{"order":42}`),
	})
	require.NoError(t, err)

	key := blob.Key(blob.Payloads, id, start)
	require.NoError(t, h.blobs.Put(context.Background(), key, snap))
	require.NoError(t, h.events.Create(context.Background(), webhook.Event{
		ID:         id,
		EndpointID: "ep-1",
		PayloadKey: key,
		Method:     http.MethodPost,
		Headers:    snap.Headers,
		Status:     webhook.Pending,
		ReceivedAt: start,
		UpdatedAt:  start,
	}))

	return queue.Webhook{Envelope: queue.Envelope{
		EventID:        id,
		EndpointID:     "ep-1",
		DestinationURL: url,
		PayloadKey:     key,
		AttemptNumber:  1,
	}}
}

// runRetries advances the clock past every pending retry and forwards what is due
func (h *harness) runRetries(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for {
		pending := h.queue.Retries()
		if len(pending) == 0 {
			return
		}
		h.clock.Advance(pending[0].Delay)
		due, err := h.queue.DrainDue(ctx, h.clock.Now())
		require.NoError(t, err)
		for _, msg := range due {
			require.NoError(t, h.fwd.Forward(ctx, msg))
		}
	}
}

func (h *harness) todayStats(t *testing.T) stats.Stats {
	t.Helper()
	s, err := h.stats.Get(context.Background(), "ep-1", stats.Day(time.Now()))
	require.NoError(t, err)
	return s
}

func TestConfig_Delay(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.Delay(1))
	assert.Equal(t, 10*time.Minute, cfg.Delay(2))
	assert.Equal(t, 20*time.Minute, cfg.Delay(3))

	cfg = Config{BaseDelay: time.Second, Backoff: 3}
	assert.Equal(t, 9*time.Second, cfg.Delay(3))
	assert.Equal(t, time.Second, cfg.Delay(0))
}

func TestForward_RetriesUntilDelivered(t *testing.T) {
	dest := newDestination(t, 500, 500, 200)
	h := newHarness(testConfig())
	msg := h.seed(t, "evt-1", dest.URL)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))

	retries := h.queue.Retries()
	require.Len(t, retries, 1)
	assert.Equal(t, 2, retries[0].Message.AttemptNumber)
	assert.Equal(t, 5*time.Minute, retries[0].Delay)
	assert.Equal(t, webhook.Forwarding, h.events.Event("evt-1").Status)

	h.runRetries(t)

	assert.Equal(t, 3, dest.calls())
	attempts := h.events.Attempts("evt-1")
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		require.NotNil(t, a.ResponseCode)
	}
	assert.Equal(t, webhook.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "HTTP 500", attempts[0].ErrorMessage)
	require.NotNil(t, attempts[0].NextRetryAt)
	assert.Equal(t, start.Add(5*time.Minute), *attempts[0].NextRetryAt)
	require.NotNil(t, attempts[1].NextRetryAt)
	assert.Equal(t, start.Add(15*time.Minute), *attempts[1].NextRetryAt)
	assert.Equal(t, webhook.AttemptSuccess, attempts[2].Status)
	assert.Nil(t, attempts[2].NextRetryAt)

	event := h.events.Event("evt-1")
	assert.Equal(t, webhook.Delivered, event.Status)
	require.NotNil(t, event.ForwardedAt)

	s := h.todayStats(t)
	assert.Equal(t, 1, s.TotalDelivered)
	assert.Equal(t, 0, s.TotalFailed)
}

func TestForward_FailsAfterMaxAttempts(t *testing.T) {
	dest := newDestination(t, 503)
	h := newHarness(testConfig())
	msg := h.seed(t, "evt-1", dest.URL)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))
	h.runRetries(t)

	assert.Equal(t, 3, dest.calls())
	attempts := h.events.Attempts("evt-1")
	require.Len(t, attempts, 3)
	assert.Nil(t, attempts[2].NextRetryAt)
	assert.Equal(t, webhook.Failed, h.events.Event("evt-1").Status)
	assert.Empty(t, h.queue.Retries())

	s := h.todayStats(t)
	assert.Equal(t, 0, s.TotalDelivered)
	assert.Equal(t, 1, s.TotalFailed)
}

func TestForward_TransportError(t *testing.T) {
	dest := newDestination(t, 200)
	url := dest.URL
	dest.Close()

	h := newHarness(testConfig())
	msg := h.seed(t, "evt-1", url)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))

	attempts := h.events.Attempts("evt-1")
	require.Len(t, attempts, 1)
	assert.Nil(t, attempts[0].ResponseCode)
	assert.Contains(t, attempts[0].ErrorMessage, "transport")
	assert.Equal(t, "errors/2024-03-09/evt-1-1.json", attempts[0].BlobKey)

	raw, ok := h.blobs.Raw(attempts[0].BlobKey)
	require.True(t, ok)
	var record errorRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.NotEmpty(t, record.Chain)
	assert.Equal(t, start, record.Timestamp)

	require.Len(t, h.queue.Retries(), 1)
}

func TestForward_ReplaysExactBody(t *testing.T) {
	dest := newDestination(t, 200)
	h := newHarness(testConfig())
	msg := h.seed(t, "evt-1", dest.URL)

	raw := []byte("{\n  \"note\": \"<b>&amp;</b>\",\n  \"n\": 1.50\n}")
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	snap, err := webhook.NewSnapshot(webhook.Request{Method: http.MethodPost, Headers: headers, Body: raw})
	require.NoError(t, err)
	require.NoError(t, h.blobs.Put(context.Background(), msg.PayloadKey, snap))

	require.NoError(t, h.fwd.Forward(context.Background(), msg))

	_, body := dest.request(0)
	assert.Equal(t, raw, body)
}

func TestForward_OutboundRequest(t *testing.T) {
	dest := newDestination(t, 201)
	h := newHarness(testConfig())
	msg := h.seed(t, "evt-1", dest.URL)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))

	require.Equal(t, 1, dest.calls())
	r, body := dest.request(0)
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, `{"order":42}`, string(body))
	assert.Equal(t, "WebhookRelay/1.0", r.Header.Get("User-Agent"))
	assert.Equal(t, "evt-1", r.Header.Get(HeaderEventID))
	assert.Equal(t, "1", r.Header.Get(HeaderAttempt))
	assert.Equal(t, "kept", r.Header.Get("X-Custom"))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.NotEqual(t, "evil.example", r.Host)
	assert.Empty(t, r.Header.Get(signature.HeaderSignature))

	attempts := h.events.Attempts("evt-1")
	require.Len(t, attempts, 1)
	assert.Equal(t, "responses/2024-03-09/evt-1-1.json", attempts[0].BlobKey)

	raw, ok := h.blobs.Raw(attempts[0].BlobKey)
	require.True(t, ok)
	var record responseRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, 201, record.StatusCode)
	assert.Equal(t, `{"ok":true}`, record.Body)
	assert.Equal(t, "test", record.Headers["x-destination"])
}

func TestForward_SignsWhenEndpointHasSecret(t *testing.T) {
	secret, err := signature.GenerateSecret(32)
	require.NoError(t, err)

	dest := newDestination(t, 200)
	h := newHarness(testConfig())
	h.fwd.WithSecrets(secrets{"ep-1": secret.String()})
	msg := h.seed(t, "evt-1", dest.URL)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))

	r, body := dest.request(0)
	assert.Equal(t, "evt-1", r.Header.Get(signature.HeaderID))
	ok, err := signature.VerifyRequest(secret, r.Header, body)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForward_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("replayed delivered message does not call again", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)

		require.NoError(t, h.fwd.Forward(ctx, msg))
		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Equal(t, 1, dest.calls())
		assert.Len(t, h.events.Attempts("evt-1"), 1)
		assert.Equal(t, 1, h.todayStats(t).TotalDelivered)
	})

	t.Run("recorded failure is rescheduled without calling", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		require.NoError(t, h.events.MarkForwarding(ctx, "evt-1"))
		next := start.Add(2 * time.Minute)
		require.NoError(t, h.events.InsertAttempt(ctx, webhook.Attempt{
			EventID: "evt-1", Number: 1, Status: webhook.AttemptFailed, AttemptedAt: start, NextRetryAt: &next,
		}))

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		retries := h.queue.Retries()
		require.Len(t, retries, 1)
		assert.Equal(t, 2, retries[0].Message.AttemptNumber)
		assert.Equal(t, 2*time.Minute, retries[0].Delay)
	})

	t.Run("recorded success is finalized without calling", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		require.NoError(t, h.events.MarkForwarding(ctx, "evt-1"))
		require.NoError(t, h.events.InsertAttempt(ctx, webhook.Attempt{
			EventID: "evt-1", Number: 1, Status: webhook.AttemptSuccess, AttemptedAt: start, Duration: 80 * time.Millisecond,
		}))

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		assert.Equal(t, webhook.Delivered, h.events.Event("evt-1").Status)
		assert.Equal(t, 80, h.todayStats(t).AvgResponseTimeMs)
	})

	t.Run("stale message is ignored", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		for n := 1; n <= 2; n++ {
			require.NoError(t, h.events.InsertAttempt(ctx, webhook.Attempt{
				EventID: "evt-1", Number: n, Status: webhook.AttemptFailed, AttemptedAt: start,
			}))
		}

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		assert.Empty(t, h.queue.Retries())
		assert.Len(t, h.events.Attempts("evt-1"), 2)
	})

	t.Run("message ahead of history is renumbered", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)

		require.NoError(t, h.fwd.Forward(ctx, queue.Retry{Envelope: queue.WithAttempt(msg, 3).Env()}))

		r, _ := dest.request(0)
		assert.Equal(t, "1", r.Header.Get(HeaderAttempt))
		attempts := h.events.Attempts("evt-1")
		require.Len(t, attempts, 1)
		assert.Equal(t, 1, attempts[0].Number)
	})

	t.Run("final event is skipped", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		require.NoError(t, h.events.MarkFailed(ctx, "evt-1"))

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		assert.Empty(t, h.events.Attempts("evt-1"))
	})
}

func TestForward_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown event is dropped", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())

		err := h.fwd.Forward(ctx, queue.Webhook{Envelope: queue.Envelope{EventID: "nope", AttemptNumber: 1, DestinationURL: dest.URL}})

		require.NoError(t, err)
		assert.Zero(t, dest.calls())
	})

	t.Run("event lookup failure is returned", func(t *testing.T) {
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", "http://127.0.0.1:1")
		h.events.Err["Get"] = errors.New("db down")

		err := h.fwd.Forward(ctx, msg)

		assert.ErrorContains(t, err, "db down")
	})

	t.Run("mark forwarding failure records a failed attempt without calling", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		h.events.Err["MarkForwarding"] = errors.New("db down")

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		attempts := h.events.Attempts("evt-1")
		require.Len(t, attempts, 1)
		assert.Contains(t, attempts[0].ErrorMessage, "marking forwarding")
		assert.Len(t, h.queue.Retries(), 1)
	})

	t.Run("missing payload becomes a failed attempt", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		require.NoError(t, h.blobs.Delete(ctx, msg.PayloadKey))

		require.NoError(t, h.fwd.Forward(ctx, msg))

		assert.Zero(t, dest.calls())
		attempts := h.events.Attempts("evt-1")
		require.Len(t, attempts, 1)
		assert.Contains(t, attempts[0].ErrorMessage, "loading payload")
		assert.True(t, strings.HasPrefix(attempts[0].BlobKey, "errors/"))
	})

	t.Run("retry scheduling failure is returned", func(t *testing.T) {
		dest := newDestination(t, 500)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		h.queue.ScheduleErr = errors.New("redis down")

		err := h.fwd.Forward(ctx, msg)

		assert.ErrorContains(t, err, "redis down")
		assert.Len(t, h.events.Attempts("evt-1"), 1)
	})

	t.Run("cancelled caller still records the attempt", func(t *testing.T) {
		dest := newDestination(t, 200)
		h := newHarness(testConfig())
		msg := h.seed(t, "evt-1", dest.URL)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		require.NoError(t, h.fwd.Forward(cancelled, msg))

		assert.Equal(t, 1, dest.calls())
		assert.Equal(t, webhook.Delivered, h.events.Event("evt-1").Status)
	})
}

type recordingSink struct {
	mu       sync.Mutex
	classes  []string
	outcomes []string
	retries  int
	inFlight int
}

func (s *recordingSink) AttemptCompleted(_ int, class string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes = append(s.classes, class)
}

func (s *recordingSink) Outcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func (s *recordingSink) RetryScheduled(int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

func (s *recordingSink) InFlightIncr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
}

func (s *recordingSink) InFlightDecr() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

func TestForward_Metrics(t *testing.T) {
	dest := newDestination(t, 500, 200)
	h := newHarness(testConfig())
	sink := &recordingSink{}
	h.fwd.WithMetrics(sink)
	msg := h.seed(t, "evt-1", dest.URL)

	require.NoError(t, h.fwd.Forward(context.Background(), msg))
	h.runRetries(t)

	assert.Equal(t, []string{"5xx", "2xx"}, sink.classes)
	assert.Equal(t, []string{"delivered"}, sink.outcomes)
	assert.Equal(t, 1, sink.retries)
	assert.Zero(t, sink.inFlight)
}
