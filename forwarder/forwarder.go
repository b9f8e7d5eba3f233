package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-relay/blob"
	"github.com/marcelsud/webhook-relay/queue"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/signature"
	"github.com/rs/zerolog"
)

const userAgent = "WebhookRelay/1.0"

const (
	HeaderEventID = "X-Webhook-Event-Id"
	HeaderAttempt = "X-Webhook-Attempt"
)

// hopByHop headers are owned by the outbound connection, not the original request
var hopByHop = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"accept-encoding":   true,
	"transfer-encoding": true,
	"keep-alive":        true,
	"upgrade":           true,
	"te":                true,
	"trailer":           true,
}

// EventStore is the part of the event repository the forwarder writes through.
// Status writes return webhook.ErrTransitionDenied once the event is final.
type EventStore interface {
	Get(ctx context.Context, id string) (webhook.Event, error)
	LatestAttempt(ctx context.Context, eventID string) (webhook.Attempt, error)
	MarkForwarding(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	InsertAttempt(ctx context.Context, attempt webhook.Attempt) error
}

// SecretSource returns the endpoint's signing secret, empty for unsigned endpoints
type SecretSource interface {
	SigningSecret(ctx context.Context, endpointID string) (string, error)
}

// OutcomeRecorder receives one call per event that reached a final status
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, endpointID string, success bool, duration time.Duration)
}

// MetricsSink must not block
type MetricsSink interface {
	AttemptCompleted(attempt int, statusClass string, duration time.Duration)
	Outcome(outcome string)
	RetryScheduled(attempt int)
	InFlightIncr()
	InFlightDecr()
}

type Forwarder struct {
	cfg     Config
	events  EventStore
	blobs   blob.Store
	retries queue.RetrySet
	sender  Sender
	stats   OutcomeRecorder
	secrets SecretSource // optional, nil = never sign
	metrics MetricsSink  // optional, nil = disabled
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
}

func New(cfg Config, events EventStore, blobs blob.Store, retries queue.RetrySet, sender Sender, stats OutcomeRecorder, log zerolog.Logger) *Forwarder {
	return &Forwarder{
		cfg:     cfg,
		events:  events,
		blobs:   blobs,
		retries: retries,
		sender:  sender,
		stats:   stats,
		log:     log.With().Str("component", "forwarder").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// WithSecrets enables signing for endpoints that have a secret
func (f *Forwarder) WithSecrets(s SecretSource) *Forwarder {
	f.secrets = s
	return f
}

func (f *Forwarder) WithMetrics(m MetricsSink) *Forwarder {
	f.metrics = m
	return f
}

// outcome of one outbound call; resp is nil when no response was received
type outcome struct {
	resp     *Response
	err      error
	duration time.Duration
}

func (o outcome) success() bool {
	return o.err == nil && o.resp != nil && o.resp.IsSuccess()
}

func (o outcome) responseCode() *int {
	if o.resp == nil {
		return nil
	}
	code := o.resp.StatusCode
	return &code
}

func (o outcome) errorMessage() string {
	switch {
	case o.err != nil:
		return o.err.Error()
	case o.resp != nil && !o.resp.IsSuccess():
		return "HTTP " + strconv.Itoa(o.resp.StatusCode)
	default:
		return ""
	}
}

/* Forward makes at most one delivery attempt for msg.
 * Replays are safe: a message for a final event, an older attempt or an
 * attempt already recorded never calls the destination again.
 * The returned error means the message could not be driven further.
 */
func (f *Forwarder) Forward(ctx context.Context, msg queue.Message) error {
	// an attempt that started always records its outcome
	ctx = context.WithoutCancel(ctx)

	env := msg.Env()
	log := f.log.With().Str("event_id", env.EventID).Int("attempt", env.AttemptNumber).Logger()

	event, err := f.events.Get(ctx, env.EventID)
	if errors.Is(err, webhook.ErrNotFound) {
		log.Warn().Msg("dropping message for unknown event")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading event %s: %w", env.EventID, err)
	}
	if event.Status.IsFinal() {
		log.Debug().Str("status", event.Status.String()).Msg("event already final, skipping")
		return nil
	}

	latest := 0
	last, err := f.events.LatestAttempt(ctx, env.EventID)
	switch {
	case err == nil:
		latest = last.Number
	case errors.Is(err, webhook.ErrNotFound):
	default:
		return fmt.Errorf("loading latest attempt of %s: %w", env.EventID, err)
	}

	switch n := env.AttemptNumber; {
	case n < latest:
		log.Debug().Int("latest", latest).Msg("stale message, skipping")
		return nil
	case n == latest:
		return f.resume(ctx, msg, last, log)
	case n > latest+1:
		log.Warn().Int("latest", latest).Msg("attempt number ahead of history, renumbering")
		msg = queue.WithAttempt(msg, latest+1)
	}

	return f.attempt(ctx, msg, log)
}

// resume drives an event whose attempt was recorded but whose follow-up may not have happened
func (f *Forwarder) resume(ctx context.Context, msg queue.Message, last webhook.Attempt, log zerolog.Logger) error {
	env := msg.Env()
	switch {
	case last.Status == webhook.AttemptSuccess:
		f.finish(ctx, env, true, last.Duration, last.AttemptedAt, log)
		return nil
	case last.Number >= f.cfg.MaxAttempts:
		f.finish(ctx, env, false, last.Duration, last.AttemptedAt, log)
		return nil
	}

	delay := f.cfg.Delay(last.Number)
	if last.NextRetryAt != nil {
		delay = max(last.NextRetryAt.Sub(f.now()), 0)
	}
	log.Info().Dur("delay", delay).Msg("attempt already recorded, rescheduling follow-up")
	return f.scheduleRetry(ctx, msg, delay, log)
}

func (f *Forwarder) attempt(ctx context.Context, msg queue.Message, log zerolog.Logger) error {
	if f.metrics != nil {
		f.metrics.InFlightIncr()
		defer f.metrics.InFlightDecr()
	}

	env := msg.Env()
	n := env.AttemptNumber

	var out outcome
	err := f.events.MarkForwarding(ctx, env.EventID)
	switch {
	case errors.Is(err, webhook.ErrTransitionDenied):
		log.Debug().Msg("event became final, skipping")
		return nil
	case err != nil:
		out = outcome{err: fmt.Errorf("marking forwarding: %w", err)}
	default:
		out = f.deliver(ctx, env)
	}

	at := f.now()
	success := out.success()
	retry := !success && n < f.cfg.MaxAttempts

	attempt := webhook.Attempt{
		ID:           f.newID(),
		EventID:      env.EventID,
		Number:       n,
		Status:       webhook.AttemptFailed,
		ResponseCode: out.responseCode(),
		BlobKey:      f.storeResult(ctx, env, n, out, at, log),
		ErrorMessage: out.errorMessage(),
		Duration:     out.duration,
		AttemptedAt:  at,
	}
	if success {
		attempt.Status = webhook.AttemptSuccess
	}
	var delay time.Duration
	if retry {
		delay = f.cfg.Delay(n)
		next := at.Add(delay)
		attempt.NextRetryAt = &next
	}

	if err := f.events.InsertAttempt(ctx, attempt); err != nil {
		if errors.Is(err, webhook.ErrDuplicateAttempt) {
			log.Warn().Msg("attempt recorded concurrently, leaving follow-up to its owner")
			return nil
		}
		log.Error().Err(err).Msg("failed to record attempt")
	}

	if f.metrics != nil {
		f.metrics.AttemptCompleted(n, classifyStatus(out), out.duration)
	}

	ev := log.Info()
	if code := attempt.ResponseCode; code != nil {
		ev = ev.Int("status_code", *code)
	}
	ev.Bool("success", success).Dur("duration", out.duration).Str("error", attempt.ErrorMessage).Msg("delivery attempt finished")

	switch {
	case success:
		f.finish(ctx, env, true, out.duration, at, log)
	case retry:
		return f.scheduleRetry(ctx, msg, delay, log)
	default:
		f.finish(ctx, env, false, out.duration, at, log)
	}
	return nil
}

// deliver loads the payload and calls the destination
func (f *Forwarder) deliver(ctx context.Context, env queue.Envelope) outcome {
	var snap webhook.Snapshot
	if err := f.blobs.Get(ctx, env.PayloadKey, &snap); err != nil {
		return outcome{err: fmt.Errorf("loading payload %s: %w", env.PayloadKey, err)}
	}
	body, err := snap.BodyBytes()
	if err != nil {
		return outcome{err: err}
	}

	headers, err := f.outboundHeaders(ctx, env, snap, body)
	if err != nil {
		return outcome{err: err}
	}

	method := snap.Method
	if method == "" {
		method = "POST"
	}

	resp, err := f.sender.Send(ctx, Request{
		Method:  method,
		URL:     env.DestinationURL,
		Headers: headers,
		Body:    body,
		Timeout: f.cfg.Timeout,
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return outcome{err: err, duration: te.Duration}
		}
		return outcome{err: err}
	}
	return outcome{resp: &resp, duration: resp.Duration}
}

func (f *Forwarder) outboundHeaders(ctx context.Context, env queue.Envelope, snap webhook.Snapshot, body []byte) (map[string]string, error) {
	source := snap.Headers
	if len(source) == 0 {
		source = env.Headers
	}

	headers := make(map[string]string, len(source)+6)
	for k, v := range source {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		headers[k] = v
	}
	headers["User-Agent"] = userAgent
	headers[HeaderEventID] = env.EventID
	headers[HeaderAttempt] = strconv.Itoa(env.AttemptNumber)

	if f.secrets == nil {
		return headers, nil
	}
	raw, err := f.secrets.SigningSecret(ctx, env.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("loading signing secret: %w", err)
	}
	if raw == "" {
		return headers, nil
	}
	secret, err := signature.ResolveSecret(raw)
	if err != nil {
		return nil, fmt.Errorf("resolving signing secret: %w", err)
	}
	signed, err := signature.Headers(secret, env.EventID, f.now(), body)
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}
	for k, v := range signed {
		headers[k] = v
	}
	return headers, nil
}

type responseRecord struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Duration   int64             `json:"duration"`
}

type errorRecord struct {
	Error     string    `json:"error"`
	Chain     []string  `json:"chain"`
	Timestamp time.Time `json:"timestamp"`
}

// storeResult writes the response or error blob and returns its key, empty when the write failed
func (f *Forwarder) storeResult(ctx context.Context, env queue.Envelope, n int, out outcome, at time.Time, log zerolog.Logger) string {
	id := blob.AttemptID(env.EventID, n)

	var (
		key   string
		value any
	)
	if out.resp != nil {
		key = blob.Key(blob.Responses, id, at)
		value = responseRecord{
			StatusCode: out.resp.StatusCode,
			Headers:    out.resp.Headers,
			Body:       out.resp.Body,
			Duration:   out.duration.Milliseconds(),
		}
	} else {
		key = blob.Key(blob.Errors, id, at)
		value = errorRecord{
			Error:     out.errorMessage(),
			Chain:     errorChain(out.err),
			Timestamp: at,
		}
	}

	if err := f.blobs.Put(ctx, key, value); err != nil {
		log.Error().Err(err).Str("blob_key", key).Msg("failed to store attempt result")
		return ""
	}
	return key
}

func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}

func (f *Forwarder) scheduleRetry(ctx context.Context, msg queue.Message, delay time.Duration, log zerolog.Logger) error {
	next := queue.NextAttempt(msg)
	if err := f.retries.ScheduleRetry(ctx, next, delay); err != nil {
		return fmt.Errorf("scheduling attempt %d of %s: %w", next.AttemptNumber, next.EventID, err)
	}
	if f.metrics != nil {
		f.metrics.RetryScheduled(next.AttemptNumber)
	}
	log.Info().Int("next_attempt", next.AttemptNumber).Dur("delay", delay).Msg("retry scheduled")
	return nil
}

// finish moves the event to its final status; stats count only the transition that applied
func (f *Forwarder) finish(ctx context.Context, env queue.Envelope, success bool, duration time.Duration, at time.Time, log zerolog.Logger) {
	var err error
	if success {
		err = f.events.MarkDelivered(ctx, env.EventID, at)
	} else {
		err = f.events.MarkFailed(ctx, env.EventID)
	}

	switch {
	case errors.Is(err, webhook.ErrTransitionDenied):
		log.Debug().Msg("event already final")
		return
	case err != nil:
		log.Error().Err(err).Bool("success", success).Msg("failed to finalize event")
		return
	}

	f.stats.RecordOutcome(ctx, env.EndpointID, success, duration)

	result := "failed"
	if success {
		result = "delivered"
	}
	if f.metrics != nil {
		f.metrics.Outcome(result)
	}
	log.Info().Str("outcome", result).Msg("event finalized")
}

// classifyStatus maps an outcome to a metrics status class
func classifyStatus(out outcome) string {
	if out.resp == nil {
		var netErr net.Error
		switch {
		case out.err == nil:
			return "other_error"
		case errors.Is(out.err, context.DeadlineExceeded), errors.As(out.err, &netErr) && netErr.Timeout():
			return "timeout"
		case errors.As(out.err, new(*net.OpError)):
			return "connection_error"
		default:
			return "other_error"
		}
	}
	switch code := out.resp.StatusCode; {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
