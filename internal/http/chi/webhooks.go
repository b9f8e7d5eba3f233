package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-relay/endpoint"
	"github.com/marcelsud/webhook-relay/webhook"
)

const apiKeyHeader = "X-API-Key"

/* HTTP layer DTOs for the intake API
 * Separate from domain entities to avoid leaking internal structure
 */

type acceptedResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type attemptResponse struct {
	AttemptNumber int        `json:"attemptNumber"`
	Status        string     `json:"status"`
	ResponseCode  *int       `json:"responseCode"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	DurationMs    int64      `json:"durationMs"`
	AttemptedAt   time.Time  `json:"attemptedAt"`
	NextRetryAt   *time.Time `json:"nextRetryAt"`
}

type eventStatusResponse struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	ReceivedAt  time.Time        `json:"receivedAt"`
	ForwardedAt *time.Time       `json:"forwardedAt"`
	Attempts    int              `json:"attempts"`
	LastAttempt *attemptResponse `json:"lastAttempt"`
}

// postWebhook handles POST /webhook/{endpointId}
func postWebhook(webhookService webhook.UseCase, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpointID := chi.URLParam(r, "endpointId")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Failed to read request body"})
			return
		}

		eventID, err := webhookService.Receive(r.Context(), r.Header.Get(apiKeyHeader), endpointID, webhook.Request{
			Method:  r.Method,
			Headers: r.Header,
			Query:   r.URL.Query(),
			Body:    body,
		})
		if err != nil {
			writeError(w, r, err, "Failed to process webhook")
			return
		}

		writeJSON(w, http.StatusAccepted, acceptedResponse{
			Success: true,
			EventID: eventID,
			Message: "Webhook accepted for processing",
		})
	}
}

// getEventStatus handles GET /webhook/{endpointId}/events/{eventId}
func getEventStatus(webhookService webhook.UseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := webhookService.Status(
			r.Context(),
			r.Header.Get(apiKeyHeader),
			chi.URLParam(r, "endpointId"),
			chi.URLParam(r, "eventId"),
		)
		if err != nil {
			writeError(w, r, err, "Internal server error")
			return
		}

		resp := eventStatusResponse{
			ID:          status.Event.ID,
			Status:      status.Event.Status.String(),
			ReceivedAt:  status.Event.ReceivedAt,
			ForwardedAt: status.Event.ForwardedAt,
			Attempts:    status.Attempts,
		}
		if a := status.LastAttempt; a != nil {
			resp.LastAttempt = &attemptResponse{
				AttemptNumber: a.Number,
				Status:        a.Status.String(),
				ResponseCode:  a.ResponseCode,
				ErrorMessage:  a.ErrorMessage,
				DurationMs:    a.Duration.Milliseconds(),
				AttemptedAt:   a.AttemptedAt,
				NextRetryAt:   a.NextRetryAt,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, endpoint.ErrMissingAPIKey), errors.Is(err, endpoint.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, endpoint.ErrNotFound), errors.Is(err, webhook.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides internal errors behind fallback and logs them
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		oplog := httplog.LogEntry(r.Context())
		oplog.Error().Err(err).Msg("request failed")
		msg = fallback
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
