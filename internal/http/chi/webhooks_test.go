package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	blobmocks "github.com/marcelsud/webhook-relay/blob/mocks"
	"github.com/marcelsud/webhook-relay/endpoint"
	endpointmocks "github.com/marcelsud/webhook-relay/endpoint/mocks"
	queuemocks "github.com/marcelsud/webhook-relay/queue/mocks"
	"github.com/marcelsud/webhook-relay/webhook"
	"github.com/marcelsud/webhook-relay/webhook/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, s webhook.UseCase, opts Options) http.Handler {
	t.Helper()
	nop := zerolog.Nop()
	opts.Logger = &nop
	return Handlers(context.Background(), s, opts)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestPostWebhook(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("Receive", mock.Anything, "key-1", "ep-1", mock.MatchedBy(func(req webhook.Request) bool {
		return req.Method == http.MethodPost &&
			string(req.Body) == `{"order":42}` &&
			req.Headers.Get("X-Custom") == "yes" &&
			req.Query.Get("source") == "shop"
	})).Return("evt-1", nil)

	req := httptest.NewRequest(http.MethodPost, "/webhook/ep-1?source=shop", strings.NewReader(`{"order":42}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "key-1")
	req.Header.Set("X-Custom", "yes")
	w := httptest.NewRecorder()

	newRouter(t, s, Options{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[acceptedResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "evt-1", resp.EventID)
	assert.Equal(t, "Webhook accepted for processing", resp.Message)
}

func TestPostWebhook_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"missing key", endpoint.ErrMissingAPIKey, http.StatusUnauthorized, "API key required"},
		{"invalid key", endpoint.ErrUnauthorized, http.StatusUnauthorized, "invalid API key"},
		{"unknown endpoint", endpoint.ErrNotFound, http.StatusNotFound, "endpoint not found"},
		{"bad body", fmt.Errorf("%w: body is not valid JSON", webhook.ErrInvalidRequest), http.StatusBadRequest, "invalid webhook request: body is not valid JSON"},
		{"internal", errors.New("s3 down"), http.StatusInternalServerError, "Failed to process webhook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mocks.NewUseCase(t)
			s.On("Receive", mock.Anything, mock.Anything, "ep-1", mock.Anything).Return("", tt.err)

			w := httptest.NewRecorder()
			newRouter(t, s, Options{}).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook/ep-1", strings.NewReader(`{}`)))

			assert.Equal(t, tt.code, w.Code)
			resp := decode[errorResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}

func TestPostWebhook_TooLarge(t *testing.T) {
	s := mocks.NewUseCase(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/ep-1", strings.NewReader(strings.Repeat("a", 64)))
	newRouter(t, s, Options{MaxPayloadBytes: 16}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	s.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetEventStatus(t *testing.T) {
	received := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	forwarded := received.Add(time.Minute)
	code := 200

	s := mocks.NewUseCase(t)
	s.On("Status", mock.Anything, "key-1", "ep-1", "evt-1").Return(webhook.EventStatus{
		Event: webhook.Event{
			ID:          "evt-1",
			Status:      webhook.Delivered,
			ReceivedAt:  received,
			ForwardedAt: &forwarded,
		},
		Attempts: 2,
		LastAttempt: &webhook.Attempt{
			Number:       2,
			Status:       webhook.AttemptSuccess,
			ResponseCode: &code,
			Duration:     150 * time.Millisecond,
			AttemptedAt:  forwarded,
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhook/ep-1/events/evt-1", nil)
	req.Header.Set("X-API-Key", "key-1")
	w := httptest.NewRecorder()
	newRouter(t, s, Options{}).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[eventStatusResponse](t, w)
	assert.Equal(t, "evt-1", resp.ID)
	assert.Equal(t, "delivered", resp.Status)
	assert.Equal(t, 2, resp.Attempts)
	require.NotNil(t, resp.LastAttempt)
	assert.Equal(t, 2, resp.LastAttempt.AttemptNumber)
	assert.Equal(t, "success", resp.LastAttempt.Status)
	assert.Equal(t, int64(150), resp.LastAttempt.DurationMs)
	require.NotNil(t, resp.LastAttempt.ResponseCode)
	assert.Equal(t, 200, *resp.LastAttempt.ResponseCode)
}

func TestGetEventStatus_NoAttempts(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("Status", mock.Anything, "", "ep-1", "evt-1").Return(webhook.EventStatus{
		Event: webhook.Event{ID: "evt-1", Status: webhook.Pending},
	}, nil)

	w := httptest.NewRecorder()
	newRouter(t, s, Options{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook/ep-1/events/evt-1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"lastAttempt":null`)
	assert.Contains(t, w.Body.String(), `"forwardedAt":null`)
}

func TestGetEventStatus_NotFound(t *testing.T) {
	s := mocks.NewUseCase(t)
	s.On("Status", mock.Anything, mock.Anything, "ep-1", "evt-9").Return(webhook.EventStatus{}, webhook.ErrNotFound)

	w := httptest.NewRecorder()
	newRouter(t, s, Options{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook/ep-1/events/evt-9", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newRouter(t, mocks.NewUseCase(t), Options{Checks: map[string]Check{
			"database": func(context.Context) error { return nil },
		}})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		resp := decode[healthResponse](t, w)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, map[string]string{"database": "ok"}, resp.Checks)
	})

	t.Run("unhealthy", func(t *testing.T) {
		h := newRouter(t, mocks.NewUseCase(t), Options{Checks: map[string]Check{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decode[healthResponse](t, w)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "error", resp.Checks["redis"])
		assert.Equal(t, "connection refused", resp.Error)

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("live", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(t, mocks.NewUseCase(t), Options{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestMetricsAndNotFound(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("webhook_throughput 1\n"))
	})
	h := newRouter(t, mocks.NewUseCase(t), Options{Metrics: metrics})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "webhook_throughput")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	endpoints := endpointmocks.NewRepository(t)
	endpoints.On("UserByAPIKey", mock.Anything, "key-1").Return(endpoint.User{ID: "user-1", APIKey: "key-1"}, nil)
	endpoints.On("Get", mock.Anything, "6b0f2d8e-4c1a-4e9b-8f3d-2a7c5e9b1d40").
		Return(endpoint.Endpoint{ID: "6b0f2d8e-4c1a-4e9b-8f3d-2a7c5e9b1d40", UserID: "user-1", IsActive: true}, nil).Maybe()

	s := webhook.NewService(
		mocks.NewRepository(t),
		blobmocks.NewStore(t),
		queuemocks.NewProducer(t),
		mocks.NewReceivedRecorder(t),
		endpoint.NewService(endpoints),
		zerolog.Nop(),
	)
	router := newRouter(t, s, Options{})

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"intake", http.MethodPost, "/webhook/not-a-uuid"},
		{"status of unknown endpoint", http.MethodGet, "/webhook/not-a-uuid/events/6b0f2d8e-4c1a-4e9b-8f3d-2a7c5e9b1d41"},
		{"status of malformed event", http.MethodGet, "/webhook/6b0f2d8e-4c1a-4e9b-8f3d-2a7c5e9b1d40/events/xyz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"order":42}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-API-Key", "key-1")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.False(t, decode[errorResponse](t, w).Success)
		})
	}
}
