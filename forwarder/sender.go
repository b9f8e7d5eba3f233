package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxStoredBody caps how much of a destination's response is kept
const maxStoredBody = 1 << 20

// Request is one outbound delivery
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Response is whatever the destination answered, any status code included
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	Duration   time.Duration
}

func (r Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError means no HTTP response was received at all
type TransportError struct {
	Err      error
	Duration time.Duration
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Sender performs the HTTP call. Failures without a response are *TransportError.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender uses client, or a default client when nil
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{client: client}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, &TransportError{Err: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Err: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	// a truncated or unreadable body still counts as a response
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredBody))

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	return Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(body),
		Duration:   time.Since(start),
	}, nil
}
