package webhook

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

const (
	BodyJSON   = "json"
	BodyBase64 = "base64"
)

// strippedHeaders never leave the relay
var strippedHeaders = []string{"Authorization", "Proxy-Authorization", "X-Api-Key", "Cookie"}

// Request is an inbound callback as the intake path sees it
type Request struct {
	Method  string
	Headers http.Header
	Query   url.Values
	Body    []byte
}

/* Snapshot is the payload blob written at intake and replayed on every attempt
 * Body is kept as a string, never as embedded JSON, so the destination gets
 * the exact bytes the sender posted
 */
type Snapshot struct {
	Method       string              `json:"method"`
	Headers      map[string]string   `json:"headers"`
	Query        map[string][]string `json:"query,omitempty"`
	Body         string              `json:"body,omitempty"`
	BodyEncoding string              `json:"bodyEncoding,omitempty"`
}

// SanitizeHeaders flattens h with lower-cased names and drops credentials
func SanitizeHeaders(h http.Header) map[string]string {
	clean := h.Clone()
	for _, name := range strippedHeaders {
		clean.Del(name)
	}
	out := make(map[string]string, len(clean))
	for name, values := range clean {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// NewSnapshot captures req. A JSON content type with an invalid body is rejected.
func NewSnapshot(req Request) (Snapshot, error) {
	s := Snapshot{
		Method:  req.Method,
		Headers: SanitizeHeaders(req.Headers),
	}
	if len(req.Query) > 0 {
		s.Query = req.Query
	}
	if len(req.Body) == 0 {
		return s, nil
	}

	if json.Valid(req.Body) {
		s.Body = string(req.Body)
		s.BodyEncoding = BodyJSON
		return s, nil
	}
	if isJSON(req.Headers.Get("Content-Type")) {
		return Snapshot{}, fmt.Errorf("%w: body is not valid JSON", ErrInvalidRequest)
	}

	s.Body = base64.StdEncoding.EncodeToString(req.Body)
	s.BodyEncoding = BodyBase64
	return s, nil
}

// BodyBytes returns the body exactly as it was received
func (s Snapshot) BodyBytes() ([]byte, error) {
	if len(s.Body) == 0 {
		return nil, nil
	}
	switch s.BodyEncoding {
	case BodyBase64:
		body, err := base64.StdEncoding.DecodeString(s.Body)
		if err != nil {
			return nil, fmt.Errorf("decoding body: %w", err)
		}
		return body, nil
	default:
		return []byte(s.Body), nil
	}
}
