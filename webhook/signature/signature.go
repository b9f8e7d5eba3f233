package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

/* Deliveries to endpoints that carry a shared secret are signed following
 * Standard Webhooks: webhook-id, webhook-timestamp and webhook-signature
 * headers, signed content "{id}.{timestamp}.{body}"
 */

const (
	// SecretPrefix marks a base64 Standard Webhooks secret
	SecretPrefix = "whsec_"

	// SignatureVersion is the version identifier for symmetric signatures
	SignatureVersion = "v1"

	MinSecretBytes = 24
	MaxSecretBytes = 64

	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

// Secret is the key material an endpoint shares with the relay
type Secret struct {
	raw []byte
}

// GenerateSecret creates a random secret of size bytes
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}
	return Secret{raw: raw}, nil
}

// ParseSecret parses a whsec_-prefixed base64 secret
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}
	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}
	return Secret{raw: raw}, nil
}

// ResolveSecret accepts either a whsec_ secret or an opaque string used as raw key bytes
func ResolveSecret(value string) (Secret, error) {
	if value == "" {
		return Secret{}, fmt.Errorf("secret is empty")
	}
	if strings.HasPrefix(value, SecretPrefix) {
		return ParseSecret(value)
	}
	return Secret{raw: []byte(value)}, nil
}

// String returns the secret in whsec_ form
func (s Secret) String() string {
	return SecretPrefix + base64.StdEncoding.EncodeToString(s.raw)
}

// Signature is one versioned signature, rendered as "v1,<base64>"
type Signature struct {
	Version   string
	Signature string
}

func (s Signature) String() string {
	return fmt.Sprintf("%s,%s", s.Version, s.Signature)
}

// ParseSignature parses a signature string in the format: v1,<base64_signature>
func ParseSignature(sig string) (Signature, error) {
	parts := strings.SplitN(sig, ",", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("invalid signature format, expected 'version,signature'")
	}
	return Signature{Version: parts[0], Signature: parts[1]}, nil
}

// Sign signs "{msgID}.{unix timestamp}.{payload}" with HMAC-SHA256
func Sign(secret Secret, msgID string, timestamp time.Time, payload []byte) (Signature, error) {
	if strings.Contains(msgID, ".") {
		return Signature{}, fmt.Errorf("message ID must not contain '.'")
	}

	mac := hmac.New(sha256.New, secret.raw)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)

	return Signature{
		Version:   SignatureVersion,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Verify checks expected against a freshly computed signature in constant time
func Verify(secret Secret, msgID string, timestamp time.Time, payload []byte, expected Signature) (bool, error) {
	if expected.Version != SignatureVersion {
		return false, fmt.Errorf("unsupported signature version: %s", expected.Version)
	}

	calculated, err := Sign(secret, msgID, timestamp, payload)
	if err != nil {
		return false, fmt.Errorf("calculating signature: %w", err)
	}

	want, err := base64.StdEncoding.DecodeString(expected.Signature)
	if err != nil {
		return false, fmt.Errorf("decoding expected signature: %w", err)
	}
	got, _ := base64.StdEncoding.DecodeString(calculated.Signature)

	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// Headers returns the three signing headers for one delivery. The message id
// is the event id, so it stays stable across retries of the same event.
func Headers(secret Secret, eventID string, timestamp time.Time, payload []byte) (map[string]string, error) {
	sig, err := Sign(secret, eventID, timestamp, payload)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderID:        eventID,
		HeaderTimestamp: strconv.FormatInt(timestamp.Unix(), 10),
		HeaderSignature: sig.String(),
	}, nil
}

// VerifyRequest checks the signing headers of a received delivery. Receivers
// and tests use it; the relay itself only signs.
func VerifyRequest(secret Secret, header http.Header, payload []byte) (bool, error) {
	msgID := header.Get(HeaderID)
	if msgID == "" {
		return false, fmt.Errorf("missing %s header", HeaderID)
	}
	unix, err := strconv.ParseInt(header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid %s header: %w", HeaderTimestamp, err)
	}

	for _, part := range strings.Fields(header.Get(HeaderSignature)) {
		sig, err := ParseSignature(part)
		if err != nil {
			continue
		}
		ok, err := Verify(secret, msgID, time.Unix(unix, 0), payload, sig)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}
