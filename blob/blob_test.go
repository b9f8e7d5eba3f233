package blob_test

import (
	"testing"
	"time"

	"github.com/marcelsud/webhook-relay/blob"
	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	t.Run("payload key", func(t *testing.T) {
		at := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
		assert.Equal(t, "payloads/2024-03-09/evt-1.json", blob.Key(blob.Payloads, "evt-1", at))
	})

	t.Run("date is taken in UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+3", 3*60*60)
		at := time.Date(2024, 3, 10, 1, 0, 0, 0, loc)
		assert.Equal(t, "responses/2024-03-09/evt-1.json", blob.Key(blob.Responses, "evt-1", at))
	})

	t.Run("attempt id", func(t *testing.T) {
		at := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, "errors/2024-03-09/evt-1-2.json", blob.Key(blob.Errors, blob.AttemptID("evt-1", 2), at))
	})
}
