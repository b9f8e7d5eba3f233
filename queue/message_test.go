package queue_test

import (
	"testing"

	"github.com/marcelsud/webhook-relay/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() queue.Envelope {
	return queue.Envelope{
		EventID:        "evt-1",
		EndpointID:     "ep-1",
		DestinationURL: "https://example.com/hook",
		PayloadKey:     "payloads/2024-03-09/evt-1.json",
		AttemptNumber:  1,
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Run("webhook keeps its variant", func(t *testing.T) {
		data, err := queue.Encode(queue.Webhook{Envelope: testEnvelope()})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"type":"webhook"`)
		assert.Contains(t, string(data), `"payloadS3Key":"payloads/2024-03-09/evt-1.json"`)

		msg, err := queue.Decode(data)
		require.NoError(t, err)
		wh, ok := msg.(queue.Webhook)
		require.True(t, ok)
		assert.Equal(t, testEnvelope(), wh.Envelope)
	})

	t.Run("retry keeps its variant", func(t *testing.T) {
		env := testEnvelope()
		env.AttemptNumber = 2
		data, err := queue.Encode(queue.Retry{Envelope: env})
		require.NoError(t, err)

		msg, err := queue.Decode(data)
		require.NoError(t, err)
		_, ok := msg.(queue.Retry)
		assert.True(t, ok)
		assert.Equal(t, 2, msg.Env().AttemptNumber)
	})

	t.Run("decodes messages written by other producers", func(t *testing.T) {
		raw := `{"type":"retry","eventId":"evt-9","endpointId":"ep-9","destinationUrl":"https://x","payloadS3Key":"k","attemptNumber":3}`
		msg, err := queue.Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "evt-9", msg.Env().EventID)
		assert.Equal(t, 3, msg.Env().AttemptNumber)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := queue.Decode([]byte(`{"type":"bogus","eventId":"e","attemptNumber":1}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown type")
	})

	t.Run("rejects missing attempt number", func(t *testing.T) {
		_, err := queue.Decode([]byte(`{"type":"webhook","eventId":"e"}`))
		require.Error(t, err)
	})

	t.Run("identical messages encode identically", func(t *testing.T) {
		env := testEnvelope()
		env.Headers = map[string]string{"b": "2", "a": "1"}
		first, err := queue.Encode(queue.Retry{Envelope: env})
		require.NoError(t, err)
		second, err := queue.Encode(queue.Retry{Envelope: env})
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestNextAttempt(t *testing.T) {
	retry := queue.NextAttempt(queue.Webhook{Envelope: testEnvelope()})
	assert.Equal(t, 2, retry.AttemptNumber)
	assert.Equal(t, "evt-1", retry.EventID)

	again := queue.NextAttempt(retry)
	assert.Equal(t, 3, again.AttemptNumber)
}

func TestWithAttempt(t *testing.T) {
	msg := queue.WithAttempt(queue.Retry{Envelope: testEnvelope()}, 4)
	_, ok := msg.(queue.Retry)
	assert.True(t, ok)
	assert.Equal(t, 4, msg.Env().AttemptNumber)

	msg = queue.WithAttempt(queue.Webhook{Envelope: testEnvelope()}, 2)
	_, ok = msg.(queue.Webhook)
	assert.True(t, ok)
	assert.Equal(t, 2, msg.Env().AttemptNumber)
}
