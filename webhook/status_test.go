package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{Pending, Forwarding, Delivered, Failed} {
		assert.Equal(t, s, NewStatus(s.String()))
		assert.NoError(t, s.Validate())
	}
	assert.Error(t, Status(99).Validate())
	assert.Equal(t, "unknown", Status(99).String())
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, Pending.CanTransition(Forwarding))
	assert.True(t, Forwarding.CanTransition(Forwarding))
	assert.True(t, Forwarding.CanTransition(Delivered))
	assert.True(t, Forwarding.CanTransition(Failed))
	assert.False(t, Forwarding.CanTransition(Pending))
	assert.False(t, Delivered.CanTransition(Forwarding))
	assert.False(t, Failed.CanTransition(Delivered))
	assert.True(t, Delivered.IsFinal())
	assert.True(t, Failed.IsFinal())
	assert.False(t, Forwarding.IsFinal())
}

func TestAttemptStatus(t *testing.T) {
	assert.Equal(t, AttemptSuccess, NewAttemptStatus("success"))
	assert.Equal(t, AttemptFailed, NewAttemptStatus("failed"))
	assert.Equal(t, "success", AttemptSuccess.String())
	assert.Equal(t, "failed", AttemptFailed.String())
}
