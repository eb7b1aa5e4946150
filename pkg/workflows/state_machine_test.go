package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine_CanTransition(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.CanTransition("pending", "in_progress"))
	assert.True(t, sm.CanTransition("in_progress", "verified"))
	assert.True(t, sm.CanTransition("in_progress", "pending"))
	assert.True(t, sm.CanTransition("in_progress", "failed"))

	assert.False(t, sm.CanTransition("pending", "verified"))
	assert.False(t, sm.CanTransition("verified", "pending"))
	assert.False(t, sm.CanTransition("unknown", "pending"))
}

func TestStateMachine_Terminal(t *testing.T) {
	sm := NewStateMachine()

	for _, s := range []string{"verified", "needs_review", "rejected", "failed"} {
		assert.True(t, sm.IsTerminal(s), s)
		assert.Empty(t, sm.GetAllowedTransitions(s))
	}
	assert.False(t, sm.IsTerminal("pending"))
	assert.False(t, sm.IsTerminal("in_progress"))
	assert.False(t, sm.IsTerminal("archived"))
	assert.Equal(t, []string{}, sm.GetAllowedTransitions("archived"))
}
