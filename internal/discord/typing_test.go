// ABOUTME: Tests for typing indicator cells
// ABOUTME: Verifies idempotent stop, single-timer restart, and the hard self-stop

package discord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopTypingWhenIdleIsNoOp(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	c.StopTyping("555") // must not panic or error
	assert.Equal(t, 0, c.typing.activeCount())
}

func TestStopThenStartLeavesExactlyOneTimer(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	require.NoError(t, c.StartTyping("555"))
	c.StopTyping("555")
	require.NoError(t, c.StartTyping("555"))
	assert.Equal(t, 1, c.typing.activeCount())

	// Starting again while running stays at one.
	require.NoError(t, c.StartTyping("555"))
	assert.Equal(t, 1, c.typing.activeCount())

	c.StopTyping("555")
	assert.Equal(t, 0, c.typing.activeCount())
}

func TestTypingHardStopSelfCancels(t *testing.T) {
	c, _, _ := newTestClient(t, nil)
	c.typing.refresh = 10 * time.Millisecond
	c.typing.hardStop = 30 * time.Millisecond

	require.NoError(t, c.StartTyping("555"))
	require.Eventually(t, func() bool {
		return c.typing.activeCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingRefreshFires(t *testing.T) {
	c, fake, _ := newTestClient(t, nil)
	c.typing.refresh = 5 * time.Millisecond

	require.NoError(t, c.StartTyping("555"))
	defer c.StopTyping("555")

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.typingCalls) >= 2
	}, time.Second, 5*time.Millisecond)
}
