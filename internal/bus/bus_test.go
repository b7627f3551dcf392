// ABOUTME: Tests for the event bus
// ABOUTME: Covers fan-out, topic isolation, context-scoped unsubscription, and slow-subscriber drops

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, TopicMessage)
	ch2, _ := b.Subscribe(ctx, TopicMessage)

	b.Publish(TopicMessage, Message{ThreadID: "T1", Content: "hello"})

	for _, ch := range []<-chan any{ch1, ch2} {
		select {
		case ev := <-ch:
			msg, ok := ev.(Message)
			require.True(t, ok)
			require.Equal(t, "T1", msg.ThreadID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), TopicThreadUpdate)
	b.Publish(TopicMessage, Message{ThreadID: "T1"})

	select {
	case <-ch:
		t.Fatal("thread_update subscriber received a message event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestContextCancelUnsubscribes(t *testing.T) {
	b := New(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, TopicMessage)
	cancel()

	// The channel closes once the cleanup goroutine runs.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New(nil)
	defer b.Close()

	// Churn subscriptions while publishing; a close racing a send would
	// panic the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(TopicMessage, Message{MessageID: "m"})
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		_, subID := b.Subscribe(context.Background(), TopicMessage)
		b.Unsubscribe(TopicMessage, subID)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not finish")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(nil)
	defer b.Close()

	_, _ = b.Subscribe(context.Background(), TopicMessage)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(TopicMessage, Message{MessageID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
