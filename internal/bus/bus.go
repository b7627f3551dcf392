// ABOUTME: In-memory fan-out event bus for gateway events
// ABOUTME: Publishes Discord gateway events to per-topic subscribers without back-pointers

package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Topic names one event stream.
type Topic string

const (
	// TopicMessage carries inbound Discord messages.
	TopicMessage Topic = "message"
	// TopicThreadUpdate carries thread archive/metadata transitions.
	TopicThreadUpdate Topic = "thread_update"
	// TopicInteraction carries component (button) interactions.
	TopicInteraction Topic = "interaction"
	// TopicLifecycle carries gateway session state changes.
	TopicLifecycle Topic = "lifecycle"
)

// Message is an inbound Discord message, bot-authored or not.
type Message struct {
	ThreadID  string
	MessageID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// ThreadUpdate reports a thread's state as observed on the gateway.
type ThreadUpdate struct {
	ThreadID            string
	Archived            bool
	AutoArchiveDuration time.Duration
}

// Interaction is a component interaction (button press) on a message.
type Interaction struct {
	InteractionID string
	Token         string
	ThreadID      string
	MessageID     string
	CustomID      string
	UserID        string
}

// Lifecycle reports gateway session transitions.
type Lifecycle struct {
	State string // "ready" | "disconnect"
}

// Bus provides in-memory pub/sub keyed by topic. Subscribers receive
// events as they are published; slow subscribers drop events rather than
// blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[string]chan any
	logger      *slog.Logger
}

// New creates a bus. Pass nil logger for the default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Topic]map[string]chan any),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber for a topic. The returned channel
// receives every event published to the topic until ctx is cancelled,
// at which point the subscription is removed and the channel closed.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) (<-chan any, string) {
	subID := uuid.New().String()
	ch := make(chan any, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan any)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the topic. Non-blocking:
// events are dropped for subscribers whose channels are full.
// The read lock is held across the sends so Unsubscribe cannot close a
// channel mid-publish.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "topic", topic)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(topic Topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
}
