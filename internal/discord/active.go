// ABOUTME: Per-thread "recent user message" records for ping decisions
// ABOUTME: Consume-once cells with a freshness window, keyed by thread id

package discord

import (
	"sync"
	"time"
)

type activeRecord struct {
	userID string
	at     time.Time
}

// activeConversations tracks the most recent non-bot author per thread.
// Records expire after the window and are consumed (deleted) by the
// next successful agent post under on_recent_user_message ping mode.
type activeConversations struct {
	mu      sync.Mutex
	records map[string]activeRecord
	window  time.Duration
	now     func() time.Time
}

func newActiveConversations(window time.Duration) *activeConversations {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &activeConversations{
		records: make(map[string]activeRecord),
		window:  window,
		now:     time.Now,
	}
}

// note records that a user wrote in the thread. A newer message
// overwrites the previous author.
func (a *activeConversations) note(threadID, userID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[threadID] = activeRecord{userID: userID, at: at}
}

// peek returns the recorded user if the record is still fresh, without
// consuming it. Expired records are dropped on sight.
func (a *activeConversations) peek(threadID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[threadID]
	if !ok {
		return "", false
	}
	if a.now().Sub(rec.at) > a.window {
		delete(a.records, threadID)
		return "", false
	}
	return rec.userID, true
}

// consume removes the thread's record after a post has used it.
func (a *activeConversations) consume(threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, threadID)
}
