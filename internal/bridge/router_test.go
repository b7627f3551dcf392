// ABOUTME: Tests for gateway event routing
// ABOUTME: Inbound forwarding, question override, manual-vs-inactivity archive distinction

package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cursor-discord-bridge/internal/bus"
	"github.com/2389/cursor-discord-bridge/internal/interact"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

type fakeReactor struct {
	botID     string
	noted     []string
	reactions []string
	replies   []string
}

func (f *fakeReactor) BotUserID() string { return f.botID }

func (f *fakeReactor) NoteUserMessage(threadID, userID string) {
	f.noted = append(f.noted, threadID+":"+userID)
}

func (f *fakeReactor) React(threadID, messageID, emoji string) error {
	f.reactions = append(f.reactions, threadID+":"+messageID+":"+emoji)
	return nil
}

func (f *fakeReactor) ReplyInThread(threadID, content string) error {
	f.replies = append(f.replies, content)
	return nil
}

type fakeSink struct {
	consume bool
	texts   []string
	presses []interact.ButtonPress
}

func (f *fakeSink) HandleThreadMessage(threadID, content string) bool {
	f.texts = append(f.texts, threadID+":"+content)
	return f.consume
}

func (f *fakeSink) HandleButton(press interact.ButtonPress) {
	f.presses = append(f.presses, press)
}

type fakeDeliverer struct {
	calls []string
	err   error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, conversationID, text, threadID string) error {
	f.calls = append(f.calls, conversationID+"|"+text)
	return f.err
}

func newTestRouter(t *testing.T) (*router, *state.MockStore, *fakeReactor, *fakeSink, *fakeDeliverer) {
	t.Helper()
	st := state.NewMockStore()
	gw := &fakeReactor{botID: "BOT"}
	sink := &fakeSink{}
	del := &fakeDeliverer{}
	rt := newRouter(st, gw, sink, del, nil)
	return rt, st, gw, sink, del
}

func mapThread(t *testing.T, st *state.MockStore, conv, thread string) {
	t.Helper()
	require.NoError(t, st.PutMapping(context.Background(), &state.Mapping{
		ConversationID: conv,
		ThreadID:       thread,
		Workspace:      "demo",
		CreatedAt:      time.Now(),
	}))
}

func TestInboundMessageForwardsAndAcknowledges(t *testing.T) {
	rt, st, gw, _, del := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")

	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", MessageID: "M1", AuthorID: "U1", Content: "do the thing"})

	assert.Equal(t, []string{"C1|do the thing"}, del.calls)
	assert.Equal(t, []string{"T1:M1:✅"}, gw.reactions)
	assert.Equal(t, []string{"T1:U1"}, gw.noted)

	_, err := st.ThreadActivity(ctx, "T1")
	assert.NoError(t, err, "activity must be recorded")
}

func TestBotAndUnmappedMessagesIgnored(t *testing.T) {
	rt, st, _, _, del := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")

	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", AuthorID: "X", AuthorBot: true, Content: "x"})
	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", AuthorID: "BOT", Content: "x"})
	rt.handleMessage(ctx, bus.Message{ThreadID: "T_unknown", AuthorID: "U1", Content: "x"})

	assert.Empty(t, del.calls)
}

func TestQuestionTextOverrideIsNotForwarded(t *testing.T) {
	rt, st, gw, sink, del := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")
	sink.consume = true

	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", MessageID: "M1", AuthorID: "U1", Content: "none of these"})

	assert.Equal(t, []string{"T1:none of these"}, sink.texts)
	assert.Empty(t, del.calls, "question answers never reach the IDE")
	assert.Empty(t, gw.noted)
}

func TestDeliveryFailurePostsReply(t *testing.T) {
	rt, st, gw, _, del := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")
	del.err = errors.New("window not found")

	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", MessageID: "M1", AuthorID: "U1", Content: "x"})

	require.Len(t, gw.replies, 1)
	assert.Contains(t, gw.replies[0], "window not found")
	assert.Empty(t, gw.reactions)
}

func TestInboundMessageClearsExplicitArchive(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")
	require.NoError(t, st.AddExplicitArchive(ctx, "T1"))

	rt.handleMessage(ctx, bus.Message{ThreadID: "T1", MessageID: "M1", AuthorID: "U1", Content: "hi"})

	explicit, err := st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, explicit)
}

func TestManualArchiveWithinThresholdIsExplicit(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")

	now := time.Now()
	rt.now = func() time.Time { return now }
	require.NoError(t, st.SetThreadActivity(ctx, "T1", now.Add(-10*time.Minute)))

	rt.handleThreadUpdate(ctx, bus.ThreadUpdate{ThreadID: "T1", Archived: true, AutoArchiveDuration: 1440 * time.Minute})

	explicit, err := st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, explicit, "10 min < 1435 min means a person archived it")
}

func TestArchiveDetectionBoundary(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	now := time.Now()
	rt.now = func() time.Time { return now }
	duration := 1440 * time.Minute

	// activity+1435min: manual.
	mapThread(t, st, "C1", "T1")
	require.NoError(t, st.SetThreadActivity(ctx, "T1", now.Add(-1435*time.Minute)))
	rt.handleThreadUpdate(ctx, bus.ThreadUpdate{ThreadID: "T1", Archived: true, AutoArchiveDuration: duration})
	explicit, _ := st.IsExplicitArchive(ctx, "T1")
	assert.True(t, explicit)

	// activity+1436min: inactivity.
	mapThread(t, st, "C2", "T2")
	require.NoError(t, st.SetThreadActivity(ctx, "T2", now.Add(-1436*time.Minute)))
	rt.handleThreadUpdate(ctx, bus.ThreadUpdate{ThreadID: "T2", Archived: true, AutoArchiveDuration: duration})
	explicit, _ = st.IsExplicitArchive(ctx, "T2")
	assert.False(t, explicit)
}

func TestUnarchiveClearsExplicitFlag(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")
	require.NoError(t, st.AddExplicitArchive(ctx, "T1"))

	rt.handleThreadUpdate(ctx, bus.ThreadUpdate{ThreadID: "T1", Archived: false})

	explicit, err := st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, explicit)
}

func TestArchiveWithoutActivityRecordIsManual(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")

	rt.handleThreadUpdate(ctx, bus.ThreadUpdate{ThreadID: "T1", Archived: true, AutoArchiveDuration: time.Hour})

	explicit, err := st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, explicit, "without evidence of inactivity, respect the user's archive")
}

func TestRepeatedArchiveUpdateKeepsManualClassification(t *testing.T) {
	rt, st, _, _, _ := newTestRouter(t)
	ctx := context.Background()
	mapThread(t, st, "C1", "T1")

	now := time.Now()
	rt.now = func() time.Time { return now }
	require.NoError(t, st.SetThreadActivity(ctx, "T1", now.Add(-10*time.Minute)))

	upd := bus.ThreadUpdate{ThreadID: "T1", Archived: true, AutoArchiveDuration: 1440 * time.Minute}
	rt.handleThreadUpdate(ctx, upd)

	explicit, err := st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	require.True(t, explicit)

	// The gateway repeats the update two days later; elapsed time now
	// exceeds the threshold, but the classification must not flip.
	rt.now = func() time.Time { return now.Add(48 * time.Hour) }
	rt.handleThreadUpdate(ctx, upd)

	explicit, err = st.IsExplicitArchive(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, explicit, "a repeated archive update must not reclassify a manual archive")
}
