package repl

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sidenote-dev/sidenote/internal/evaluator"
	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

// scriptedChat replies "echo: <text>" unless given canned replies.
type scriptedChat struct {
	replies []string
	calls   int
	resets  [][]*storage.Message
}

func (c *scriptedChat) Send(ctx context.Context, text string) (string, error) {
	reply := "echo: " + text
	if c.calls < len(c.replies) {
		reply = c.replies[c.calls]
	}
	c.calls++
	return reply, nil
}

func (c *scriptedChat) Reset(msgs []*storage.Message) {
	c.resets = append(c.resets, msgs)
}

type launchRecord struct {
	sessionID string
	ex        evaluator.Exchange
}

// recordingLauncher records launches without running any turn.
type recordingLauncher struct {
	launches []launchRecord
}

func (l *recordingLauncher) Launch(ctx context.Context, sessionID string, ex evaluator.Exchange) string {
	l.launches = append(l.launches, launchRecord{sessionID, ex})
	return "turn-" + strconv.Itoa(len(l.launches))
}

func newTestREPL(t *testing.T) (*REPL, *scriptedChat, *recordingLauncher, *bytes.Buffer) {
	t.Helper()

	store, err := storage.New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// Debounce far beyond the test's lifetime; flushes in these tests
	// are the explicit ones the shell performs.
	var engine *feed.Engine
	saver := storage.NewSaver(store, func() feed.State { return engine.Snapshot() }, time.Hour, zap.NewNop())
	engine = feed.New(feed.Options{OnDirty: saver.MarkDirty})
	t.Cleanup(func() { saver.Close() })

	reg, err := modes.NewRegistry(nil, 0)
	require.NoError(t, err)

	chat := &scriptedChat{}
	launcher := &recordingLauncher{}
	out := &bytes.Buffer{}

	r, err := New(&Config{
		Engine:   engine,
		Store:    store,
		Saver:    saver,
		Chat:     chat,
		Runner:   launcher,
		Registry: reg,
		Out:      out,
	})
	require.NoError(t, err)
	r.ctx = context.Background()
	r.confirm = func(string) bool { return true }
	require.NoError(t, r.openStartupSession())
	out.Reset()
	return r, chat, launcher, out
}

func notePayload(title string) feed.ItemPayload {
	return feed.ItemPayload{
		Title:       title,
		OneLiner:    "one liner for " + title,
		FullSummary: "full summary for " + title,
		Relevance:   "relevance for " + title,
	}
}

func TestChatTurnRecordsAndLaunches(t *testing.T) {
	r, chat, launcher, out := newTestREPL(t)
	chat.replies = []string{"the answer"}

	require.NoError(t, r.dispatch("hello there"))

	msgs, err := r.store.GetMessages(r.ctx, r.session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, storage.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, storage.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "the answer", msgs[1].Content)

	require.Len(t, launcher.launches, 1)
	assert.Equal(t, r.session.ID, launcher.launches[0].sessionID)
	assert.Equal(t, "hello there", launcher.launches[0].ex.UserMessage)
	assert.Equal(t, "the answer", launcher.launches[0].ex.AssistantReply)

	assert.Contains(t, out.String(), "the answer")
}

func TestUnknownCommand(t *testing.T) {
	r, _, _, _ := newTestREPL(t)
	err := r.dispatch("/bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command /bogus")
}

func TestNewSwitchesSession(t *testing.T) {
	r, chat, _, _ := newTestREPL(t)
	first := r.session.ID

	require.NoError(t, r.dispatch("/new second chat"))

	assert.NotEqual(t, first, r.session.ID)
	assert.Equal(t, "second chat", r.session.Title)
	assert.Equal(t, r.session.ID, r.engine.Snapshot().ActiveSessionID)
	// The chat history was rebuilt for the empty session.
	require.NotEmpty(t, chat.resets)
	assert.Empty(t, chat.resets[len(chat.resets)-1])
}

func TestSwitchPersistsCurrentFeed(t *testing.T) {
	r, _, _, _ := newTestREPL(t)
	first := r.session

	require.NoError(t, r.engine.AddItem("t1", first.ID, "connections", notePayload("persist me")))
	require.NoError(t, r.dispatch("/new elsewhere"))

	// The switch flushed the first session's feed before leaving it.
	items, err := r.store.GetItems(r.ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "persist me", items[0].Title)

	// Switching back restores it and refuses writes from the stale turn.
	require.NoError(t, r.dispatch("/switch "+first.ID))
	st := r.engine.Snapshot()
	assert.Equal(t, first.ID, st.ActiveSessionID)
	require.Len(t, st.Items, 1)
}

func TestSwitchByIndexAndPrefix(t *testing.T) {
	r, _, _, _ := newTestREPL(t)
	first := r.session
	require.NoError(t, r.dispatch("/new second"))

	// Recency listing: "second" is 1, the first session is 2.
	require.NoError(t, r.dispatch("/switch 2"))
	assert.Equal(t, first.ID, r.session.ID)

	require.NoError(t, r.dispatch("/switch 1"))
	assert.Equal(t, "second", r.session.Title)

	// Numbers resolve as indexes before ids, so pick a prefix that
	// cannot read as one.
	prefix := first.ID[:8]
	if _, err := strconv.Atoi(prefix); err == nil {
		prefix = first.ID
	}
	require.NoError(t, r.dispatch("/switch "+prefix))
	assert.Equal(t, first.ID, r.session.ID)

	err := r.dispatch("/switch 99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session numbered")
}

func TestRenameSession(t *testing.T) {
	r, _, _, out := newTestREPL(t)

	require.NoError(t, r.dispatch("/rename road trip planning"))

	assert.Equal(t, "road trip planning", r.session.Title)
	sess, err := r.store.GetSession(r.ctx, r.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "road trip planning", sess.Title)
	assert.Contains(t, out.String(), "Renamed")

	err = r.dispatch("/rename")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: /rename")
}

func TestNotesOpenDrop(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	sess := r.session.ID
	require.NoError(t, r.engine.AddItem("t1", sess, "connections", notePayload("first note")))
	require.NoError(t, r.engine.AddItem("t2", sess, "deeper", notePayload("second note")))

	require.NoError(t, r.dispatch("/notes"))
	listing := out.String()
	assert.Contains(t, listing, "first note")
	assert.Contains(t, listing, "second note")
	assert.Contains(t, listing, "one liner for first note")
	// Collapsed notes keep their summaries folded.
	assert.NotContains(t, listing, "full summary for first note")
	require.Len(t, r.noteIndex, 2)

	out.Reset()
	require.NoError(t, r.dispatch("/open 1"))
	assert.Contains(t, out.String(), "full summary for first note")
	assert.True(t, r.engine.Snapshot().Items[0].Expanded)

	// Toggle back.
	require.NoError(t, r.dispatch("/open 1"))
	assert.False(t, r.engine.Snapshot().Items[0].Expanded)

	require.NoError(t, r.dispatch("/drop 2"))
	st := r.engine.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "first note", st.Items[0].Title)

	// The listing number now points at a gone item.
	err := r.dispatch("/open 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")

	err = r.dispatch("/open 99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no note numbered")
}

func TestNotesFiltersBySession(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	sess := r.session.ID

	require.NoError(t, r.engine.AddItem("t1", sess, "tangent", notePayload("mine")))
	// A foreign item in the feed must not surface in the listing.
	r.engine.LoadItems(append(r.engine.Snapshot().Items, feed.Item{
		ID: "foreign", TurnID: "tx", SessionID: "other-session", ModeID: "tangent",
		Title: "not mine", OneLiner: "l", FullSummary: "s", Relevance: "r",
		CreatedAt: time.Now(),
	}), sess)

	require.NoError(t, r.dispatch("/notes"))
	assert.Contains(t, out.String(), "mine")
	assert.NotContains(t, out.String(), "not mine")
	require.Len(t, r.noteIndex, 1)
}

func TestForkCopiesEverything(t *testing.T) {
	r, chat, _, _ := newTestREPL(t)
	chat.replies = []string{"reply one"}
	original := r.session.ID

	require.NoError(t, r.dispatch("let's talk"))
	require.NoError(t, r.engine.AddItem("t1", original, "connections", notePayload("carried over")))

	require.NoError(t, r.dispatch("/fork the fork"))

	assert.NotEqual(t, original, r.session.ID)
	assert.Equal(t, "the fork", r.session.Title)
	assert.Equal(t, original, r.session.ForkedFrom)

	msgs, err := r.store.GetMessages(r.ctx, r.session.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	st := r.engine.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "carried over", st.Items[0].Title)
	assert.Equal(t, r.session.ID, st.Items[0].SessionID, "copied item belongs to the fork")
}

func TestDeleteLandsSomewhere(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	doomed := r.session.ID
	require.NoError(t, r.engine.AddItem("t1", doomed, "deeper", notePayload("going down")))

	require.NoError(t, r.dispatch("/delete"))

	_, err := r.store.GetSession(r.ctx, doomed)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)

	// A fresh session took its place and owns the engine.
	require.NotNil(t, r.session)
	assert.NotEqual(t, doomed, r.session.ID)
	st := r.engine.Snapshot()
	assert.Equal(t, r.session.ID, st.ActiveSessionID)
	assert.Empty(t, st.Items)
	assert.Contains(t, out.String(), "Deleted")
}

func TestDeleteDeclined(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	r.confirm = func(string) bool { return false }
	keep := r.session.ID

	require.NoError(t, r.dispatch("/delete"))

	assert.Equal(t, keep, r.session.ID)
	_, err := r.store.GetSession(r.ctx, keep)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Kept.")
}

func TestExportWritesFile(t *testing.T) {
	r, chat, _, out := newTestREPL(t)
	chat.replies = []string{"an answer worth keeping"}
	require.NoError(t, r.dispatch("a question"))
	require.NoError(t, r.engine.AddItem("t1", r.session.ID, "tangent", notePayload("margin note")))

	path := filepath.Join(t.TempDir(), "export.md")
	require.NoError(t, r.dispatch("/export "+path))
	assert.Contains(t, out.String(), "Exported to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**You:** a question")
	assert.Contains(t, string(data), "an answer worth keeping")
	assert.Contains(t, string(data), "margin note")
}

func TestAfterInteractionNotices(t *testing.T) {
	r, _, _, out := newTestREPL(t)

	r.engine.MarkTurnEmpty("t1")
	r.afterInteraction()
	first := out.String()
	assert.Contains(t, first, "✧", "notice should print once")

	out.Reset()
	r.afterInteraction()
	assert.NotContains(t, out.String(), "✧", "notice already shown must not reprint")
}

func TestAfterInteractionNewItemMarker(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	sess := r.session.ID

	require.NoError(t, r.engine.AddItem("t1", sess, "connections", notePayload("fresh one")))
	r.afterInteraction()
	assert.Contains(t, out.String(), "1 new sidenote")

	out.Reset()
	r.afterInteraction()
	assert.NotContains(t, out.String(), "new sidenote", "items announce once")

	require.NoError(t, r.engine.AddItem("t2", sess, "deeper", notePayload("two")))
	require.NoError(t, r.engine.AddItem("t2", sess, "deeper", notePayload("three")))
	out.Reset()
	r.afterInteraction()
	assert.Contains(t, out.String(), "2 new sidenotes")
}

func TestHelpListsEveryCommand(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	require.NoError(t, r.dispatch("/help"))
	for name := range r.commands {
		if name == "?" || name == "exit" { // aliases share their entry
			continue
		}
		assert.Contains(t, out.String(), "/"+name, "help should mention /%s", name)
	}
}

func TestModesListing(t *testing.T) {
	r, _, _, out := newTestREPL(t)
	require.NoError(t, r.dispatch("/modes"))
	for _, m := range r.registry.List() {
		assert.Contains(t, out.String(), m.Label)
	}
}

