package export

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testSession() *storage.Session {
	return &storage.Session{
		ID:        "sess-1",
		Title:     "Gardening chat",
		CreatedAt: t0,
		UpdatedAt: t0.Add(time.Hour),
	}
}

func msg(role, content string, at time.Time) *storage.Message {
	return &storage.Message{ID: content, SessionID: "sess-1", Role: role, Content: content, CreatedAt: at}
}

func item(turnID, modeID, title string, at time.Time) feed.Item {
	return feed.Item{
		ID: title, TurnID: turnID, SessionID: "sess-1", ModeID: modeID,
		Title: title, OneLiner: "one liner for " + title,
		FullSummary: "full summary for " + title, Relevance: "relevance for " + title,
		CreatedAt: at,
	}
}

func registry(t *testing.T) *modes.Registry {
	t.Helper()
	reg, err := modes.NewRegistry(nil, 0)
	require.NoError(t, err)
	return reg
}

func TestMarkdownInterleavesTurnsWithExchanges(t *testing.T) {
	msgs := []*storage.Message{
		msg(storage.RoleUser, "tell me about mulch", t0),
		msg(storage.RoleAssistant, "mulch keeps soil moist", t0.Add(time.Second)),
		msg(storage.RoleUser, "and composting?", t0.Add(time.Minute)),
		msg(storage.RoleAssistant, "compost feeds the soil", t0.Add(time.Minute+time.Second)),
	}
	// t1's items arrived between the exchanges, t2's after the second.
	items := []feed.Item{
		item("t1", "connections", "mulch note", t0.Add(10*time.Second)),
		item("t2", "tangent", "compost note", t0.Add(2*time.Minute)),
	}

	var out strings.Builder
	require.NoError(t, Markdown(&out, testSession(), msgs, items, registry(t)))
	doc := out.String()

	assert.Contains(t, doc, "# Gardening chat")
	assert.Contains(t, doc, "**You:** tell me about mulch")
	assert.Contains(t, doc, "**Assistant:** mulch keeps soil moist")

	// Each turn's notes follow the exchange that spawned them.
	first := strings.Index(doc, "mulch note")
	secondExchange := strings.Index(doc, "and composting?")
	second := strings.Index(doc, "compost note")
	require.True(t, first > 0 && second > 0 && secondExchange > 0)
	assert.Less(t, first, secondExchange, "t1 notes should precede the second exchange")
	assert.Less(t, secondExchange, second, "t2 notes should follow the second exchange")

	assert.NotContains(t, doc, "Collected sidenotes")
}

func TestMarkdownGroupsItemsByTurn(t *testing.T) {
	msgs := []*storage.Message{
		msg(storage.RoleUser, "question", t0),
		msg(storage.RoleAssistant, "answer", t0.Add(time.Second)),
	}
	// Interleaved arrival across two turns from the same exchange window:
	// groups keep their first-arrival order, members stay together.
	items := []feed.Item{
		item("t1", "connections", "alpha", t0.Add(2*time.Second)),
		item("t2", "tangent", "beta", t0.Add(3*time.Second)),
		item("t1", "connections", "gamma", t0.Add(4*time.Second)),
	}

	var out strings.Builder
	require.NoError(t, Markdown(&out, testSession(), msgs, items, registry(t)))
	doc := out.String()

	alpha := strings.Index(doc, "alpha")
	beta := strings.Index(doc, "beta")
	gamma := strings.Index(doc, "gamma")
	assert.Less(t, alpha, gamma, "t1 members stay together")
	assert.Less(t, gamma, beta, "t2 renders after the whole of t1")
}

func TestMarkdownRendersItemFields(t *testing.T) {
	msgs := []*storage.Message{
		msg(storage.RoleUser, "q", t0),
		msg(storage.RoleAssistant, "a", t0.Add(time.Second)),
	}
	sourced := item("t1", "deeper", "a primary source", t0.Add(2*time.Second))
	sourced.SourceURL = "https://example.org/paper"
	sourced.SourceDomain = "example.org"

	var out strings.Builder
	require.NoError(t, Markdown(&out, testSession(), msgs, []feed.Item{sourced}, registry(t)))
	doc := out.String()

	assert.Contains(t, doc, "**Go deeper · a primary source**")
	assert.Contains(t, doc, "one liner for a primary source")
	assert.Contains(t, doc, "full summary for a primary source")
	assert.Contains(t, doc, "*Why it's here:* relevance for a primary source")
	assert.Contains(t, doc, "[example.org](https://example.org/paper)")
}

func TestMarkdownUnanchoredItemsCollect(t *testing.T) {
	// No assistant message precedes the item, so it cannot be anchored.
	msgs := []*storage.Message{msg(storage.RoleUser, "unanswered", t0)}
	items := []feed.Item{item("t1", "connections", "orphan", t0.Add(time.Second))}

	var out strings.Builder
	require.NoError(t, Markdown(&out, testSession(), msgs, items, registry(t)))
	doc := out.String()

	assert.Contains(t, doc, "## Collected sidenotes")
	orphan := strings.Index(doc, "orphan")
	section := strings.Index(doc, "## Collected sidenotes")
	assert.Less(t, section, orphan, "orphan renders inside the fallback section")
}

func TestMarkdownUnknownModeFallsBackToID(t *testing.T) {
	msgs := []*storage.Message{
		msg(storage.RoleUser, "q", t0),
		msg(storage.RoleAssistant, "a", t0.Add(time.Second)),
	}
	items := []feed.Item{item("t1", "retired-mode", "old note", t0.Add(2*time.Second))}

	var out strings.Builder
	require.NoError(t, Markdown(&out, testSession(), msgs, items, registry(t)))
	assert.Contains(t, out.String(), "**retired-mode · old note**")
}

func TestMarkdownForkAnnotation(t *testing.T) {
	sess := testSession()
	sess.ForkedFrom = "parent-id"

	var out strings.Builder
	require.NoError(t, Markdown(&out, sess, nil, nil, registry(t)))
	assert.Contains(t, out.String(), "forked from `parent-id`")
}
