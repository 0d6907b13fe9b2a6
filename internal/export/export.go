// Package export renders one session to Markdown: the transcript
// interleaved with the sidenotes each exchange turned up.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

// turnGroup is one turn's items in feed arrival order. Groups are
// ordered by each turn's first arrival, matching how the feed displays.
type turnGroup struct {
	turnID string
	items  []feed.Item
}

// Markdown writes sess as a Markdown document. Sidenotes are grouped by
// turn and placed after the exchange that spawned them; the feed carries
// no turn-to-exchange link, so the anchor is the last assistant message
// recorded before the turn's first item arrived (turns launch only after
// the reply is stored). Groups that cannot be anchored land in a
// trailing "Collected sidenotes" section. Pure function over its inputs.
func Markdown(w io.Writer, sess *storage.Session, msgs []*storage.Message, items []feed.Item, reg *modes.Registry) error {
	if sess == nil {
		return fmt.Errorf("session is required")
	}

	groups := groupByTurn(items)
	anchored, loose := anchorGroups(groups, msgs)

	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	fmt.Fprintf(&b, "*Started %s · last active %s", fmtDay(sess.CreatedAt), fmtDay(sess.UpdatedAt))
	if sess.ForkedFrom != "" {
		fmt.Fprintf(&b, " · forked from `%s`", sess.ForkedFrom)
	}
	b.WriteString("*\n")

	for i, m := range msgs {
		b.WriteString("\n")
		switch m.Role {
		case storage.RoleUser:
			fmt.Fprintf(&b, "**You:** %s\n", m.Content)
		case storage.RoleAssistant:
			fmt.Fprintf(&b, "**Assistant:** %s\n", m.Content)
		}
		for _, g := range anchored[i] {
			writeGroup(&b, g, reg)
		}
	}

	if len(loose) > 0 {
		b.WriteString("\n## Collected sidenotes\n")
		for _, g := range loose {
			writeGroup(&b, g, reg)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// groupByTurn buckets items by turn id, keeping arrival order both
// across groups (first arrival decides) and within each group.
func groupByTurn(items []feed.Item) []turnGroup {
	index := make(map[string]int)
	var groups []turnGroup
	for _, it := range items {
		i, ok := index[it.TurnID]
		if !ok {
			i = len(groups)
			index[it.TurnID] = i
			groups = append(groups, turnGroup{turnID: it.TurnID})
		}
		groups[i].items = append(groups[i].items, it)
	}
	return groups
}

// anchorGroups maps each group to the index of the assistant message it
// follows. Groups with no preceding assistant message are returned as
// loose.
func anchorGroups(groups []turnGroup, msgs []*storage.Message) (map[int][]turnGroup, []turnGroup) {
	anchored := make(map[int][]turnGroup)
	var loose []turnGroup
	for _, g := range groups {
		first := g.items[0].CreatedAt
		anchor := -1
		for i, m := range msgs {
			if m.Role == storage.RoleAssistant && !m.CreatedAt.After(first) {
				anchor = i
			}
		}
		if anchor < 0 {
			loose = append(loose, g)
			continue
		}
		anchored[anchor] = append(anchored[anchor], g)
	}
	return anchored, loose
}

func writeGroup(b *strings.Builder, g turnGroup, reg *modes.Registry) {
	b.WriteString("\n> **Sidenotes**\n")
	for _, it := range g.items {
		fmt.Fprintf(b, ">\n> ✦ **%s · %s**\n", modeLabel(reg, it.ModeID), it.Title)
		fmt.Fprintf(b, "> %s\n", it.OneLiner)
		fmt.Fprintf(b, "> %s\n", it.FullSummary)
		fmt.Fprintf(b, "> *Why it's here:* %s\n", it.Relevance)
		if it.SourceURL != "" {
			domain := it.SourceDomain
			if domain == "" {
				domain = it.SourceURL
			}
			fmt.Fprintf(b, "> Source: [%s](%s)\n", domain, it.SourceURL)
		}
	}
}

// modeLabel resolves a mode id to its display label, falling back to the
// raw id for items stored by a build with modes this one lacks.
func modeLabel(reg *modes.Registry, id string) string {
	if reg != nil {
		if m, ok := reg.Get(id); ok {
			return m.Label
		}
	}
	return id
}

func fmtDay(t time.Time) string {
	return t.Format("2006-01-02")
}
