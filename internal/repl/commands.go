package repl

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/sidenote-dev/sidenote/internal/export"
	"github.com/sidenote-dev/sidenote/internal/feed"
)

// registerCommands registers all slash commands.
func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["new"] = r.cmdNew
	r.commands["sessions"] = r.cmdSessions
	r.commands["switch"] = r.cmdSwitch
	r.commands["rename"] = r.cmdRename
	r.commands["fork"] = r.cmdFork
	r.commands["notes"] = r.cmdNotes
	r.commands["open"] = r.cmdOpen
	r.commands["drop"] = r.cmdDrop
	r.commands["modes"] = r.cmdModes
	r.commands["export"] = r.cmdExport
	r.commands["delete"] = r.cmdDelete
	r.commands["quit"] = r.cmdQuit
	r.commands["exit"] = r.cmdQuit
}

func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Commands"))

	commands := []struct {
		name string
		desc string
	}{
		{"/help", "Show this help message"},
		{"/new [title]", "Start a fresh session"},
		{"/sessions", "List sessions, most recent first"},
		{"/switch <n|id>", "Switch to another session"},
		{"/rename <title>", "Rename this session"},
		{"/fork [title]", "Fork this session, transcript and notes included"},
		{"/notes", "Show this session's sidenotes"},
		{"/open <n>", "Expand or collapse a sidenote"},
		{"/drop <n>", "Remove a sidenote"},
		{"/modes", "Show discovery modes"},
		{"/export [path]", "Export this session as Markdown"},
		{"/delete", "Delete this session and everything in it"},
		{"/quit", "Leave sidenote"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-16s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out, "\nAnything without a leading / is sent to the assistant.")
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdNew(args []string) error {
	title := strings.Join(args, " ")
	sess, err := r.store.CreateSession(r.ctx, title)
	if err != nil {
		return err
	}
	if err := r.switchTo(sess); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Started %q\n", green("✓"), sess.Title)
	return nil
}

func (r *REPL) cmdSessions(args []string) error {
	sessions, err := r.store.ListSessions(r.ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Sessions"))
	for i, sess := range sessions {
		marker := " "
		title := sess.Title
		if sess.ID == r.session.ID {
			marker = "*"
			title = bold(title)
		}
		n, err := r.store.CountItems(r.ctx, sess.ID)
		if err != nil {
			return err
		}
		notes := ""
		if n > 0 {
			notes = fmt.Sprintf(" · %d notes", n)
		}
		fmt.Fprintf(r.out, "%s %2d. %s %s\n", marker, i+1, title,
			gray(fmt.Sprintf("(%s · %s%s)", shortID(sess.ID), sess.UpdatedAt.Format("Jan 2 15:04"), notes)))
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdSwitch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /switch <n|id>")
	}
	sess, err := r.resolveSession(args[0])
	if err != nil {
		return err
	}
	if sess.ID == r.session.ID {
		fmt.Fprintln(r.out, "Already there.")
		return nil
	}
	if err := r.switchTo(sess); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Switched to %q\n", green("✓"), sess.Title)
	return nil
}

func (r *REPL) cmdRename(args []string) error {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		return fmt.Errorf("usage: /rename <title>")
	}
	if err := r.store.RenameSession(r.ctx, r.session.ID, title); err != nil {
		return err
	}
	r.session.Title = title
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Renamed to %q\n", green("✓"), title)
	return nil
}

func (r *REPL) cmdFork(args []string) error {
	// Flush before forking: the fork copies stored rows, so anything
	// still sitting in the debounce window has to land first.
	if r.saver != nil {
		if err := r.saver.Flush(r.ctx); err != nil {
			return fmt.Errorf("saving feed before fork: %w", err)
		}
	}

	title := strings.Join(args, " ")
	fork, err := r.store.ForkSession(r.ctx, r.session.ID, title)
	if err != nil {
		return err
	}
	if err := r.switchTo(fork); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Forked into %q\n", green("✓"), fork.Title)
	return nil
}

func (r *REPL) cmdNotes(args []string) error {
	st := r.engine.Snapshot()

	var own []feed.Item
	for _, it := range st.Items {
		if it.SessionID == st.ActiveSessionID {
			own = append(own, it)
		}
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	if len(own) == 0 {
		r.noteIndex = nil
		fmt.Fprintln(r.out, gray("No sidenotes yet. Keep chatting; they arrive on their own."))
		if st.Searching {
			fmt.Fprintln(r.out, gray("(a discovery turn is still running)"))
		}
		return nil
	}

	// Group by turn, first arrival deciding group order, so one turn's
	// notes read together even when arrivals interleaved.
	turnOf := make(map[string]int)
	var turns [][]feed.Item
	for _, it := range own {
		i, ok := turnOf[it.TurnID]
		if !ok {
			i = len(turns)
			turnOf[it.TurnID] = i
			turns = append(turns, nil)
		}
		turns[i] = append(turns[i], it)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Sidenotes"))

	r.noteIndex = r.noteIndex[:0]
	n := 0
	for ti, turn := range turns {
		if ti > 0 {
			fmt.Fprintf(r.out, "  %s\n", gray("···"))
		}
		for _, it := range turn {
			n++
			r.noteIndex = append(r.noteIndex, it.ID)
			r.printItem(n, it)
		}
	}
	if st.Searching {
		fmt.Fprintln(r.out, gray("(a discovery turn is still running)"))
	}
	fmt.Fprintln(r.out)
	return nil
}

// printItem renders one note. Collapsed items show the one-liner;
// expanded items add the full summary, relevance, and source.
func (r *REPL) printItem(n int, it feed.Item) {
	gray := color.New(color.FgHiBlack).SprintFunc()

	label := it.ModeID
	if m, ok := r.registry.Get(it.ModeID); ok {
		label = color.New(m.Color).Sprint(m.Label)
	}

	fmt.Fprintf(r.out, "%3d. [%s] %s\n", n, label, it.Title)
	fmt.Fprintf(r.out, "     %s\n", it.OneLiner)
	if !it.Expanded {
		return
	}
	fmt.Fprintf(r.out, "     %s\n", it.FullSummary)
	fmt.Fprintf(r.out, "     %s %s\n", gray("why:"), it.Relevance)
	if it.SourceURL != "" {
		fmt.Fprintf(r.out, "     %s %s\n", gray("↗"), it.SourceURL)
	}
}

func (r *REPL) cmdOpen(args []string) error {
	it, err := r.noteAt(args, "open")
	if err != nil {
		return err
	}
	if err := r.engine.ToggleExpanded(it.ID); err != nil {
		return err
	}

	// Re-read so the echo shows the new state.
	for _, cur := range r.engine.Snapshot().Items {
		if cur.ID == it.ID {
			r.printItem(indexOf(r.noteIndex, it.ID)+1, cur)
			break
		}
	}
	return nil
}

func (r *REPL) cmdDrop(args []string) error {
	it, err := r.noteAt(args, "drop")
	if err != nil {
		return err
	}
	if err := r.engine.RemoveItem(it.ID); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Dropped %q\n", green("✓"), it.Title)
	return nil
}

// noteAt resolves a 1-based /notes listing number to its item. Numbers
// stay valid until the next /notes; a number whose item was since
// dropped resolves to a friendly error.
func (r *REPL) noteAt(args []string, verb string) (feed.Item, error) {
	if len(args) != 1 {
		return feed.Item{}, fmt.Errorf("usage: /%s <n> (numbers from /notes)", verb)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.noteIndex) {
		return feed.Item{}, fmt.Errorf("no note numbered %q (run /notes first)", args[0])
	}
	id := r.noteIndex[n-1]
	for _, it := range r.engine.Snapshot().Items {
		if it.ID == id {
			return it, nil
		}
	}
	return feed.Item{}, fmt.Errorf("note %d is gone; run /notes for a fresh listing", n)
}

func indexOf(ids []string, id string) int {
	for i, have := range ids {
		if have == id {
			return i
		}
	}
	return -1
}

func (r *REPL) cmdModes(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Discovery modes"))
	for _, m := range r.registry.List() {
		state := green("on ")
		if !r.registry.IsEnabled(m.ID) {
			state = gray("off")
		}
		label := color.New(m.Color).Sprint(m.Label)
		fmt.Fprintf(r.out, "  %s  %-14s %s\n", state, label, gray(m.Lens))
	}
	fmt.Fprintln(r.out, gray("\nDisable modes with disabled_modes in config.yaml."))
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdExport(args []string) error {
	if r.saver != nil {
		if err := r.saver.Flush(r.ctx); err != nil {
			return fmt.Errorf("saving feed before export: %w", err)
		}
	}

	path := fmt.Sprintf("sidenote-%s.md", shortID(r.session.ID))
	if len(args) > 0 {
		path = strings.Join(args, " ")
	}

	msgs, err := r.store.GetMessages(r.ctx, r.session.ID)
	if err != nil {
		return err
	}
	items, err := r.store.GetItems(r.ctx, r.session.ID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := export.Markdown(f, r.session, msgs, items, r.registry); err != nil {
		f.Close()
		return fmt.Errorf("writing export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Exported to %s\n", green("✓"), path)
	return nil
}

func (r *REPL) cmdDelete(args []string) error {
	yellow := color.New(color.FgYellow).SprintFunc()
	if !r.confirm(yellow(fmt.Sprintf("Delete %q and all of its notes? [y/N] ", r.session.Title))) {
		fmt.Fprintln(r.out, "Kept.")
		return nil
	}

	deleted := r.session.Title
	if err := r.store.DeleteSession(r.ctx, r.session.ID); err != nil {
		return err
	}
	// Full teardown: the rows are gone, so transient state and the active
	// session go with them.
	r.engine.ClearAll()
	r.session = nil

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Deleted %q\n", green("✓"), deleted)

	// Land somewhere: the most recent surviving session, or a fresh one.
	if err := r.openStartupSession(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Now in %q\n", r.session.Title)
	return nil
}

func (r *REPL) cmdQuit(args []string) error {
	fmt.Fprintln(r.out, "Bye.")
	return io.EOF
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
