package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/sidenote-dev/sidenote/internal/evaluator"
	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

// Chatter is the conversation surface the shell drives. *Conversation is
// the production implementation; tests script their own.
type Chatter interface {
	Send(ctx context.Context, text string) (string, error)
	Reset(msgs []*storage.Message)
}

// Launcher starts discovery turns. *evaluator.Runner satisfies it.
type Launcher interface {
	Launch(ctx context.Context, sessionID string, ex evaluator.Exchange) string
}

// Config holds shell dependencies.
type Config struct {
	Engine   *feed.Engine
	Store    *storage.Store
	Saver    *storage.Saver // optional; nil skips explicit flushes
	Chat     Chatter
	Runner   Launcher
	Registry *modes.Registry
	Logger   *zap.Logger

	// HistoryFile is the readline history path. Empty keeps history in
	// memory only.
	HistoryFile string

	// Out is where the shell prints. Default os.Stdout.
	Out io.Writer
}

// REPL is the interactive shell.
type REPL struct {
	engine   *feed.Engine
	store    *storage.Store
	saver    *storage.Saver
	chat     Chatter
	runner   Launcher
	registry *modes.Registry
	log      *zap.Logger
	out      io.Writer

	historyFile string
	prompt      string
	rl          *readline.Instance
	ctx         context.Context

	session  *storage.Session
	commands map[string]commandHandler

	noteIndex []string        // item ids in /notes listing order
	announced map[string]bool // item ids already flagged as new
	shown     map[string]bool // notice turn ids already printed

	// confirm asks a yes/no question. Defaults to a readline prompt;
	// tests substitute a canned answer.
	confirm func(prompt string) bool
}

type commandHandler func(args []string) error

// New creates a shell. Engine, Store, Chat, Runner, and Registry are
// required.
func New(cfg *Config) (*REPL, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("feed engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Chat == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("mode registry is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		engine:      cfg.Engine,
		store:       cfg.Store,
		saver:       cfg.Saver,
		chat:        cfg.Chat,
		runner:      cfg.Runner,
		registry:    cfg.Registry,
		log:         log,
		out:         out,
		historyFile: cfg.HistoryFile,
		ctx:         context.Background(),
		commands:    make(map[string]commandHandler),
		announced:   make(map[string]bool),
		shown:       make(map[string]bool),
	}
	r.registerCommands()
	return r, nil
}

// Run opens the most recent session (creating one on first launch) and
// drives the readline loop until /quit or Ctrl+D.
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	if err := r.openStartupSession(); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	r.prompt = cyan("you> ")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt,
		HistoryFile:       r.historyFile,
		AutoComplete:      completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("creating readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl
	if r.confirm == nil {
		r.confirm = r.readlineConfirm
	}

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(r.out, "\nBye.")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			// Even an empty Enter counts as interaction for the notice tray.
			r.afterInteraction()
			continue
		}

		if err := r.dispatch(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("error:"), err)
		}

		r.afterInteraction()
	}
}

// dispatch routes one line: slash commands to their handlers, everything
// else to the chat.
func (r *REPL) dispatch(line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.chatTurn(line)
	}

	parts := strings.Fields(line)
	name := strings.TrimPrefix(parts[0], "/")
	handler, ok := r.commands[name]
	if !ok {
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return handler(parts[1:])
}

// chatTurn runs one exchange: record the user message, get the reply,
// record it, and launch a discovery turn over the pair.
func (r *REPL) chatTurn(text string) error {
	gray := color.New(color.FgHiBlack).SprintFunc()

	if _, err := r.store.AppendMessage(r.ctx, r.session.ID, storage.RoleUser, text); err != nil {
		return fmt.Errorf("recording message: %w", err)
	}

	fmt.Fprintln(r.out, gray("thinking..."))
	reply, err := r.chat.Send(r.ctx, text)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\n%s\n\n", reply)

	if _, err := r.store.AppendMessage(r.ctx, r.session.ID, storage.RoleAssistant, reply); err != nil {
		return fmt.Errorf("recording reply: %w", err)
	}

	r.runner.Launch(r.ctx, r.session.ID, evaluator.Exchange{
		UserMessage:    text,
		AssistantReply: reply,
	})
	fmt.Fprintln(r.out, gray("✦ listening for sidenotes..."))
	return nil
}

// afterInteraction runs once per completed readline: sweep notices past
// their minimum visible window, print notices not yet shown, and flag
// newly arrived items.
func (r *REPL) afterInteraction() {
	r.engine.SweepNotices()
	st := r.engine.Snapshot()

	dim := color.New(color.FgYellow, color.Faint).SprintFunc()
	for _, n := range st.EmptyNotices {
		if r.shown[n.TurnID] {
			continue
		}
		r.shown[n.TurnID] = true
		fmt.Fprintln(r.out, dim("✧ "+n.Message))
	}

	fresh := 0
	for _, it := range st.Items {
		if it.SessionID != st.ActiveSessionID || r.announced[it.ID] {
			continue
		}
		r.announced[it.ID] = true
		fresh++
	}
	if fresh > 0 {
		noun := "sidenotes"
		if fresh == 1 {
			noun = "sidenote"
		}
		marker := color.New(color.FgCyan).SprintFunc()
		fmt.Fprintln(r.out, marker(fmt.Sprintf("✦ %d new %s - /notes to read", fresh, noun)))
	}
}

// openStartupSession resumes the most recently updated session, or
// creates one on first launch.
func (r *REPL) openStartupSession() error {
	sessions, err := r.store.ListSessions(r.ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		sess, err := r.store.CreateSession(r.ctx, "")
		if err != nil {
			return err
		}
		r.session = sess
		r.engine.LoadItems(nil, sess.ID)
		r.chat.Reset(nil)
		r.noteIndex = nil
		r.shown = make(map[string]bool)
		r.announced = make(map[string]bool)
		return nil
	}
	return r.switchTo(sessions[0])
}

// switchTo flushes the current feed, loads the target session's
// transcript and items, and rebuilds the chat history. Pending turns and
// notices die with the switch; in-flight evaluator tasks keep running
// and get refused at the engine's write boundary.
func (r *REPL) switchTo(sess *storage.Session) error {
	if r.saver != nil {
		if err := r.saver.Flush(r.ctx); err != nil {
			return fmt.Errorf("saving current feed: %w", err)
		}
	}

	msgs, err := r.store.GetMessages(r.ctx, sess.ID)
	if err != nil {
		return err
	}
	items, err := r.store.GetItems(r.ctx, sess.ID)
	if err != nil {
		return err
	}

	r.engine.LoadItems(items, sess.ID)
	r.chat.Reset(msgs)
	r.session = sess
	r.noteIndex = nil
	r.shown = make(map[string]bool)
	r.announced = make(map[string]bool)
	for _, it := range items {
		r.announced[it.ID] = true // restored items are not "new"
	}

	if err := r.store.TouchSession(r.ctx, sess.ID); err != nil {
		return err
	}
	r.log.Info("switched session",
		zap.String("session_id", sess.ID),
		zap.Int("messages", len(msgs)),
		zap.Int("items", len(items)))
	return nil
}

// resolveSession interprets ref as a 1-based index into the recency
// listing, a full session id, or an unambiguous id prefix.
func (r *REPL) resolveSession(ref string) (*storage.Session, error) {
	sessions, err := r.store.ListSessions(r.ctx)
	if err != nil {
		return nil, err
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(sessions) {
			return nil, fmt.Errorf("no session numbered %d (see /sessions)", n)
		}
		return sessions[n-1], nil
	}

	var match *storage.Session
	for _, sess := range sessions {
		if sess.ID == ref {
			return sess, nil
		}
		if strings.HasPrefix(sess.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("%q matches more than one session", ref)
			}
			match = sess
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no session matching %q (see /sessions)", ref)
	}
	return match, nil
}

func (r *REPL) readlineConfirm(prompt string) bool {
	r.rl.SetPrompt(prompt)
	defer r.rl.SetPrompt(r.prompt)

	line, err := r.rl.Readline()
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (r *REPL) printWelcome() {
	bold := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", bold("sidenote"))
	fmt.Fprintln(r.out, "Chat away; interesting margin notes collect on the side.")
	fmt.Fprintf(r.out, "Session: %s\n", r.session.Title)
	fmt.Fprintln(r.out, gray("/help for commands, /notes for your sidenotes, Ctrl+D to leave"))
	fmt.Fprintln(r.out)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/new"),
		readline.PcItem("/sessions"),
		readline.PcItem("/switch"),
		readline.PcItem("/rename"),
		readline.PcItem("/fork"),
		readline.PcItem("/notes"),
		readline.PcItem("/open"),
		readline.PcItem("/drop"),
		readline.PcItem("/modes"),
		readline.PcItem("/export"),
		readline.PcItem("/delete"),
		readline.PcItem("/quit"),
	)
}
