package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidenote-dev/sidenote/internal/evaluator"
	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
	"github.com/sidenote-dev/sidenote/internal/repl"
	"github.com/sidenote-dev/sidenote/internal/storage"
)

// shutdownGrace is how long exit waits for in-flight discovery turns
// before abandoning their results.
const shutdownGrace = 2 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat (the default command)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// runChat wires the whole program together: storage, feed engine, saver,
// evaluator, conversation, and the readline shell.
func runChat(ctx context.Context) error {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set (run 'sidenote doctor' for setup checks)")
	}

	store, err := storage.New(cfg.DBPath(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, err := modes.NewRegistry(cfg.DisabledModes, cfg.MaxItemsPerMode)
	if err != nil {
		return err
	}

	// The saver needs the engine for snapshots and the engine needs the
	// saver for dirty signals; the closure breaks the cycle. No mutation
	// can fire OnDirty before both exist.
	var engine *feed.Engine
	saver := storage.NewSaver(store, func() feed.State { return engine.Snapshot() }, cfg.SaveDebounce, log)
	engine = feed.New(feed.Options{
		OnDirty:          saver.MarkDirty,
		MinNoticeVisible: cfg.NoticeMinVisible,
		Logger:           log,
	})
	defer saver.Close()

	client, err := evaluator.NewClient(evaluator.Config{
		APIKey: apiKey,
		Model:  cfg.EvalModel,
		Retry: evaluator.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.RequestTimeout,
		},
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
		Logger:             log,
	})
	if err != nil {
		return err
	}

	runner, err := evaluator.NewRunner(evaluator.RunnerConfig{
		Sink:               engine,
		Eval:               client,
		Registry:           registry,
		TurnTimeout:        cfg.TurnTimeout,
		DuplicateThreshold: cfg.DuplicateThreshold,
		Logger:             log,
	})
	if err != nil {
		return err
	}

	conv, err := repl.NewConversation(apiKey, cfg.ChatModel)
	if err != nil {
		return err
	}

	shell, err := repl.New(&repl.Config{
		Engine:      engine,
		Store:       store,
		Saver:       saver,
		Chat:        conv,
		Runner:      runner,
		Registry:    registry,
		Logger:      log,
		HistoryFile: filepath.Join(cfg.Home, "history"),
	})
	if err != nil {
		return err
	}

	runErr := shell.Run(ctx)

	// Give straggling turns a moment to land before the deferred flush;
	// whatever misses the window is discarded, not corrupted.
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Debug("abandoning in-flight discovery turns at exit")
	}

	return runErr
}
