package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, home, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load with no config file should succeed: %v", err)
	}

	def := Default()
	if cfg.ChatModel != def.ChatModel {
		t.Errorf("expected default chat model %q, got %q", def.ChatModel, cfg.ChatModel)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("expected default request timeout 60s, got %v", cfg.RequestTimeout)
	}
	if cfg.Home != home {
		t.Errorf("expected home %q, got %q", home, cfg.Home)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
chat_model: claude-test-chat
eval_model: claude-test-eval
request_timeout: 30s
turn_timeout: 2m
rate_limit_per_minute: 10
notice_min_visible: 6s
disabled_modes: [tangent]
duplicate_threshold: 0.4
debug: true
min_version: v0.2.0
`)

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ChatModel != "claude-test-chat" {
		t.Errorf("chat model not applied: %q", cfg.ChatModel)
	}
	if cfg.RequestTimeout != 30*time.Second || cfg.TurnTimeout != 2*time.Minute {
		t.Errorf("timeouts not applied: %v / %v", cfg.RequestTimeout, cfg.TurnTimeout)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("rate limit not applied: %d", cfg.RateLimitPerMinute)
	}
	if cfg.NoticeMinVisible != 6*time.Second {
		t.Errorf("notice floor not applied: %v", cfg.NoticeMinVisible)
	}
	if len(cfg.DisabledModes) != 1 || cfg.DisabledModes[0] != "tangent" {
		t.Errorf("disabled modes not applied: %v", cfg.DisabledModes)
	}
	if cfg.DuplicateThreshold != 0.4 {
		t.Errorf("duplicate threshold not applied: %v", cfg.DuplicateThreshold)
	}
	if !cfg.Debug {
		t.Error("debug not applied")
	}
	if cfg.MinVersion != "v0.2.0" {
		t.Errorf("min version not applied: %q", cfg.MinVersion)
	}

	// Unset keys keep their defaults.
	if cfg.MaxConcurrentCalls != Default().MaxConcurrentCalls {
		t.Errorf("unset key should keep default, got %d", cfg.MaxConcurrentCalls)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "chat_model: from-file\n")
	t.Setenv(EnvChatModel, "from-env")
	t.Setenv(EnvEvalModel, "eval-from-env")

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ChatModel != "from-env" {
		t.Errorf("env should beat file, got %q", cfg.ChatModel)
	}
	if cfg.EvalModel != "eval-from-env" {
		t.Errorf("eval model env override not applied, got %q", cfg.EvalModel)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("MalformedYAML", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "chat_model: [unclosed\n")
		if _, err := Load(home); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("BadDuration", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "request_timeout: fast\n")
		_, err := Load(home)
		if err == nil || !strings.Contains(err.Error(), "request_timeout") {
			t.Fatalf("expected request_timeout error, got %v", err)
		}
	})

	t.Run("TagValidation", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "rate_limit_per_minute: -1\n")
		if _, err := Load(home); err == nil {
			t.Fatal("expected validation error for negative rate limit")
		}
	})

	t.Run("TurnShorterThanRequest", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "request_timeout: 90s\nturn_timeout: 30s\n")
		_, err := Load(home)
		if err == nil || !strings.Contains(err.Error(), "turn_timeout") {
			t.Fatalf("expected cross-field error, got %v", err)
		}
	})

	t.Run("BadMinVersion", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "min_version: 1.2\n")
		_, err := Load(home)
		if err == nil || !strings.Contains(err.Error(), "min_version") {
			t.Fatalf("expected semver error, got %v", err)
		}
	})

	t.Run("BadDebugEnv", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(EnvDebug, "maybe")
		if _, err := Load(home); err == nil {
			t.Fatal("expected error for unparseable SIDENOTE_DEBUG")
		}
	})
}

func TestDBPathOverride(t *testing.T) {
	cfg := Default()
	cfg.Home = "/srv/sidenote"

	if got, want := cfg.DBPath(), filepath.Join("/srv/sidenote", "sidenote.db"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	t.Setenv(EnvDBPath, "/tmp/isolated.db")
	if got := cfg.DBPath(); got != "/tmp/isolated.db" {
		t.Errorf("SIDENOTE_DB_PATH should win, got %q", got)
	}
}

func TestResolveHome(t *testing.T) {
	t.Run("FlagWins", func(t *testing.T) {
		t.Setenv(EnvHome, "/env/home")
		got, err := ResolveHome("/flag/home")
		if err != nil {
			t.Fatalf("ResolveHome failed: %v", err)
		}
		if got != "/flag/home" {
			t.Errorf("flag should win, got %q", got)
		}
	})

	t.Run("EnvNext", func(t *testing.T) {
		t.Setenv(EnvHome, "/env/home")
		got, err := ResolveHome("")
		if err != nil {
			t.Fatalf("ResolveHome failed: %v", err)
		}
		if got != "/env/home" {
			t.Errorf("env should win over default, got %q", got)
		}
	})

	t.Run("DefaultUnderUserHome", func(t *testing.T) {
		t.Setenv(EnvHome, "")
		got, err := ResolveHome("")
		if err != nil {
			t.Fatalf("ResolveHome failed: %v", err)
		}
		if filepath.Base(got) != ".sidenote" {
			t.Errorf("default should end in .sidenote, got %q", got)
		}
	})
}
