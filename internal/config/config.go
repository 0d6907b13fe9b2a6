// Package config loads sidenote settings: defaults first, then the
// config file under the sidenote home directory, then environment
// overrides, validated as a whole.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Env var names. SIDENOTE_HOME and SIDENOTE_DB_PATH exist mainly so tests
// and throwaway shells can isolate their state from ~/.sidenote.
const (
	EnvHome      = "SIDENOTE_HOME"
	EnvDBPath    = "SIDENOTE_DB_PATH"
	EnvChatModel = "SIDENOTE_MODEL"
	EnvEvalModel = "SIDENOTE_EVAL_MODEL"
	EnvDebug     = "SIDENOTE_DEBUG"
	EnvAPIKey    = "ANTHROPIC_API_KEY"
)

// Config is the resolved runtime configuration.
type Config struct {
	// Home is the sidenote home directory holding config.yaml, the
	// database, and logs.
	Home string

	// ChatModel answers the user; EvalModel runs discovery turns and is
	// a cheaper tier by default.
	ChatModel string
	EvalModel string

	// RequestTimeout bounds one API call; TurnTimeout bounds one whole
	// discovery turn across all modes.
	RequestTimeout time.Duration
	TurnTimeout    time.Duration

	// Evaluator throttling.
	RateLimitPerMinute int
	MaxConcurrentCalls int
	MaxRetries         int

	// NoticeMinVisible is the floor before an empty notice may be
	// dismissed. SaveDebounce is the quiet period between a dirty signal
	// and the storage flush.
	NoticeMinVisible time.Duration
	SaveDebounce     time.Duration

	// MaxItemsPerMode caps accepted items per mode per turn.
	// DuplicateThreshold is the normalized edit-distance ratio below
	// which two titles count as the same discovery.
	MaxItemsPerMode    int
	DisabledModes      []string
	DuplicateThreshold float64

	// Debug enables debug-level diagnostics logging.
	Debug bool

	// MinVersion, when set, is a semver floor ("v0.3.0") checked by
	// sidenote doctor. Useful for teams pinning a minimum build.
	MinVersion string
}

// File mirrors <home>/config.yaml. Durations are strings ("60s", "2m")
// and are converted when applied; zero values mean "keep the default".
type File struct {
	ChatModel string `yaml:"chat_model"`
	EvalModel string `yaml:"eval_model"`

	RequestTimeout string `yaml:"request_timeout"`
	TurnTimeout    string `yaml:"turn_timeout"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute" validate:"omitempty,min=1,max=600"`
	MaxConcurrentCalls int `yaml:"max_concurrent_calls" validate:"omitempty,min=1,max=32"`
	MaxRetries         int `yaml:"max_retries" validate:"omitempty,min=0,max=10"`

	NoticeMinVisible string `yaml:"notice_min_visible"`
	SaveDebounce     string `yaml:"save_debounce"`

	MaxItemsPerMode    int      `yaml:"max_items_per_mode" validate:"omitempty,min=1,max=10"`
	DisabledModes      []string `yaml:"disabled_modes"`
	DuplicateThreshold float64  `yaml:"duplicate_threshold" validate:"omitempty,gt=0,lt=1"`

	Debug      bool   `yaml:"debug"`
	MinVersion string `yaml:"min_version"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ChatModel:          "claude-sonnet-4-5-20250929",
		EvalModel:          "claude-3-5-haiku-20241022",
		RequestTimeout:     60 * time.Second,
		TurnTimeout:        90 * time.Second,
		RateLimitPerMinute: 30,
		MaxConcurrentCalls: 3,
		MaxRetries:         3,
		NoticeMinVisible:   4 * time.Second,
		SaveDebounce:       750 * time.Millisecond,
		MaxItemsPerMode:    2,
		DuplicateThreshold: 0.25,
	}
}

// ResolveHome returns the sidenote home directory: the explicit flag
// value if non-empty, else $SIDENOTE_HOME, else ~/.sidenote.
func ResolveHome(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvHome); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".sidenote"), nil
}

// Load reads <home>/config.yaml if present, applies environment
// overrides, and validates the result. A missing file yields defaults;
// a malformed one is an error, never silently ignored.
func Load(home string) (*Config, error) {
	// .env in the working directory is a dev convenience. Existing
	// environment variables win; a missing file is fine.
	_ = godotenv.Load()

	cfg := Default()
	cfg.Home = home

	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if err := validate.Struct(&f); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", path, err)
		}
		if err := f.apply(cfg); err != nil {
			return nil, fmt.Errorf("applying %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies the file's set fields onto cfg, converting durations.
func (f *File) apply(cfg *Config) error {
	if f.ChatModel != "" {
		cfg.ChatModel = f.ChatModel
	}
	if f.EvalModel != "" {
		cfg.EvalModel = f.EvalModel
	}

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{f.RequestTimeout, "request_timeout", &cfg.RequestTimeout},
		{f.TurnTimeout, "turn_timeout", &cfg.TurnTimeout},
		{f.NoticeMinVisible, "notice_min_visible", &cfg.NoticeMinVisible},
		{f.SaveDebounce, "save_debounce", &cfg.SaveDebounce},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if f.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = f.RateLimitPerMinute
	}
	if f.MaxConcurrentCalls > 0 {
		cfg.MaxConcurrentCalls = f.MaxConcurrentCalls
	}
	if f.MaxRetries > 0 {
		cfg.MaxRetries = f.MaxRetries
	}
	if f.MaxItemsPerMode > 0 {
		cfg.MaxItemsPerMode = f.MaxItemsPerMode
	}
	if len(f.DisabledModes) > 0 {
		cfg.DisabledModes = f.DisabledModes
	}
	if f.DuplicateThreshold > 0 {
		cfg.DuplicateThreshold = f.DuplicateThreshold
	}
	if f.Debug {
		cfg.Debug = true
	}
	if f.MinVersion != "" {
		cfg.MinVersion = f.MinVersion
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvChatModel); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv(EnvEvalModel); v != "" {
		cfg.EvalModel = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		cfg.Debug = parsed
	}
	return nil
}

// Validate checks the resolved configuration for values the struct tags
// on File cannot express (durations, cross-field rules, semver).
func (c *Config) Validate() error {
	if c.ChatModel == "" || c.EvalModel == "" {
		return fmt.Errorf("chat_model and eval_model must not be empty")
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s (got %v)", c.RequestTimeout)
	}
	if c.TurnTimeout < c.RequestTimeout {
		return fmt.Errorf("turn_timeout (%v) must be >= request_timeout (%v)",
			c.TurnTimeout, c.RequestTimeout)
	}
	if c.NoticeMinVisible <= 0 {
		return fmt.Errorf("notice_min_visible must be positive (got %v)", c.NoticeMinVisible)
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("save_debounce must be positive (got %v)", c.SaveDebounce)
	}
	if c.MinVersion != "" && !semver.IsValid(c.MinVersion) {
		return fmt.Errorf("min_version %q is not valid semver (expected e.g. v0.3.0)", c.MinVersion)
	}
	return nil
}

// DBPath returns the SQLite database path, honoring SIDENOTE_DB_PATH for
// test isolation.
func (c *Config) DBPath() string {
	if v := os.Getenv(EnvDBPath); v != "" {
		return v
	}
	return filepath.Join(c.Home, "sidenote.db")
}

// LogPath returns the diagnostics log path under the home directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Home, "logs", "sidenote.log")
}

// APIKey returns the Anthropic API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(EnvAPIKey)
}

// ExampleFile returns an annotated example config.yaml. sidenote never
// writes this automatically; doctor prints it as a hint.
func ExampleFile() string {
	return `# sidenote configuration
# Lives at ~/.sidenote/config.yaml (override the directory with --home
# or SIDENOTE_HOME). Every key is optional.

# Models. The chat model answers you; the eval model runs discovery
# turns in the background and defaults to a cheaper tier.
chat_model: claude-sonnet-4-5-20250929
eval_model: claude-3-5-haiku-20241022

# Timeouts. request_timeout bounds one API call, turn_timeout bounds a
# whole discovery turn across all modes.
request_timeout: 60s
turn_timeout: 90s

# Evaluator throttling.
rate_limit_per_minute: 30
max_concurrent_calls: 3
max_retries: 3

# Feed behavior.
notice_min_visible: 4s     # how long "nothing found" notices must stay
save_debounce: 750ms       # quiet period before flushing the feed to disk
max_items_per_mode: 2
duplicate_threshold: 0.25  # edit-distance ratio treated as a duplicate

# Disable discovery modes by id (connections, counterpoint, deeper, tangent).
disabled_modes: []

# Diagnostics log level (file-only, never printed to the terminal).
debug: false

# Optional semver floor enforced by 'sidenote doctor'.
# min_version: v0.3.0
`
}
