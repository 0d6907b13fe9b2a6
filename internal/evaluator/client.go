// Package evaluator runs discovery turns. For each enabled mode it asks a
// model to read one conversational exchange through that mode's lens and
// offers whatever comes back to the feed engine, which accepts or drops
// every write based on the session that is active at that instant.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sidenote-dev/sidenote/internal/feed"
	"github.com/sidenote-dev/sidenote/internal/modes"
)

// maxResponseTokens bounds one evaluation response. Candidates are a few
// sentences each; anything past this is the model rambling.
const maxResponseTokens = 1536

// Exchange is one conversational exchange: what the user said and what
// the assistant answered. Discovery turns read exactly one exchange.
type Exchange struct {
	UserMessage    string
	AssistantReply string
}

// Config holds evaluator client settings.
type Config struct {
	// APIKey authenticates against the Anthropic API.
	APIKey string

	// Model is the evaluator model id, typically a cheaper tier than the
	// chat model since every exchange fans out to several calls.
	Model string

	// Retry configures per-call timeout, backoff, and the circuit breaker.
	// Unset fields take defaults from DefaultRetryConfig.
	Retry RetryConfig

	// RateLimitPerMinute caps request starts across all turns and modes.
	// 0 disables rate limiting.
	RateLimitPerMinute int

	// MaxConcurrentCalls bounds in-flight API calls. 0 means unbounded.
	MaxConcurrentCalls int

	// Logger receives diagnostics. The evaluator never writes to the
	// terminal; a readline prompt owns it. Default zap.NewNop.
	Logger *zap.Logger
}

// Client evaluates exchanges against the Anthropic Messages API. One
// client is shared by every turn and owns the retry, circuit-breaker,
// rate-limit, and concurrency machinery so the per-mode tasks stay dumb.
type Client struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient creates a client. The API key and model are required.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("evaluator model is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	retry := cfg.Retry.withDefaults()

	c := &Client{
		client:  &client,
		model:   cfg.Model,
		retry:   retry,
		breaker: NewCircuitBreaker(retry, cfg.Logger),
		log:     cfg.Logger,
	}
	if cfg.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.RateLimitPerMinute > 0 {
		interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
		burst := cfg.MaxConcurrentCalls
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), burst)
	}
	return c, nil
}

// Evaluate runs one mode's lens over one exchange. A nil slice with no
// error means the lens genuinely found nothing; an error means the call
// or its response failed and says nothing about the exchange.
func (c *Client) Evaluate(ctx context.Context, m modes.Mode, ex Exchange) ([]feed.ItemPayload, error) {
	prompt := buildPrompt(m, ex)

	var text string
	err := c.withRetry(ctx, "evaluate/"+m.ID, func(attemptCtx context.Context) error {
		resp, err := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxResponseTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return err
		}
		text = textContent(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	cands, err := parseCandidates(text)
	if err != nil {
		c.log.Debug("unparseable evaluator response",
			zap.String("mode", m.ID),
			zap.Error(err))
		return nil, err
	}
	return payloadsFrom(cands), nil
}

// textContent concatenates the text blocks of a response.
func textContent(resp *anthropic.Message) string {
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}
