// Package repl is sidenote's interactive surface: the readline loop, the
// chat conversation, the slash commands, and the terminal rendering of
// the discovery feed.
package repl

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sidenote-dev/sidenote/internal/storage"
)

// maxReplyTokens bounds one chat reply.
const maxReplyTokens = 4096

// preamble shapes the assistant's tone. It rides inside the first user
// message rather than a system prompt so a restored transcript and a
// fresh one behave the same.
const preamble = `You are the assistant inside sidenote, a terminal chat client that
quietly collects interesting margin notes while we talk. Answer plainly and
concretely. Keep formatting light; your reply renders in a terminal.`

// Conversation holds one session's chat history against the Messages
// API. It is rebuilt wholesale on every session switch; the transcript in
// storage is the durable copy.
type Conversation struct {
	client  *anthropic.Client
	model   string
	history []anthropic.MessageParam
}

// NewConversation creates a conversation with empty history.
func NewConversation(apiKey, model string) (*Conversation, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if model == "" {
		return nil, fmt.Errorf("chat model is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Conversation{client: &client, model: model}, nil
}

// Send appends the user message, calls the model, and appends and
// returns the reply. The first message of a conversation carries the
// preamble.
func (c *Conversation) Send(ctx context.Context, text string) (string, error) {
	full := text
	if len(c.history) == 0 {
		full = preamble + "\n\n---\n\n" + text
	}
	c.history = append(c.history, anthropic.NewUserMessage(anthropic.NewTextBlock(full)))

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxReplyTokens,
		Messages:  c.history,
	})
	if err != nil {
		return "", fmt.Errorf("chat call failed: %w", err)
	}

	var reply string
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply += block.Text
		}
	}

	c.history = append(c.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	return reply, nil
}

// Reset rebuilds the in-memory history from stored transcript rows.
// Passing nil starts a fresh conversation.
func (c *Conversation) Reset(msgs []*storage.Message) {
	c.history = make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case storage.RoleUser:
			c.history = append(c.history, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case storage.RoleAssistant:
			c.history = append(c.history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
}
