package evaluator

import (
	"fmt"
	"strings"

	"github.com/sidenote-dev/sidenote/internal/modes"
)

// maxExchangeChars truncates each side of the exchange before it goes to
// the evaluator. A pasted wall of text still evaluates fine from its
// head; sending all of it just burns tokens.
const maxExchangeChars = 6000

// emptyToken is the model's answer when a lens finds nothing.
const emptyToken = "NOTHING"

const contractTemplate = `Respond with ONLY a JSON array, no prose and no code fences. Each element:
{
  "title": "short headline, at most 80 characters",
  "one_liner": "one sentence a reader can scan in passing",
  "full_summary": "two to four sentences of real substance",
  "relevance": "one sentence on why this belongs next to the exchange",
  "source_url": "https://... (omit unless confident it exists)",
  "source_domain": "example.org (omit along with source_url)"
}

Offer at most %d elements, and only what genuinely deserves a reader's
attention. Obvious restatements of the exchange are worthless. If the
lens turns up nothing, respond with the single token %s.`

// buildPrompt assembles the instruction for one (mode, exchange) pair.
func buildPrompt(m modes.Mode, ex Exchange) string {
	var b strings.Builder

	b.WriteString("You are the discovery engine behind sidenote, a terminal chat client ")
	b.WriteString("that pins brief margin notes beside a conversation with an assistant. ")
	b.WriteString("You read one exchange through one lens and report what it turned up.\n\n")

	b.WriteString("Your lens for this pass: ")
	b.WriteString(m.Lens)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, contractTemplate, m.MaxItems, emptyToken)
	if m.Sourced {
		b.WriteString("\n\nEvery element MUST carry source_url and source_domain pointing at a real, findable reference. Skip anything you cannot source.")
	}

	b.WriteString("\n\nThe exchange:\n\nUser: ")
	b.WriteString(truncate(ex.UserMessage, maxExchangeChars))
	b.WriteString("\n\nAssistant: ")
	b.WriteString(truncate(ex.AssistantReply, maxExchangeChars))

	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
