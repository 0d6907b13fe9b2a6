package evaluator

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sidenote-dev/sidenote/internal/feed"
)

// candidate is the wire shape of one discovery in the model's response.
type candidate struct {
	Title        string `json:"title"`
	OneLiner     string `json:"one_liner"`
	FullSummary  string `json:"full_summary"`
	Relevance    string `json:"relevance"`
	SourceURL    string `json:"source_url"`
	SourceDomain string `json:"source_domain"`
}

// Model output drifts in predictable ways: fenced JSON, trailing commas,
// prose wrapped around the payload. Compiled once; parsing runs on every
// turn for every mode.
var (
	codeFenceRegex     = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	arrayRegex         = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// parseCandidates extracts the candidate array from raw model output.
// nil with no error means the model explicitly reported nothing found.
//
// Strategy sequence:
//  1. Direct parse
//  2. Remove code fences and retry
//  3. Fix trailing commas and retry
//  4. Extract the array from mixed content and retry
func parseCandidates(text string) ([]candidate, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty evaluator response")
	}
	if isEmptyToken(trimmed) {
		return nil, nil
	}

	if cands, err := tryParse(trimmed); err == nil {
		return cands, nil
	}

	unfenced := removeCodeFences(trimmed)
	if isEmptyToken(unfenced) {
		return nil, nil
	}
	if unfenced != trimmed {
		if cands, err := tryParse(unfenced); err == nil {
			return cands, nil
		}
	}

	cleaned := trailingCommaRegex.ReplaceAllString(unfenced, "$1")
	if cands, err := tryParse(cleaned); err == nil {
		return cands, nil
	}

	if extracted := arrayRegex.FindString(cleaned); extracted != "" {
		if cands, err := tryParse(extracted); err == nil {
			return cands, nil
		}
	}

	return nil, fmt.Errorf("no candidate array in evaluator response: %s", truncate(trimmed, 120))
}

func tryParse(text string) ([]candidate, error) {
	var cands []candidate
	if err := json.Unmarshal([]byte(text), &cands); err != nil {
		return nil, err
	}
	return cands, nil
}

// isEmptyToken recognizes the "nothing found" token, tolerating quoting
// and trailing punctuation.
func isEmptyToken(s string) bool {
	return strings.EqualFold(strings.Trim(s, " \t\r\n.`'\""), emptyToken)
}

// removeCodeFences strips markdown code fences, plus single backticks
// that wrap the whole content.
func removeCodeFences(text string) string {
	cleaned := codeFenceRegex.ReplaceAllString(text, "$1")
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimSpace(strings.Trim(cleaned, "`"))
	}
	return cleaned
}

// payloadsFrom converts candidates into feed payloads. The engine
// validates on acceptance; this only tidies whitespace and fills a
// missing source domain from the URL host.
func payloadsFrom(cands []candidate) []feed.ItemPayload {
	if len(cands) == 0 {
		return nil
	}
	payloads := make([]feed.ItemPayload, 0, len(cands))
	for _, c := range cands {
		p := feed.ItemPayload{
			Title:        strings.TrimSpace(c.Title),
			OneLiner:     strings.TrimSpace(c.OneLiner),
			FullSummary:  strings.TrimSpace(c.FullSummary),
			Relevance:    strings.TrimSpace(c.Relevance),
			SourceURL:    strings.TrimSpace(c.SourceURL),
			SourceDomain: strings.TrimSpace(c.SourceDomain),
		}
		if p.SourceDomain == "" && p.SourceURL != "" {
			if u, err := url.Parse(p.SourceURL); err == nil {
				p.SourceDomain = u.Hostname()
			}
		}
		payloads = append(payloads, p)
	}
	return payloads
}
