package llm

import (
	"context"
	"strings"

	"newslens/internal/core"
	"newslens/internal/logger"
)

// SummarizeWithFallback asks the provider for a hierarchical summary and
// falls back to an extractive one on any failure. The error reports whether
// the LLM path failed; the summary is always usable.
func SummarizeWithFallback(ctx context.Context, p Provider, text string, maxTokens int) (*core.Summary, error) {
	sum, err := p.Summarize(ctx, text, maxTokens)
	if err == nil {
		logger.Debug("llm summarization succeeded",
			"bullets", len(sum.Bullets), "tokens", sum.Usage.TotalTokens)
		return sum, nil
	}
	logger.Warn("llm summarization failed, using extractive fallback", "error", err.Error())
	return ExtractiveSummary(text), err
}

// ExtractiveSummary builds a summary without an LLM: the first sentence
// becomes the headline, the next five become bullets, and the first 1000
// characters become the details.
func ExtractiveSummary(text string) *core.Summary {
	sentences := splitSentences(text)

	headline := "No content"
	if len(sentences) > 0 {
		headline = truncate(sentences[0], 100)
	}

	var bullets []string
	for _, s := range sentences[min(1, len(sentences)):] {
		if len(bullets) == 5 {
			break
		}
		bullets = append(bullets, truncate(s, 200))
	}

	details := text
	if runes := []rune(details); len(runes) > 1000 {
		details = string(runes[:1000])
	}

	return &core.Summary{
		Headline: headline,
		Bullets:  bullets,
		Details:  details,
	}
}

// splitSentences breaks text on sentence terminators, dropping empties.
func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// truncate caps s at max bytes, ending with an ellipsis when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
