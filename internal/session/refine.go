package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newslens/internal/core"
	"newslens/internal/llm"
)

// Refinement limits.
const (
	refineMaxInput   = 2000 // runes of summary fed to the model
	refineMaxTokens  = 600
	refineTimeout    = 45 * time.Second
	minMarkerlessLen = 20 // shortest response accepted without markers
)

var (
	titleMarkers   = []string{"TITLE:", "TITRE:", "Title:", "Titre:"}
	summaryMarkers = []string{"SUMMARY:", "RESUME:", "RÉSUMÉ:", "Summary:", "Resume:", "Résumé:"}
)

// refine translates a card into the reader's language and cleans up
// truncation and markdown just before streaming. Any failure falls back to
// the stored headline and summary in their original language.
func refine(ctx context.Context, provider llm.Provider, card core.DigestCard, userLang string) (title, summary, lang string) {
	raw := card.Details
	if raw == "" {
		raw = strings.Join(card.Bullets, " ")
	}

	input := raw
	if r := []rune(input); len(r) > refineMaxInput {
		input = string(r[:refineMaxInput]) + "..."
	}

	resp, err := provider.Generate(ctx, llm.Request{
		Prompt:      refinePrompt(languageName(userLang), card.Headline, input),
		MaxTokens:   refineMaxTokens,
		Temperature: 0.3,
		Timeout:     refineTimeout,
	})
	if err != nil {
		return card.Headline, raw, card.Language
	}
	t, s, ok := parseRefined(resp.Content, card.Headline)
	if !ok {
		return card.Headline, raw, card.Language
	}
	return t, s, userLang
}

func refinePrompt(language, headline, snippet string) string {
	return fmt.Sprintf(`Task: Translate and refine this news item for a %s speaker.

Original Headline: %s
Content Snippet: %s

Requirements:
1. Language: %s ONLY (for the content).
2. No truncation: Keep the content complete.
3. No Markdown: Output PLAIN TEXT only.
4. Format: Use the exact format below. DO NOT translate the keywords TITLE and SUMMARY.
TITLE: <title>
SUMMARY: <summary>
5. No chatter: Do NOT add intro/outro text. Do NOT add notes like '(Note: ...)'.
6. STRICT: Return ONLY the TITLE and SUMMARY sections.`,
		language, headline, snippet, language)
}

// parseRefined extracts the TITLE/SUMMARY sections from a refinement
// response. Models sometimes translate the markers or drop them entirely, so
// French variants are accepted, and a markerless response long enough to be
// plausible text is taken as the summary with the original title kept.
func parseRefined(content, fallbackTitle string) (title, summary string, ok bool) {
	content = strings.TrimSpace(content)

	tIdx, tLen := findMarker(content, titleMarkers)
	sIdx, sLen := findMarker(content, summaryMarkers)

	if tIdx < 0 || sIdx < 0 {
		if len(content) > minMarkerlessLen {
			return fallbackTitle, content, true
		}
		return "", "", false
	}
	if tIdx >= sIdx {
		return "", "", false
	}

	title = strings.TrimSpace(content[tIdx+tLen : sIdx])
	summary = strings.TrimSpace(stripTrailingNote(content[sIdx+sLen:]))
	if title == "" || summary == "" {
		return "", "", false
	}
	return title, summary, true
}

func findMarker(text string, markers []string) (idx, length int) {
	for _, m := range markers {
		if i := strings.Index(text, m); i >= 0 {
			return i, len(m)
		}
	}
	return -1, 0
}

// stripTrailingNote removes a trailing editorial note the model added despite
// instructions, e.g. "(Note: translated from French)".
func stripTrailingNote(s string) string {
	s = strings.TrimSpace(s)
	for _, pat := range []string{"(Note:", "(Nota:", "\nNote:"} {
		if i := strings.LastIndex(s, pat); i > 10 {
			return s[:i]
		}
	}
	return s
}
