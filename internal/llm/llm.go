// Package llm adapts chat-completion and embedding backends behind a single
// provider interface. Two named modes (background and interactive) are kept
// as two separately configured instances.
package llm

import (
	"context"
	"strings"
	"time"

	"newslens/internal/config"
	"newslens/internal/core"
)

// Request is one generation call.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration // zero means the provider default
}

// Response is the result of a generation call.
type Response struct {
	Content string
	Model   string
	Usage   core.Usage
}

// Provider is the capability set every LLM backend offers.
type Provider interface {
	// Generate runs a chat completion for the prompt.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Summarize produces a hierarchical summary of the content in its
	// original language.
	Summarize(ctx context.Context, content string, maxTokens int) (*core.Summary, error)
	// Embed maps text into the embedding space.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model names the configured model, for job records.
	Model() string
}

// New builds a provider for the named mode from the configuration. Adapter
// "none" yields a disabled provider whose calls all fail, which downstream
// code turns into extractive fallbacks.
func New(cfg config.LLM, mode string) Provider {
	m := cfg.ModeFor(mode)
	switch cfg.Adapter {
	case "remote":
		return newRemote(m)
	case "local":
		return newLocal(m)
	default:
		return disabled{}
	}
}

// disabled is the adapter used when no LLM is configured.
type disabled struct{}

func (disabled) Generate(context.Context, Request) (*Response, error) {
	return nil, core.Errorf(core.KindLLMHTTP, "llm adapter disabled")
}

func (disabled) Summarize(context.Context, string, int) (*core.Summary, error) {
	return nil, core.Errorf(core.KindLLMHTTP, "llm adapter disabled")
}

func (disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, core.Errorf(core.KindLLMHTTP, "llm adapter disabled")
}

func (disabled) Model() string { return "none" }

// ExtractJSON pulls a JSON object out of free-form LLM output. It accepts
// text fenced by triple backticks (with or without a json tag) and, as a
// last resort, the substring between the first '{' and the last '}'.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		// Skip a language tag such as "json" on the fence line.
		if j := strings.IndexByte(rest, '\n'); j >= 0 {
			tag := strings.TrimSpace(rest[:j])
			if tag == "" || !strings.ContainsAny(tag, "{}") {
				rest = rest[j+1:]
			}
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			candidate := strings.TrimSpace(rest[:j])
			if candidate != "" {
				text = candidate
			}
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", core.Errorf(core.KindLLMParse, "no JSON object in output")
	}
	return text[start : end+1], nil
}

const summarizePromptHeader = `You are a news article summarizer. Create a concise, informative summary.

IMPORTANT INSTRUCTIONS:
1. IGNORE all markdown formatting (###, **, __, etc.) - extract only text content
2. Create a REAL summary of the key points (not just the first few lines)
3. Be concise but capture the essential information from the ENTIRE article
4. KEEP THE ORIGINAL LANGUAGE - do not translate (translation happens later)

OUTPUT FORMAT (strict JSON):
{
  "headline": "one-line summary in original language (max 100 chars)",
  "bullets": ["key point 1", "key point 2", "key point 3"],
  "details": "optional additional context"
}

Use 3-7 bullet points that capture the most important information.

ARTICLE TO SUMMARIZE:
`

func summarizePrompt(content string) string {
	return summarizePromptHeader + content
}

// summaryJSON is the shape the summarize prompt requests.
type summaryJSON struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Details  string   `json:"details,omitempty"`
}
