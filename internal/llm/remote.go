package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"newslens/internal/config"
	"newslens/internal/core"
)

// remote talks to an OpenAI-compatible API through the official client
// shapes. Any endpoint speaking the chat-completions dialect works; the base
// URL comes from configuration.
type remote struct {
	client    *openai.Client
	model     string
	timeout   time.Duration
	maxTokens int
}

func newRemote(m config.Mode) *remote {
	cc := openai.DefaultConfig(m.APIKey())
	if m.APIURL != "" {
		cc.BaseURL = m.APIURL
	}
	return &remote{
		client:    openai.NewClientWithConfig(cc),
		model:     m.Model,
		timeout:   m.Timeout(),
		maxTokens: m.MaxTokens,
	}
}

func (r *remote) Model() string { return r.model }

func (r *remote) Generate(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = r.maxTokens
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.Errorf(core.KindLLMParse, "empty choices in completion response")
	}
	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: core.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (r *remote) Summarize(ctx context.Context, content string, maxTokens int) (*core.Summary, error) {
	resp, err := r.Generate(ctx, Request{
		Prompt:      summarizePrompt(content),
		MaxTokens:   maxTokens,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, err
	}
	return parseSummary(resp)
}

func (r *remote) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(r.model),
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, core.Errorf(core.KindLLMParse, "empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// parseSummary decodes the strict-JSON summary shape out of a completion,
// tolerating fences and prose around the object.
func parseSummary(resp *Response) (*core.Summary, error) {
	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return nil, err
	}
	var sj summaryJSON
	if err := json.Unmarshal([]byte(raw), &sj); err != nil {
		return nil, core.Errorf(core.KindLLMParse, "decoding summary JSON: %v", err)
	}
	if sj.Headline == "" {
		return nil, core.Errorf(core.KindLLMParse, "summary JSON missing headline")
	}
	return &core.Summary{
		Headline: sj.Headline,
		Bullets:  sj.Bullets,
		Details:  sj.Details,
		Usage:    resp.Usage,
	}, nil
}

func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(core.KindLLMTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return core.NewHTTPError(core.KindRateLimited, apiErr.HTTPStatusCode, err)
		}
		return core.NewHTTPError(core.KindLLMHTTP, apiErr.HTTPStatusCode, err)
	}
	return core.NewError(core.KindLLMHTTP, err)
}
