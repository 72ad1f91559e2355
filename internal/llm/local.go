package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"newslens/internal/config"
	"newslens/internal/core"
)

// local speaks the OpenAI chat dialect over plain HTTP, for llama.cpp-style
// servers. Kept off the typed SDK because local servers answer the embeddings
// endpoint in several shapes the SDK cannot decode (bare arrays, single
// objects).
type local struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	maxTokens  int
}

func newLocal(m config.Mode) *local {
	base := strings.TrimSuffix(m.APIURL, "/")
	if base == "" {
		base = "http://localhost:8080/v1/chat/completions"
	}
	return &local{
		httpClient: &http.Client{},
		baseURL:    base,
		apiKey:     m.APIKey(),
		model:      m.Model,
		timeout:    m.Timeout(),
		maxTokens:  m.MaxTokens,
	}
}

func (l *local) Model() string { return l.model }

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (l *local) Generate(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = l.timeout
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = l.maxTokens
	}

	body, err := l.post(ctx, l.baseURL, chatRequest{
		Model:       l.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, timeout)
	if err != nil {
		return nil, err
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, core.Errorf(core.KindLLMParse, "decoding completion response: %v", err)
	}
	if len(cr.Choices) == 0 {
		return nil, core.Errorf(core.KindLLMParse, "empty choices in completion response")
	}
	model := cr.Model
	if model == "" {
		model = l.model
	}
	return &Response{
		Content: cr.Choices[0].Message.Content,
		Model:   model,
		Usage: core.Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
	}, nil
}

func (l *local) Summarize(ctx context.Context, content string, maxTokens int) (*core.Summary, error) {
	resp, err := l.Generate(ctx, Request{
		Prompt:      summarizePrompt(content),
		MaxTokens:   maxTokens,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, err
	}
	return parseSummary(resp)
}

func (l *local) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := l.post(ctx, l.embeddingURL(), map[string]any{
		"model": l.model,
		"input": text,
	}, l.timeout)
	if err != nil {
		return nil, err
	}
	return parseEmbedding(body)
}

// embeddingURL derives the embeddings endpoint from the chat endpoint, e.g.
// http://host/v1/chat/completions becomes http://host/v1/embeddings.
func (l *local) embeddingURL() string {
	if strings.HasSuffix(l.baseURL, "/embeddings") {
		return l.baseURL
	}
	if i := strings.Index(l.baseURL, "/chat/completions"); i >= 0 {
		return l.baseURL[:i] + "/embeddings"
	}
	return l.baseURL + "/embeddings"
}

func (l *local) post(ctx context.Context, url string, payload any, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewError(core.KindInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, core.NewError(core.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, core.Errorf(core.KindLLMTimeout, "calling %s: %v", url, err)
		}
		return nil, core.Errorf(core.KindLLMHTTP, "calling %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, core.NewError(core.KindLLMHTTP, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, core.NewHTTPError(core.KindRateLimited, resp.StatusCode,
			fmt.Errorf("%s: %s", url, truncateBody(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewHTTPError(core.KindLLMHTTP, resp.StatusCode,
			fmt.Errorf("%s: %s", url, truncateBody(body)))
	}
	return body, nil
}

// parseEmbedding accepts the three embedding response shapes local servers
// produce: OpenAI-style {data:[{embedding}]}, a bare float array, and a
// single {embedding} object.
func parseEmbedding(body []byte) ([]float32, error) {
	var openaiShape struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &openaiShape); err == nil && len(openaiShape.Data) > 0 && len(openaiShape.Data[0].Embedding) > 0 {
		return openaiShape.Data[0].Embedding, nil
	}

	var bare []float32
	if err := json.Unmarshal(body, &bare); err == nil && len(bare) > 0 {
		return bare, nil
	}

	var single struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &single); err == nil && len(single.Embedding) > 0 {
		return single.Embedding, nil
	}

	return nil, core.Errorf(core.KindLLMParse, "unrecognized embedding response shape")
}

func truncateBody(b []byte) string {
	const max = 300
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
