package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newslens/internal/core"
	"newslens/internal/llm"
)

const (
	chatHistoryDepth = 10
	chatSnippetRunes = 500
	chatMaxTokens    = 300
	chatTimeout      = 30 * time.Second
	chatTemperature  = 0.7
)

// chatResponse answers one conversation turn grounded in the cards already
// streamed this session.
func (s *Streamer) chatResponse(ctx context.Context, sess *core.Session, userMessage string, articles []articleContext) (string, error) {
	history, err := s.store.LastMessages(sess.ID, chatHistoryDepth)
	if err != nil {
		return "", err
	}

	lang := core.DefaultLanguage
	if profile, err := s.store.LoadProfile(sess.UserID); err == nil {
		lang = profile.Language
	}

	resp, err := s.provider.Generate(ctx, llm.Request{
		Prompt:      chatPrompt(languageName(lang), userMessage, history, articles),
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
		Timeout:     chatTimeout,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func chatPrompt(language, userMessage string, history []core.ChatMessage, articles []articleContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful news assistant for NewsLens. "+
		"The user is exploring their personalized news feed. "+
		"Answer questions concisely and help them understand the news. "+
		"IMPORTANT: You MUST answer in %s.\n\n", language)

	if len(articles) > 0 {
		b.WriteString("Here are the articles in the user's current session:\n\n")
		for i, a := range articles {
			fmt.Fprintf(&b, "Article %d:\nTitle: %s\nSummary: %s\n", i+1, a.Title, a.Summary)
			if a.Content != "" {
				fmt.Fprintf(&b, "Content Snippet: %s\n", truncateRunes(a.Content, chatSnippetRunes))
			}
			b.WriteString("\n")
		}
		b.WriteString("Use the above articles to answer the user's questions if relevant.\n\n")
	}

	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Author, m.Message)
	}
	fmt.Fprintf(&b, "user: %s\nassistant:", userMessage)
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
