// Package classify tags articles with categories from a closed set.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"newslens/internal/llm"
)

// Categories is the closed set of labels articles may carry.
var Categories = []string{
	"politics", "economy", "technology", "sports", "culture", "science",
	"local_news", "international", "faits_divers", "health", "environment",
}

var known = func() map[string]bool {
	m := make(map[string]bool, len(Categories))
	for _, c := range Categories {
		m[c] = true
	}
	return m
}()

// MaxCategories bounds how many labels one article may carry.
const MaxCategories = 3

// Classify asks the provider for up to three categories. Unknown labels are
// dropped; an empty result is permitted. Errors propagate so the caller can
// record the job outcome, but an empty slice is always a valid answer.
func Classify(ctx context.Context, p llm.Provider, headline string, bullets []string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Classify this article into categories (max %d): %s\n\nKey points: %s\n\n"+
			"Categories: %s\n\n"+
			"Return only category names, comma-separated.",
		MaxCategories, headline, strings.Join(bullets, ", "),
		strings.Join(Categories, ", "),
	)

	resp, err := p.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   50,
		Temperature: 0.3,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return Normalize(resp.Content), nil
}

// Normalize parses a comma-separated label list, lowercases it, drops
// anything outside the closed set and caps the result at MaxCategories.
func Normalize(raw string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		label := strings.ToLower(strings.TrimSpace(part))
		label = strings.Trim(label, ".\"'`")
		if !known[label] || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
		if len(out) == MaxCategories {
			break
		}
	}
	return out
}
