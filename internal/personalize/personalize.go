// Package personalize evaluates per-user relevance and rewrites article
// summaries for each user's language and complexity.
package personalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"newslens/internal/core"
	"newslens/internal/llm"
	"newslens/internal/logger"
	"newslens/internal/store"
)

// RelevanceThreshold is the score below which an article is discarded for a
// user: nothing is stored.
const RelevanceThreshold = 0.3

// Relevance is the outcome of the scoring call.
type Relevance struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	Usage   core.Usage
}

// Personalizer runs the per-user pipeline stage.
type Personalizer struct {
	store    *store.Store
	provider llm.Provider
}

// New creates a Personalizer.
func New(s *store.Store, p llm.Provider) *Personalizer {
	return &Personalizer{store: s, provider: p}
}

// ForAllUsers personalizes one summarized article for every user.
// Best-effort per user: a failure for one user is logged and absorbed.
func (p *Personalizer) ForAllUsers(ctx context.Context, articleID int64, sum *core.ArticleSummary) {
	userIDs, err := p.store.ActiveUserIDs()
	if err != nil {
		logger.Error("loading users for personalization", err)
		return
	}
	for _, userID := range userIDs {
		if err := p.ForUser(ctx, userID, articleID, sum); err != nil {
			logger.Warn("personalization failed",
				"user_id", userID, "article_id", articleID, "error", err.Error())
		}
	}
}

// ForUser personalizes one article for one user: score relevance, discard
// below the threshold, otherwise generate and store a personalized summary.
func (p *Personalizer) ForUser(ctx context.Context, userID, articleID int64, sum *core.ArticleSummary) error {
	profile, err := p.store.LoadProfile(userID)
	if err != nil {
		return err
	}

	rel := p.EvaluateRelevance(ctx, sum, profile)
	if rel.Score < RelevanceThreshold {
		logger.Debug("article not relevant",
			"article_id", articleID, "user_id", userID, "score", rel.Score)
		return nil
	}

	ps := p.GenerateSummary(ctx, sum, profile, rel.Score)
	us := &core.UserArticleSummary{
		UserID:           userID,
		ArticleID:        articleID,
		RelevanceScore:   rel.Score,
		RelevanceReasons: rel.Reasons,
		IsRelevant:       true,
		Headline:         ps.Headline,
		Bullets:          ps.Bullets,
		Details:          ps.Details,
		Language:         profile.Language,
		Complexity:       profile.Complexity,
		Length:           ps.Length,
		Model:            p.provider.Model(),
	}
	us.Usage.Add(rel.Usage)
	us.Usage.Add(ps.Usage)
	return p.store.SaveUserArticleSummary(us)
}

// EvaluateRelevance scores how relevant an article is to a user in [0,1]
// with one or two reasons. Any LLM or parse failure degrades to the neutral
// score 0.5 so personalization can proceed.
func (p *Personalizer) EvaluateRelevance(ctx context.Context, sum *core.ArticleSummary, profile *core.UserProfile) Relevance {
	prompt := relevancePrompt(sum, profile)
	resp, err := p.provider.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: 0.3,
	})
	if err != nil {
		logger.Warn("relevance call failed, using neutral score", "error", err.Error())
		return Relevance{Score: 0.5}
	}

	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		logger.Warn("relevance output unparseable, using neutral score", "error", err.Error())
		return Relevance{Score: 0.5, Usage: resp.Usage}
	}
	var rel Relevance
	if err := json.Unmarshal([]byte(raw), &rel); err != nil {
		logger.Warn("relevance JSON invalid, using neutral score", "error", err.Error())
		return Relevance{Score: 0.5, Usage: resp.Usage}
	}
	rel.Usage = resp.Usage
	if rel.Score < 0 {
		rel.Score = 0
	}
	if rel.Score > 1 {
		rel.Score = 1
	}
	if len(rel.Reasons) > 2 {
		rel.Reasons = rel.Reasons[:2]
	}
	return rel
}

// PersonalSummary is the rewritten summary for one user.
type PersonalSummary struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Details  string   `json:"details,omitempty"`
	Length   string   `json:"-"`
	Usage    core.Usage
}

// GenerateSummary rewrites the generic summary in the user's language and
// complexity, sized by the relevance score. On failure the generic summary
// is carried forward unchanged.
func (p *Personalizer) GenerateSummary(ctx context.Context, sum *core.ArticleSummary, profile *core.UserProfile, score float64) PersonalSummary {
	bulletCount, length := TargetLength(score)

	prompt := fmt.Sprintf(
		"Rewrite this news summary for a specific reader.\n\n"+
			"READER:\n- language: %s (write EVERYTHING in this language)\n"+
			"- complexity level: %s\n- interests: %s\n\n"+
			"SOURCE SUMMARY:\nHeadline: %s\nKey points: %s\nDetails: %s\n\n"+
			"OUTPUT FORMAT (strict JSON):\n"+
			"{\n  \"headline\": \"rewritten headline (max 100 chars)\",\n"+
			"  \"bullets\": [\"exactly %d key points\"],\n"+
			"  \"details\": \"optional context\"\n}\n",
		profile.Language, profile.Complexity, strings.Join(profile.Interests, ", "),
		sum.Headline, strings.Join(sum.Bullets, "; "), sum.Details, bulletCount,
	)

	fallback := PersonalSummary{
		Headline: sum.Headline,
		Bullets:  sum.Bullets,
		Details:  sum.Details,
		Length:   length,
	}

	resp, err := p.provider.Generate(ctx, llm.Request{
		Prompt:      prompt,
		MaxTokens:   600,
		Temperature: 0.5,
	})
	if err != nil {
		logger.Warn("personalized summary call failed, carrying generic summary", "error", err.Error())
		return fallback
	}
	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		fallback.Usage = resp.Usage
		return fallback
	}
	var ps PersonalSummary
	if err := json.Unmarshal([]byte(raw), &ps); err != nil || ps.Headline == "" {
		fallback.Usage = resp.Usage
		return fallback
	}
	ps.Length = length
	ps.Usage = resp.Usage
	return ps
}

// TargetLength maps a relevance score to the bullet count and length bucket
// of the personalized summary.
func TargetLength(score float64) (bullets int, length string) {
	switch {
	case score > 0.8:
		return 5, core.LengthLong
	case score > 0.5:
		return 3, core.LengthMedium
	default:
		return 2, core.LengthShort
	}
}

func relevancePrompt(sum *core.ArticleSummary, profile *core.UserProfile) string {
	var b strings.Builder
	b.WriteString("Evaluate how relevant this article is for the reader described below.\n\n")
	b.WriteString("READER:\n")
	fmt.Fprintf(&b, "- interests: %s\n", strings.Join(profile.Interests, ", "))
	if len(profile.Categories) > 0 {
		fmt.Fprintf(&b, "- preferred categories: %s\n", strings.Join(profile.Categories, ", "))
	}
	if len(profile.KeywordBoosts) > 0 {
		keys := make([]string, 0, len(profile.KeywordBoosts))
		for k := range profile.KeywordBoosts {
			keys = append(keys, k)
		}
		fmt.Fprintf(&b, "- boosted keywords: %s\n", strings.Join(keys, ", "))
	}
	b.WriteString("\nARTICLE:\n")
	fmt.Fprintf(&b, "Headline: %s\n", sum.Headline)
	fmt.Fprintf(&b, "Key points: %s\n", strings.Join(sum.Bullets, "; "))
	if len(sum.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(sum.Categories, ", "))
	}
	b.WriteString("\nOUTPUT FORMAT (strict JSON):\n")
	b.WriteString("{\n  \"score\": 0.0,\n  \"reasons\": [\"1-2 short reasons\"]\n}\n")
	b.WriteString("Score is a number between 0.0 (irrelevant) and 1.0 (highly relevant).\n")
	return b.String()
}
