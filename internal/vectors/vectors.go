// Package vectors maintains article embeddings and per-user interest
// vectors.
package vectors

import (
	"context"
	"strings"

	"newslens/internal/core"
	"newslens/internal/llm"
	"newslens/internal/logger"
	"newslens/internal/store"
)

// Interaction weights for the interest-vector update.
const (
	WeightView = 1.0
	WeightRate = 2.0
	WeightChat = 2.0
)

// alphaFactor scales an interaction weight into the EMA step size.
const alphaFactor = 0.1

// Updater embeds articles and keeps user interest vectors current.
type Updater struct {
	store    *store.Store
	provider llm.Provider
}

// New creates an Updater.
func New(s *store.Store, p llm.Provider) *Updater {
	return &Updater{store: s, provider: p}
}

// EmbedMissingArticles finds completed articles without a vector, embeds
// them and stores the result. Per-article failures are absorbed. Returns the
// number of vectors written.
func (u *Updater) EmbedMissingArticles(ctx context.Context, limit int) int {
	articles, err := u.store.ArticlesMissingVectors(limit)
	if err != nil {
		logger.Error("selecting articles without vectors", err)
		return 0
	}
	done := 0
	for _, a := range articles {
		text, err := u.embeddingInput(a)
		if err != nil {
			logger.Warn("building embedding input", "article_id", a.ID, "error", err.Error())
			continue
		}
		vec, err := u.provider.Embed(ctx, text)
		if err != nil {
			logger.Warn("embedding article failed", "article_id", a.ID, "error", err.Error())
			continue
		}
		if err := u.store.SaveArticleVector(a.ID, vec); err != nil {
			logger.Error("storing article vector", err, "article_id", a.ID)
			continue
		}
		done++
	}
	if done > 0 {
		logger.Info("embedded articles", "count", done)
	}
	return done
}

// embeddingInput assembles the text to embed: the title plus the summary
// when one exists, otherwise the first 500 characters of content.
func (u *Updater) embeddingInput(a core.Article) (string, error) {
	sum, err := u.store.GetArticleSummary(a.ID)
	if err == nil && sum.Headline != "" {
		return a.Title + "\n" + sum.Headline + " " + strings.Join(sum.Bullets, " "), nil
	}
	if !core.IsKind(err, core.KindNotFound) && err != nil {
		return "", err
	}
	content := a.Content
	if runes := []rune(content); len(runes) > 500 {
		content = string(runes[:500])
	}
	return a.Title + "\n" + content, nil
}

// InitializeUserVectors embeds the interest keywords of any user who has
// them but no vector yet.
func (u *Updater) InitializeUserVectors(ctx context.Context) {
	users, err := u.store.UsersWithInterestsMissingVector()
	if err != nil {
		logger.Error("selecting users without vectors", err)
		return
	}
	for _, usr := range users {
		vec, err := u.provider.Embed(ctx, strings.Join(usr.Interests, " "))
		if err != nil {
			logger.Warn("embedding user interests failed", "user_id", usr.ID, "error", err.Error())
			continue
		}
		if err := u.store.SaveUserVector(usr.ID, vec); err != nil {
			logger.Error("storing user vector", err, "user_id", usr.ID)
			continue
		}
		logger.Info("initialized interest vector", "user_id", usr.ID, "dims", len(vec))
	}
}

// ApplyInteraction folds an article vector into the user's interest vector
// with an exponential moving average. Step size is alphaFactor times the
// interaction weight. A user without a vector adopts the article vector.
// A missing article vector is a no-op.
func (u *Updater) ApplyInteraction(userID, articleID int64, weight float64) error {
	articleVec, err := u.store.ArticleVector(articleID)
	if err != nil {
		return err
	}
	if articleVec == nil {
		return nil
	}
	userVec, err := u.store.UserVector(userID)
	if err != nil {
		return err
	}
	return u.store.SaveUserVector(userID, EMA(userVec, articleVec, weight))
}

// EMA returns (1-α)·user + α·article with α = alphaFactor·weight. A nil or
// mismatched user vector yields the article vector unchanged.
func EMA(user, article []float32, weight float64) []float32 {
	if len(user) == 0 || len(user) != len(article) {
		out := make([]float32, len(article))
		copy(out, article)
		return out
	}
	alpha := alphaFactor * weight
	if alpha > 1 {
		alpha = 1
	}
	out := make([]float32, len(user))
	for i := range user {
		out[i] = float32((1-alpha)*float64(user[i]) + alpha*float64(article[i]))
	}
	return out
}
