// Package digest assembles the time-budgeted press review for a session.
package digest

import (
	"math"
	"sort"
	"strings"
	"time"

	"newslens/internal/core"
	"newslens/internal/logger"
	"newslens/internal/store"
)

const (
	// Reading budget bounds in words.
	minTargetWords = 100
	maxTargetWords = 3000

	// Article count estimate bounds.
	minArticles      = 3
	maxArticles      = 15
	wordsPerArticle  = 150
	overshootAllowed = 200

	// Candidate depth per feed.
	perFeedCandidates = 30

	// Half-life bounds.
	minHalfLife     = time.Hour
	maxHalfLife     = 365 * 24 * time.Hour
	defaultHalfLife = 10 * 24 * time.Hour
	halfLifeFactor  = 10

	// publicationSample is how many recent observations feed the average
	// publication interval.
	publicationSample = 20
)

// Weights of the blended score.
const (
	relevanceWeight = 0.4
	semanticWeight  = 0.6
	neutralSemantic = 0.5
)

// Assembler selects and orders the articles of a digest.
type Assembler struct {
	store *store.Store
}

// New creates an Assembler.
func New(s *store.Store) *Assembler {
	return &Assembler{store: s}
}

// Assemble returns the ordered digest cards for a session of the given
// duration. It reads only; recording views is the streamer's concern.
func (a *Assembler) Assemble(userID int64, duration time.Duration) ([]core.DigestCard, error) {
	profile, err := a.store.LoadProfile(userID)
	if err != nil {
		return nil, err
	}
	targetWords := TargetWords(duration, profile.ReadingSpeed)

	candidates, err := a.store.UnreadCandidates(userID, perFeedCandidates)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	userVec, err := a.store.UserVector(userID)
	if err != nil {
		return nil, err
	}
	halfLives := a.feedHalfLives(candidates)

	now := time.Now()
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		articleVec, err := a.store.ArticleVector(c.ArticleID)
		if err != nil {
			return nil, err
		}
		score := FinalScore(c.RelevanceScore, userVec, articleVec,
			now.Sub(c.FirstSeenAt), halfLives[c.FeedID])
		scored = append(scored, scoredCandidate{DigestCandidate: c, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	cards := selectWithinBudget(scored, targetWords, EstimateCount(targetWords))
	logger.Info("digest assembled",
		"user_id", userID, "candidates", len(candidates),
		"selected", len(cards), "target_words", targetWords)
	return cards, nil
}

type scoredCandidate struct {
	store.DigestCandidate
	score float64
}

// TargetWords computes the reading budget: half the session time at the
// user's reading speed, clamped to [100, 3000] words.
func TargetWords(duration time.Duration, readingSpeedWPM int) int {
	if readingSpeedWPM <= 0 {
		readingSpeedWPM = core.DefaultReadingSpeed
	}
	words := int(duration.Minutes() / 2 * float64(readingSpeedWPM))
	if words < minTargetWords {
		return minTargetWords
	}
	if words > maxTargetWords {
		return maxTargetWords
	}
	return words
}

// EstimateCount converts a word budget to an article count in [3, 15].
func EstimateCount(targetWords int) int {
	n := targetWords / wordsPerArticle
	if n < minArticles {
		return minArticles
	}
	if n > maxArticles {
		return maxArticles
	}
	return n
}

// feedHalfLives derives a decay half-life per feed from its recent
// publication cadence.
func (a *Assembler) feedHalfLives(candidates []store.DigestCandidate) map[int64]time.Duration {
	out := map[int64]time.Duration{}
	for _, c := range candidates {
		if _, done := out[c.FeedID]; done {
			continue
		}
		times, err := a.store.FeedPublicationTimes(c.FeedID, publicationSample)
		if err != nil {
			logger.Warn("loading publication times", "feed_id", c.FeedID, "error", err.Error())
		}
		out[c.FeedID] = HalfLife(times)
	}
	return out
}

// HalfLife is ten times the feed's mean publication interval, clamped to
// [1h, 1y]. Feeds with too little history default to ten days.
func HalfLife(newestFirst []time.Time) time.Duration {
	if len(newestFirst) < 2 {
		return defaultHalfLife
	}
	var total time.Duration
	for i := 0; i < len(newestFirst)-1; i++ {
		d := newestFirst[i].Sub(newestFirst[i+1])
		if d < 0 {
			d = -d
		}
		total += d
	}
	avg := total / time.Duration(len(newestFirst)-1)
	hl := avg * halfLifeFactor
	if hl < minHalfLife {
		return minHalfLife
	}
	if hl > maxHalfLife {
		return maxHalfLife
	}
	return hl
}

// FinalScore blends LLM relevance with vector similarity and applies the
// exponential age decay. Missing vectors contribute a neutral 0.5 semantic
// term.
func FinalScore(relevance float64, userVec, articleVec []float32, age time.Duration, halfLife time.Duration) float64 {
	semantic := neutralSemantic
	if len(userVec) > 0 && len(articleVec) > 0 {
		semantic = 1 - store.CosineDistance(userVec, articleVec)
		if semantic < 0 {
			semantic = 0
		}
	}
	blended := relevanceWeight*relevance + semanticWeight*semantic

	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	if age < 0 {
		age = 0
	}
	decay := math.Exp2(-age.Seconds() / halfLife.Seconds())
	return blended * decay
}

// selectWithinBudget appends candidates in score order until the word
// budget or the article-count cap is met and at least three cards are
// emitted, allowing a single overshoot of up to 200 words.
func selectWithinBudget(scored []scoredCandidate, targetWords, maxCards int) []core.DigestCard {
	var cards []core.DigestCard
	words := 0
	for _, c := range scored {
		if len(cards) >= maxCards {
			break
		}
		if words >= targetWords && len(cards) >= minArticles {
			break
		}
		w := cardWords(c.DigestCandidate)
		if words+w > targetWords+overshootAllowed && len(cards) >= minArticles {
			continue
		}
		cards = append(cards, core.DigestCard{
			ArticleID: c.ArticleID,
			Headline:  c.Headline,
			Bullets:   c.Bullets,
			Details:   c.Details,
			FeedTitle: c.FeedTitle,
			URL:       c.URL,
			Language:  c.Language,
		})
		words += w
	}
	return cards
}

// cardWords estimates the reading length of one card.
func cardWords(c store.DigestCandidate) int {
	n := len(strings.Fields(c.Headline))
	for _, b := range c.Bullets {
		n += len(strings.Fields(b))
	}
	n += len(strings.Fields(c.Details))
	return n
}
