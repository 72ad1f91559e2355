// Package core defines the domain types shared across the newslens pipeline.
package core

import (
	"time"
)

// ProcessingStatus tracks an article's position in the summarization pipeline.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// User is an account that subscribes to feeds and receives personalized digests.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name,omitempty"`
	PasswordHash string     `json:"-"`
	Language     string     `json:"preferred_language,omitempty"`
	Complexity   string     `json:"complexity_level,omitempty"`
	ReadingSpeed int        `json:"reading_speed,omitempty"` // words per minute
	Interests    []string   `json:"interests,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Feed is a syndicated URL polled for entries. Feeds are global: ownership is
// expressed through subscriptions, never on the feed row itself.
type Feed struct {
	ID                  int64      `json:"id"`
	URL                 string     `json:"url"`
	SiteURL             string     `json:"site_url,omitempty"`
	Title               string     `json:"title,omitempty"`
	LastChecked         *time.Time `json:"last_checked,omitempty"`
	Status              string     `json:"status,omitempty"`
	NextPollAt          *time.Time `json:"next_poll_at,omitempty"` // nil means due immediately
	PollIntervalMinutes int        `json:"poll_interval_minutes"`
	AdaptiveScheduling  bool       `json:"adaptive_scheduling"`
}

// Polling interval bounds in minutes.
const (
	MinPollInterval = 15
	MaxPollInterval = 1440
)

// Subscription links a user to a feed. Unique on (user_id, feed_id).
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	FeedID    int64     `json:"feed_id"`
	Title     string    `json:"title,omitempty"`
	Weight    int       `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Article is a content item identified by its canonical URL. The same article
// may occur in several feeds (cross-posting); occurrences record that.
type Article struct {
	ID          int64            `json:"id"`
	URL         string           `json:"canonical_url"`
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	FullContent string           `json:"full_content,omitempty"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	Status      ProcessingStatus `json:"processing_status"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

// Occurrence records the observation of an article in a feed.
type Occurrence struct {
	ArticleID    int64     `json:"article_id"`
	FeedID       int64     `json:"feed_id"`
	FeedItemID   string    `json:"feed_item_id,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Usage carries token accounting from an LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Summary is the hierarchical generic summary of an article, in the article's
// original language. Bullets hold 3-7 points when the LLM path succeeds.
type Summary struct {
	Headline string   `json:"headline"`
	Bullets  []string `json:"bullets"`
	Details  string   `json:"details,omitempty"`
	Usage    Usage    `json:"-"`
}

// ArticleSummary is the stored generic summary, 1:1 with an article.
type ArticleSummary struct {
	ArticleID  int64    `json:"article_id"`
	Headline   string   `json:"headline"`
	Bullets    []string `json:"bullets"`
	Details    string   `json:"details,omitempty"`
	Model      string   `json:"model"`
	Categories []string `json:"categories"`
	Usage      Usage    `json:"-"`
}

// SummaryLength buckets for the personalized summary size.
const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"
)

// UserArticleSummary is the per-user rewriting of an article summary.
// It is stored only when the relevance score clears the 0.3 threshold.
type UserArticleSummary struct {
	UserID           int64    `json:"user_id"`
	ArticleID        int64    `json:"article_id"`
	RelevanceScore   float64  `json:"relevance_score"`
	RelevanceReasons []string `json:"relevance_reasons"`
	IsRelevant       bool     `json:"is_relevant"`
	Headline         string   `json:"personalized_headline"`
	Bullets          []string `json:"personalized_bullets"`
	Details          string   `json:"personalized_details,omitempty"`
	Language         string   `json:"language"`
	Complexity       string   `json:"complexity_level"`
	Length           string   `json:"summary_length"`
	Model            string   `json:"llm_model"`
	Usage            Usage    `json:"-"`
}

// UserProfile is the slice of user state personalization needs.
type UserProfile struct {
	ID            int64
	Language      string
	Complexity    string
	ReadingSpeed  int
	Interests     []string
	Categories    []string
	KeywordBoosts map[string]float64
}

// Profile defaults applied when a user has not configured preferences.
const (
	DefaultLanguage     = "en"
	DefaultComplexity   = "medium"
	DefaultReadingSpeed = 250
)

// View records that a user has seen an article. Unique on
// (user_id, article_id): an article is seen globally, not per session.
type View struct {
	UserID    int64     `json:"user_id"`
	ArticleID int64     `json:"article_id"`
	SessionID *int64    `json:"session_id,omitempty"`
	ViewedAt  time.Time `json:"viewed_at"`
	Rating    *int      `json:"rating,omitempty"`
}

// Session is a client connection bounded by a requested duration.
type Session struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	StartAt         time.Time `json:"start_at"`
	DurationSeconds int       `json:"duration_requested_seconds"`
	Title           string    `json:"title,omitempty"`
	DigestSummaryID *int64    `json:"digest_summary_id,omitempty"`
}

// ChatMessage is a single turn inside a session.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Author    string    `json:"author"` // "user" or "assistant"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessingJob tracks one long-running LLM operation. It is the authority on
// whether an article has been summarized; articles.processing_status mirrors
// it for fast filtering.
type ProcessingJob struct {
	ID               int64      `json:"id"`
	JobType          string     `json:"job_type"`
	EntityID         int64      `json:"entity_id"`
	Status           string     `json:"status"`
	Model            string     `json:"llm_model"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms,omitempty"`
}

// DigestCard is one entry of an assembled digest, ready for streaming.
type DigestCard struct {
	ArticleID int64    `json:"article_id"`
	Headline  string   `json:"personalized_headline"`
	Bullets   []string `json:"personalized_bullets"`
	Details   string   `json:"personalized_details,omitempty"`
	FeedTitle string   `json:"feed_title"`
	URL       string   `json:"url"`
	Language  string   `json:"language"`
}

// Preference is an additive per-user knob augmenting the interest vector.
type Preference struct {
	UserID int64   `json:"user_id"`
	Type   string  `json:"preference_type"` // category_filter or keyword_boost
	Key    string  `json:"preference_key"`
	Value  float64 `json:"preference_value"`
}
