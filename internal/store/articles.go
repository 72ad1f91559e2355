package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"newslens/internal/core"
)

// UpsertArticle inserts an article keyed by canonical URL and returns
// (id, wasNew). An existing row is left untouched; dedupe happens here.
func (s *Store) UpsertArticle(canonicalURL, title, content string, publishedAt *time.Time) (int64, bool, error) {
	var published any
	if publishedAt != nil {
		published = formatTime(*publishedAt)
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO articles (canonical_url, title, content, published_at, first_seen_at)
		 VALUES (?, ?, ?, ?, ?)`,
		canonicalURL, title, content, published, formatTime(time.Now()),
	)
	if err != nil {
		return 0, false, core.NewError(core.KindStorage, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, core.NewError(core.KindStorage, err)
		}
		return id, true, nil
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM articles WHERE canonical_url = ?`, canonicalURL).Scan(&id); err != nil {
		return 0, false, core.NewError(core.KindStorage, err)
	}
	return id, false, nil
}

// RecordOccurrence notes that an article was observed in a feed. Duplicate
// (article_id, feed_id) pairs are ignored.
func (s *Store) RecordOccurrence(articleID, feedID int64, feedItemID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO article_occurrences (article_id, feed_id, feed_item_id)
		 VALUES (?, ?, ?)`,
		articleID, feedID, nullStr(feedItemID),
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// GetArticle returns the article with the given id.
func (s *Store) GetArticle(id int64) (*core.Article, error) {
	var (
		a           core.Article
		title       sql.NullString
		content     sql.NullString
		fullContent sql.NullString
		published   nullTime
		firstSeen   nullTime
		status      sql.NullString
		processed   nullTime
	)
	err := s.db.QueryRow(
		`SELECT id, canonical_url, title, content, full_content, published_at,
		        first_seen_at, processing_status, processed_at
		 FROM articles WHERE id = ?`, id,
	).Scan(&a.ID, &a.URL, &title, &content, &fullContent, &published,
		&firstSeen, &status, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "article %d not found", id)
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	a.Title = title.String
	a.Content = content.String
	a.FullContent = fullContent.String
	a.PublishedAt = published.ptr()
	a.FirstSeenAt = firstSeen.Time
	a.Status = core.ProcessingStatus(status.String)
	a.ProcessedAt = processed.ptr()
	return &a, nil
}

// TransitionStatus moves an article's processing_status from one state to
// another atomically. Returns false when the article was not in the expected
// state, which lets concurrent workers claim articles without locks.
func (s *Store) TransitionStatus(articleID int64, from, to core.ProcessingStatus) (bool, error) {
	var processed any
	if to == core.StatusCompleted || to == core.StatusFailed {
		processed = formatTime(time.Now())
	}
	res, err := s.db.Exec(
		`UPDATE articles SET processing_status = ?, processed_at = COALESCE(?, processed_at)
		 WHERE id = ? AND processing_status = ?`,
		string(to), processed, articleID, string(from),
	)
	if err != nil {
		return false, core.NewError(core.KindStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.NewError(core.KindStorage, err)
	}
	return n > 0, nil
}

// PendingArticles returns up to limit articles awaiting processing, oldest
// first.
func (s *Store) PendingArticles(limit int) ([]core.Article, error) {
	rows, err := s.db.Query(
		`SELECT id, canonical_url, COALESCE(title, ''), COALESCE(content, ''),
		        COALESCE(full_content, ''), first_seen_at
		 FROM articles
		 WHERE processing_status = 'pending'
		 ORDER BY first_seen_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var articles []core.Article
	for rows.Next() {
		var (
			a         core.Article
			firstSeen nullTime
		)
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Content, &a.FullContent, &firstSeen); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		a.FirstSeenAt = firstSeen.Time
		a.Status = core.StatusPending
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// SetFullContent stores scraped article text.
func (s *Store) SetFullContent(articleID int64, text string) error {
	_, err := s.db.Exec(`UPDATE articles SET full_content = ? WHERE id = ?`, text, articleID)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// SaveArticleSummary upserts the generic summary for an article.
func (s *Store) SaveArticleSummary(sum *core.ArticleSummary) error {
	bullets, err := json.Marshal(sum.Bullets)
	if err != nil {
		return core.NewError(core.KindInternal, err)
	}
	categories, err := json.Marshal(sum.Categories)
	if err != nil {
		return core.NewError(core.KindInternal, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO article_summaries
			(article_id, headline, bullets_json, details, model, categories_json,
			 prompt_tokens, completion_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(article_id) DO UPDATE SET
			headline = excluded.headline,
			bullets_json = excluded.bullets_json,
			details = excluded.details,
			model = excluded.model,
			categories_json = excluded.categories_json,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens`,
		sum.ArticleID, sum.Headline, string(bullets), nullStr(sum.Details),
		sum.Model, string(categories), sum.Usage.PromptTokens, sum.Usage.CompletionTokens,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// GetArticleSummary returns the generic summary for an article.
func (s *Store) GetArticleSummary(articleID int64) (*core.ArticleSummary, error) {
	var (
		sum        core.ArticleSummary
		headline   sql.NullString
		bullets    sql.NullString
		details    sql.NullString
		model      sql.NullString
		categories sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT article_id, headline, bullets_json, details, model, categories_json,
		        COALESCE(prompt_tokens, 0), COALESCE(completion_tokens, 0)
		 FROM article_summaries WHERE article_id = ?`, articleID,
	).Scan(&sum.ArticleID, &headline, &bullets, &details, &model, &categories,
		&sum.Usage.PromptTokens, &sum.Usage.CompletionTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "no summary for article %d", articleID)
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	sum.Headline = headline.String
	sum.Details = details.String
	sum.Model = model.String
	if bullets.Valid {
		json.Unmarshal([]byte(bullets.String), &sum.Bullets)
	}
	if categories.Valid {
		json.Unmarshal([]byte(categories.String), &sum.Categories)
	}
	return &sum, nil
}

// SaveUserArticleSummary upserts a personalized summary. Callers only invoke
// this for relevant articles (score at or above the storage threshold).
func (s *Store) SaveUserArticleSummary(us *core.UserArticleSummary) error {
	bullets, err := json.Marshal(us.Bullets)
	if err != nil {
		return core.NewError(core.KindInternal, err)
	}
	reasons, err := json.Marshal(us.RelevanceReasons)
	if err != nil {
		return core.NewError(core.KindInternal, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO user_article_summaries
			(user_id, article_id, relevance_score, relevance_reasons_json, is_relevant,
			 personalized_headline, personalized_bullets_json, personalized_details,
			 language, complexity_level, summary_length, llm_model,
			 prompt_tokens, completion_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, article_id) DO UPDATE SET
			relevance_score = excluded.relevance_score,
			relevance_reasons_json = excluded.relevance_reasons_json,
			is_relevant = excluded.is_relevant,
			personalized_headline = excluded.personalized_headline,
			personalized_bullets_json = excluded.personalized_bullets_json,
			personalized_details = excluded.personalized_details,
			language = excluded.language,
			complexity_level = excluded.complexity_level,
			summary_length = excluded.summary_length,
			llm_model = excluded.llm_model,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens`,
		us.UserID, us.ArticleID, us.RelevanceScore, string(reasons), us.IsRelevant,
		us.Headline, string(bullets), nullStr(us.Details),
		us.Language, us.Complexity, us.Length, us.Model,
		us.Usage.PromptTokens, us.Usage.CompletionTokens,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// HasUserArticleSummary reports whether a personalized summary exists.
func (s *Store) HasUserArticleSummary(userID, articleID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM user_article_summaries WHERE user_id = ? AND article_id = ?`,
		userID, articleID,
	).Scan(&n)
	if err != nil {
		return false, core.NewError(core.KindStorage, err)
	}
	return n > 0, nil
}

// DigestCandidate is one row of the unread-personalized query: a relevant,
// unviewed personalized article with its feed context.
type DigestCandidate struct {
	ArticleID      int64
	FeedID         int64
	FeedTitle      string
	URL            string
	Headline       string
	Bullets        []string
	Details        string
	Language       string
	RelevanceScore float64
	FirstSeenAt    time.Time
}

// UnreadCandidates returns, per subscribed feed, the top perFeed most recent
// articles that have a relevant personalized summary for the user and no
// view. A single query with a per-feed row number keeps this one round trip.
func (s *Store) UnreadCandidates(userID int64, perFeed int) ([]DigestCandidate, error) {
	rows, err := s.db.Query(
		`WITH ranked AS (
			SELECT a.id AS article_id,
			       o.feed_id,
			       COALESCE(NULLIF(sub.title, ''), f.title, f.url) AS feed_title,
			       a.canonical_url,
			       uas.personalized_headline,
			       uas.personalized_bullets_json,
			       COALESCE(uas.personalized_details, '') AS details,
			       COALESCE(uas.language, '') AS language,
			       uas.relevance_score,
			       a.first_seen_at,
			       ROW_NUMBER() OVER (
			           PARTITION BY o.feed_id ORDER BY a.first_seen_at DESC
			       ) AS rn
			FROM user_article_summaries uas
			JOIN articles a ON a.id = uas.article_id
			JOIN article_occurrences o ON o.article_id = a.id
			JOIN subscriptions sub ON sub.feed_id = o.feed_id AND sub.user_id = uas.user_id
			JOIN feeds f ON f.id = o.feed_id
			LEFT JOIN user_article_views v
			       ON v.user_id = uas.user_id AND v.article_id = a.id
			WHERE uas.user_id = ?
			  AND uas.is_relevant = 1
			  AND v.id IS NULL
		)
		SELECT article_id, feed_id, feed_title, canonical_url,
		       personalized_headline, personalized_bullets_json, details,
		       language, relevance_score, first_seen_at
		FROM ranked WHERE rn <= ?`,
		userID, perFeed)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var out []DigestCandidate
	for rows.Next() {
		var (
			c         DigestCandidate
			headline  sql.NullString
			bullets   sql.NullString
			firstSeen nullTime
		)
		err := rows.Scan(&c.ArticleID, &c.FeedID, &c.FeedTitle, &c.URL,
			&headline, &bullets, &c.Details, &c.Language,
			&c.RelevanceScore, &firstSeen)
		if err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		c.Headline = headline.String
		if bullets.Valid {
			json.Unmarshal([]byte(bullets.String), &c.Bullets)
		}
		c.FirstSeenAt = firstSeen.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordView inserts a view row; a duplicate (user_id, article_id) is
// silently ignored, an article is seen globally.
func (s *Store) RecordView(userID, articleID int64, sessionID *int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO user_article_views (user_id, article_id, session_id)
		 VALUES (?, ?, ?)`,
		userID, articleID, sessionID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// RateView stores a 1..5 rating on an existing view, creating the view row
// first if the rating arrives before it.
func (s *Store) RateView(userID, articleID int64, rating int) error {
	if err := s.RecordView(userID, articleID, nil); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE user_article_views SET rating = ? WHERE user_id = ? AND article_id = ?`,
		rating, userID, articleID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}
