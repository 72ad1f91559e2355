package store

import (
	"database/sql"
	"errors"
	"time"

	"newslens/internal/core"
)

// UpsertFeed inserts the feed URL if it is not known yet and returns the feed
// id plus whether the row was newly created. Feeds are global; ownership is a
// subscription concern.
func (s *Store) UpsertFeed(url, title string) (int64, bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO feeds (url, title) VALUES (?, ?)`,
		url, nullStr(title),
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
	if err := s.db.QueryRow(`SELECT id FROM feeds WHERE url = ?`, url).Scan(&id); err != nil {
		return 0, false, core.NewError(core.KindStorage, err)
	}
	return id, false, nil
}

// Subscribe links a user to a feed. Subscribing twice is a no-op that
// returns the existing subscription id with already=true.
func (s *Store) Subscribe(userID, feedID int64, title string) (int64, bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO subscriptions (user_id, feed_id, title) VALUES (?, ?, ?)`,
		userID, feedID, nullStr(title),
	)
	if err != nil {
		return 0, false, core.NewError(core.KindStorage, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, core.NewError(core.KindStorage, err)
		}
		return id, false, nil
	}
	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM subscriptions WHERE user_id = ? AND feed_id = ?`,
		userID, feedID,
	).Scan(&id)
	if err != nil {
		return 0, false, core.NewError(core.KindStorage, err)
	}
	return id, true, nil
}

// GetFeed returns the feed with the given id.
func (s *Store) GetFeed(id int64) (*core.Feed, error) {
	f, err := scanFeed(s.db.QueryRow(
		`SELECT id, url, site_url, title, last_checked, status, next_poll_at,
		        poll_interval_minutes, adaptive_scheduling
		 FROM feeds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "feed %d not found", id)
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	return f, nil
}

// ListFeedsForUser returns the feeds a user is subscribed to, with the
// subscription title overriding the feed title when present.
func (s *Store) ListFeedsForUser(userID int64) ([]core.Feed, error) {
	rows, err := s.db.Query(
		`SELECT f.id, f.url, f.site_url, COALESCE(NULLIF(sub.title, ''), f.title, ''),
		        f.last_checked, f.status, f.next_poll_at,
		        f.poll_interval_minutes, f.adaptive_scheduling
		 FROM feeds f
		 JOIN subscriptions sub ON sub.feed_id = f.id
		 WHERE sub.user_id = ?
		 ORDER BY f.id`, userID)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()
	return collectFeeds(rows)
}

// DueFeeds returns all feeds whose next_poll_at is at or before now, or has
// never been set. NULL means "due immediately".
func (s *Store) DueFeeds(now time.Time) ([]core.Feed, error) {
	rows, err := s.db.Query(
		`SELECT id, url, site_url, COALESCE(title, ''), last_checked, status,
		        next_poll_at, poll_interval_minutes, adaptive_scheduling
		 FROM feeds
		 WHERE next_poll_at IS NULL OR next_poll_at <= ?
		 ORDER BY id`, formatTime(now))
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()
	return collectFeeds(rows)
}

// UpdateFeedAfterPoll commits the outcome of one poll: interval, next poll
// time, last_checked and the status string, plus the feed title when the
// fetch discovered one.
func (s *Store) UpdateFeedAfterPoll(feedID int64, intervalMinutes int, nextPollAt time.Time, status, title, siteURL string) error {
	_, err := s.db.Exec(
		`UPDATE feeds SET
			poll_interval_minutes = ?,
			next_poll_at = ?,
			last_checked = ?,
			status = ?,
			title = COALESCE(NULLIF(?, ''), title),
			site_url = COALESCE(NULLIF(?, ''), site_url)
		 WHERE id = ?`,
		intervalMinutes, formatTime(nextPollAt), formatTime(time.Now()),
		status, title, siteURL, feedID,
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// FeedPublicationTimes returns the first_seen_at timestamps of the most
// recent articles observed in a feed, newest first. The digest assembler
// derives the feed's average publication interval from consecutive diffs.
func (s *Store) FeedPublicationTimes(feedID int64, limit int) ([]time.Time, error) {
	rows, err := s.db.Query(
		`SELECT a.first_seen_at
		 FROM articles a
		 JOIN article_occurrences o ON o.article_id = a.id
		 WHERE o.feed_id = ?
		 ORDER BY a.first_seen_at DESC
		 LIMIT ?`, feedID, limit)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t nullTime
		if err := rows.Scan(&t); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		if t.Valid {
			times = append(times, t.Time)
		}
	}
	return times, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*core.Feed, error) {
	var (
		f           core.Feed
		siteURL     sql.NullString
		title       sql.NullString
		status      sql.NullString
		lastChecked nullTime
		nextPoll    nullTime
		adaptive    sql.NullBool
	)
	err := row.Scan(&f.ID, &f.URL, &siteURL, &title, &lastChecked, &status,
		&nextPoll, &f.PollIntervalMinutes, &adaptive)
	if err != nil {
		return nil, err
	}
	f.SiteURL = siteURL.String
	f.Title = title.String
	f.Status = status.String
	f.LastChecked = lastChecked.ptr()
	f.NextPollAt = nextPoll.ptr()
	f.AdaptiveScheduling = !adaptive.Valid || adaptive.Bool
	return &f, nil
}

func collectFeeds(rows *sql.Rows) ([]core.Feed, error) {
	var feeds []core.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
