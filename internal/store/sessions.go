package store

import (
	"database/sql"
	"errors"

	"newslens/internal/core"
)

// CreateSession opens a session for the user with the requested duration.
func (s *Store) CreateSession(userID int64, durationSeconds int) (*core.Session, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (user_id, duration_requested_seconds) VALUES (?, ?)`,
		userID, durationSeconds,
	)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	return s.GetSession(id)
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(id int64) (*core.Session, error) {
	var (
		sess    core.Session
		startAt nullTime
		title   sql.NullString
		digest  sql.NullInt64
	)
	err := s.db.QueryRow(
		`SELECT id, user_id, start_at, COALESCE(duration_requested_seconds, 0), title, digest_summary_id
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &startAt, &sess.DurationSeconds, &title, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "session %d not found", id)
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	sess.StartAt = startAt.Time
	sess.Title = title.String
	if digest.Valid {
		v := digest.Int64
		sess.DigestSummaryID = &v
	}
	return &sess, nil
}

// ListSessions returns a user's sessions, most recent first.
func (s *Store) ListSessions(userID int64) ([]core.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, start_at, COALESCE(duration_requested_seconds, 0), title
		 FROM sessions WHERE user_id = ? ORDER BY start_at DESC, id DESC`, userID)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		var (
			sess    core.Session
			startAt nullTime
			title   sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &startAt, &sess.DurationSeconds, &title); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		sess.StartAt = startAt.Time
		sess.Title = title.String
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetSessionTitle stores a human title on a session.
func (s *Store) SetSessionTitle(sessionID int64, title string) error {
	_, err := s.db.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// AddChatMessage appends a message to a session and returns its id.
func (s *Store) AddChatMessage(sessionID int64, author, message string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO chat_messages (session_id, author, message) VALUES (?, ?, ?)`,
		sessionID, author, message,
	)
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return id, nil
}

// ListMessages returns a session's messages in chronological order.
func (s *Store) ListMessages(sessionID int64) ([]core.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, author, COALESCE(message, ''), created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var msgs []core.ChatMessage
	for rows.Next() {
		var (
			m       core.ChatMessage
			created nullTime
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Author, &m.Message, &created); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		m.CreatedAt = created.Time
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessages returns the most recent n messages in chronological order.
func (s *Store) LastMessages(sessionID int64, n int) ([]core.ChatMessage, error) {
	msgs, err := s.ListMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

// CountMessages returns the number of messages in a session.
func (s *Store) CountMessages(sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return n, nil
}
