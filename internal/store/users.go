package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"newslens/internal/core"
)

// userPrefs is the shape of the prefs_json column.
type userPrefs struct {
	PreferredLanguage string   `json:"preferred_language,omitempty"`
	ComplexityLevel   string   `json:"complexity_level,omitempty"`
	ReadingSpeed      int      `json:"reading_speed,omitempty"`
	Interests         []string `json:"interests,omitempty"`
}

// CreateUser inserts a new user and returns its id. A duplicate username
// maps to a conflict kind.
func (s *Store) CreateUser(username, displayName, passwordHash string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, password_hash) VALUES (?, ?, ?)`,
		username, nullStr(displayName), nullStr(passwordHash),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, core.Errorf(core.KindConflict, "username %q already exists", username)
		}
		return 0, core.NewError(core.KindStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return id, nil
}

// GetUserByUsername returns the user with the given username.
func (s *Store) GetUserByUsername(username string) (*core.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, prefs_json, created_at, last_login
		 FROM users WHERE username = ?`, username))
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(id int64) (*core.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, username, display_name, password_hash, prefs_json, created_at, last_login
		 FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*core.User, error) {
	var (
		u           core.User
		displayName sql.NullString
		hash        sql.NullString
		prefs       sql.NullString
		created     nullTime
		lastLogin   nullTime
	)
	err := row.Scan(&u.ID, &u.Username, &displayName, &hash, &prefs, &created, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	u.DisplayName = displayName.String
	u.PasswordHash = hash.String
	u.CreatedAt = created.Time
	u.LastLogin = lastLogin.ptr()
	if prefs.Valid && prefs.String != "" {
		var p userPrefs
		if err := json.Unmarshal([]byte(prefs.String), &p); err == nil {
			u.Language = p.PreferredLanguage
			u.Complexity = p.ComplexityLevel
			u.ReadingSpeed = p.ReadingSpeed
			u.Interests = p.Interests
		}
	}
	return &u, nil
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers() ([]core.User, error) {
	rows, err := s.db.Query(
		`SELECT id, username, display_name, prefs_json FROM users ORDER BY id`)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var (
			u           core.User
			displayName sql.NullString
			prefs       sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &displayName, &prefs); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		u.DisplayName = displayName.String
		if prefs.Valid && prefs.String != "" {
			var p userPrefs
			if err := json.Unmarshal([]byte(prefs.String), &p); err == nil {
				u.Language = p.PreferredLanguage
				u.Interests = p.Interests
			}
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of users.
func (s *Store) CountUsers() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return n, nil
}

// TouchLastLogin stamps the user's last_login.
func (s *Store) TouchLastLogin(userID int64) error {
	_, err := s.db.Exec(`UPDATE users SET last_login = ? WHERE id = ?`,
		formatTime(time.Now()), userID)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// SyncUser inserts a configured user if absent and conditionally refreshes
// display_name and password_hash on the existing row. Returns the user id.
func (s *Store) SyncUser(username, displayName, passwordHash, preferredLanguage string) (int64, error) {
	var prefsJSON string
	if preferredLanguage != "" {
		b, _ := json.Marshal(userPrefs{PreferredLanguage: preferredLanguage})
		prefsJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO users (username, display_name, password_hash, prefs_json)
		 VALUES (?, ?, ?, ?)`,
		username, nullStr(displayName), nullStr(passwordHash), nullStr(prefsJSON),
	)
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	_, err = s.db.Exec(
		`UPDATE users SET
			display_name = COALESCE(NULLIF(?, ''), display_name),
			password_hash = COALESCE(NULLIF(?, ''), password_hash)
		 WHERE username = ?`,
		displayName, passwordHash, username,
	)
	if err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id); err != nil {
		return 0, core.NewError(core.KindStorage, err)
	}
	return id, nil
}

// LoadProfile returns the personalization view of a user, with defaults
// applied for anything unset.
func (s *Store) LoadProfile(userID int64) (*core.UserProfile, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}
	p := &core.UserProfile{
		ID:            u.ID,
		Language:      u.Language,
		Complexity:    u.Complexity,
		ReadingSpeed:  u.ReadingSpeed,
		Interests:     u.Interests,
		KeywordBoosts: map[string]float64{},
	}
	if p.Language == "" {
		p.Language = core.DefaultLanguage
	}
	if p.Complexity == "" {
		p.Complexity = core.DefaultComplexity
	}
	if p.ReadingSpeed <= 0 {
		p.ReadingSpeed = core.DefaultReadingSpeed
	}

	rows, err := s.db.Query(
		`SELECT preference_type, preference_key, preference_value
		 FROM user_preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ptype, key string
			value      sql.NullFloat64
		)
		if err := rows.Scan(&ptype, &key, &value); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		switch ptype {
		case "category_filter":
			p.Categories = append(p.Categories, key)
		case "keyword_boost":
			p.KeywordBoosts[key] = value.Float64
		}
	}
	return p, rows.Err()
}

// ActiveUserIDs returns the ids of all users, for the personalization pass.
func (s *Store) ActiveUserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UsersWithInterestsMissingVector returns users that declared interest
// tokens but have no interest vector yet.
func (s *Store) UsersWithInterestsMissingVector() ([]core.User, error) {
	rows, err := s.db.Query(
		`SELECT u.id, u.username, u.prefs_json
		 FROM users u LEFT JOIN vec_users v ON u.id = v.user_id
		 WHERE v.user_id IS NULL AND u.prefs_json IS NOT NULL`)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var (
			u     core.User
			prefs sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Username, &prefs); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		if prefs.Valid {
			var p userPrefs
			if err := json.Unmarshal([]byte(prefs.String), &p); err == nil {
				u.Interests = p.Interests
			}
		}
		if len(u.Interests) > 0 {
			users = append(users, u)
		}
	}
	return users, rows.Err()
}

// UpdateUserPrefs replaces the stored preference blob for a user.
func (s *Store) UpdateUserPrefs(userID int64, language, complexity string, readingSpeed int, interests []string) error {
	b, err := json.Marshal(userPrefs{
		PreferredLanguage: language,
		ComplexityLevel:   complexity,
		ReadingSpeed:      readingSpeed,
		Interests:         interests,
	})
	if err != nil {
		return core.NewError(core.KindInternal, err)
	}
	_, err = s.db.Exec(`UPDATE users SET prefs_json = ? WHERE id = ?`, string(b), userID)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
