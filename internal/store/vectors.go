package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"math"

	"newslens/internal/core"
)

// EncodeVector packs a float32 vector into a little-endian blob.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian blob into a float32 vector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, core.Errorf(core.KindStorage, "vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}

// CosineDistance returns 1 - cosine similarity. Zero-length or zero-norm
// inputs yield the maximal distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SaveArticleVector upserts the embedding for an article.
func (s *Store) SaveArticleVector(articleID int64, vec []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO vec_articles (article_id, embedding) VALUES (?, ?)
		 ON CONFLICT(article_id) DO UPDATE SET embedding = excluded.embedding`,
		articleID, EncodeVector(vec),
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// ArticleVector returns the embedding for an article, or nil when absent.
func (s *Store) ArticleVector(articleID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT embedding FROM vec_articles WHERE article_id = ?`, articleID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	return DecodeVector(blob)
}

// SaveUserVector upserts a user's interest vector.
func (s *Store) SaveUserVector(userID int64, vec []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO vec_users (user_id, embedding) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET embedding = excluded.embedding`,
		userID, EncodeVector(vec),
	)
	if err != nil {
		return core.NewError(core.KindStorage, err)
	}
	return nil
}

// UserVector returns a user's interest vector, or nil when absent.
func (s *Store) UserVector(userID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT embedding FROM vec_users WHERE user_id = ?`, userID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	return DecodeVector(blob)
}

// ArticlesMissingVectors returns up to limit completed articles that have no
// embedding yet, oldest first.
func (s *Store) ArticlesMissingVectors(limit int) ([]core.Article, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.canonical_url, COALESCE(a.title, ''), COALESCE(a.content, ''),
		        COALESCE(a.full_content, '')
		 FROM articles a
		 LEFT JOIN vec_articles v ON v.article_id = a.id
		 WHERE v.article_id IS NULL AND a.processing_status = 'completed'
		 ORDER BY a.first_seen_at ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, core.NewError(core.KindStorage, err)
	}
	defer rows.Close()

	var articles []core.Article
	for rows.Next() {
		var a core.Article
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Content, &a.FullContent); err != nil {
			return nil, core.NewError(core.KindStorage, err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
