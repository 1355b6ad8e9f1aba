// Package sqlite provides a single-node store on top of the pure-Go SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists sessions and analysis rows in a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ insights.Store = (*Store)(nil)

// Open opens (and creates when missing) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer and every :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate re-applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a session record.
func (s *Store) CreateSession(ctx context.Context, session insights.Session) error {
	created := session.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO search_sessions (id, query, platforms, job_state, error_text, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`,
		session.ID, session.Query, joinPlatforms(session.Platforms), string(session.JobState),
		session.ErrorText, formatTime(created), formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return insights.ErrSessionExists
	}
	return nil
}

// GetSession loads a session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (insights.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return insights.Session{}, insights.ErrNotFound
	}
	if err != nil {
		return insights.Session{}, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

// UpdateSessionState records the pipeline job state for a session.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID string, state insights.JobState, errText string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE search_sessions SET job_state = ?, error_text = ?, updated_at = ? WHERE id = ?`,
		string(state), errText, formatTime(s.now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if n == 0 {
		return insights.ErrNotFound
	}
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]insights.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// ListSessionsByState returns sessions in any of states, oldest first.
func (s *Store) ListSessionsByState(ctx context.Context, states ...insights.JobState) ([]insights.Session, error) {
	if len(states) == 0 {
		return []insights.Session{}, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	rows, err := s.db.QueryContext(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions WHERE job_state IN (`+placeholders+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions by state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// ListSessionsBefore returns the IDs of sessions created before cutoff.
func (s *Store) ListSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM search_sessions WHERE created_at < ? ORDER BY id`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertProducts inserts products in one transaction and returns them with IDs assigned.
func (s *Store) InsertProducts(ctx context.Context, products []insights.Product) ([]insights.Product, error) {
	out := make([]insights.Product, 0, len(products))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[string]bool)
		for _, p := range products {
			if err := requireSession(ctx, tx, seen, p.SessionID); err != nil {
				return err
			}
			if p.ScrapedAt.IsZero() {
				p.ScrapedAt = s.now()
			}
			res, err := tx.ExecContext(ctx, `
INSERT INTO products (name, platform, url, average_rating, total_reviews, scraped_at, session_id)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.Name, string(p.Platform), p.URL, nullFloat(p.AverageRating), p.TotalReviews,
				formatTime(p.ScrapedAt), p.SessionID,
			)
			if err != nil {
				return fmt.Errorf("insert product: %w", err)
			}
			if p.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("product id: %w", err)
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertReviews inserts reviews in one transaction and returns them with IDs assigned.
func (s *Store) InsertReviews(ctx context.Context, reviews []insights.Review) ([]insights.Review, error) {
	out := make([]insights.Review, 0, len(reviews))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range reviews {
			if r.CreatedAt.IsZero() {
				r.CreatedAt = s.now()
			}
			var ts sql.NullString
			if r.Timestamp != nil {
				ts = sql.NullString{String: formatTime(*r.Timestamp), Valid: true}
			}
			res, err := tx.ExecContext(ctx, `
INSERT INTO reviews (product_id, text, rating, timestamp, sentiment, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
				r.ProductID, r.Text, r.Rating, ts, nullSentiment(r.Sentiment), formatTime(r.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert review: %w", err)
			}
			if r.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("review id: %w", err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertKeywords inserts keywords in one transaction and returns them with IDs assigned.
func (s *Store) InsertKeywords(ctx context.Context, keywords []insights.Keyword) ([]insights.Keyword, error) {
	out := make([]insights.Keyword, 0, len(keywords))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[string]bool)
		for _, k := range keywords {
			if err := requireSession(ctx, tx, seen, k.SessionID); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
INSERT INTO keywords (session_id, keyword, frequency, sentiment) VALUES (?, ?, ?, ?)`,
				k.SessionID, k.Keyword, k.Frequency, nullSentiment(k.Sentiment),
			)
			if err != nil {
				return fmt.Errorf("insert keyword: %w", err)
			}
			if k.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("keyword id: %w", err)
			}
			out = append(out, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertRecommendations inserts recommendations in one transaction and returns them with IDs assigned.
func (s *Store) InsertRecommendations(
	ctx context.Context,
	recs []insights.Recommendation,
) ([]insights.Recommendation, error) {
	out := make([]insights.Recommendation, 0, len(recs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[string]bool)
		for _, r := range recs {
			if err := requireSession(ctx, tx, seen, r.SessionID); err != nil {
				return err
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = s.now()
			}
			res, err := tx.ExecContext(ctx, `
INSERT INTO recommendations (session_id, title, description, priority, category, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
				r.SessionID, r.Title, r.Description, string(r.Priority), r.Category, formatTime(r.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert recommendation: %w", err)
			}
			if r.ID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("recommendation id: %w", err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListProducts returns the session's products ordered by ID.
func (s *Store) ListProducts(ctx context.Context, sessionID string) ([]insights.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, platform, url, average_rating, total_reviews, scraped_at, session_id
FROM products WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Product, 0)
	for rows.Next() {
		var (
			p        insights.Product
			platform string
			rating   sql.NullFloat64
			scraped  string
		)
		if err := rows.Scan(&p.ID, &p.Name, &platform, &p.URL, &rating, &p.TotalReviews, &scraped, &p.SessionID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Platform = insights.Platform(platform)
		if rating.Valid {
			p.AverageRating = insights.RatingPtr(rating.Float64)
		}
		if p.ScrapedAt, err = parseTime(scraped); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListReviews returns the reviews of the session's products ordered by ID.
func (s *Store) ListReviews(ctx context.Context, sessionID string) ([]insights.Review, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.product_id, r.text, r.rating, r.timestamp, r.sentiment, r.created_at
FROM reviews r JOIN products p ON p.id = r.product_id
WHERE p.session_id = ? ORDER BY r.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Review, 0)
	for rows.Next() {
		var (
			r         insights.Review
			ts        sql.NullString
			sentiment sql.NullString
			created   string
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Text, &r.Rating, &ts, &sentiment, &created); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if ts.Valid {
			parsed, err := parseTime(ts.String)
			if err != nil {
				return nil, err
			}
			r.Timestamp = &parsed
		}
		r.Sentiment = toSentiment(sentiment)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListKeywords returns the session's keywords ordered by ID.
func (s *Store) ListKeywords(ctx context.Context, sessionID string) ([]insights.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, keyword, frequency, sentiment FROM keywords WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Keyword, 0)
	for rows.Next() {
		var (
			k         insights.Keyword
			sentiment sql.NullString
		)
		if err := rows.Scan(&k.ID, &k.SessionID, &k.Keyword, &k.Frequency, &sentiment); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		k.Sentiment = toSentiment(sentiment)
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListRecommendations returns the session's recommendations ordered by ID.
func (s *Store) ListRecommendations(ctx context.Context, sessionID string) ([]insights.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, title, description, priority, category, created_at
FROM recommendations WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]insights.Recommendation, 0)
	for rows.Next() {
		var (
			r        insights.Recommendation
			priority string
			created  string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Title, &r.Description, &priority, &r.Category, &created); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		r.Priority = insights.Priority(priority)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRows reports the number of stored rows per table for a session.
func (s *Store) CountRows(ctx context.Context, sessionID string) (insights.RowCounts, error) {
	var counts insights.RowCounts
	err := s.db.QueryRowContext(ctx, `
SELECT
	(SELECT count(*) FROM products WHERE session_id = ?1),
	(SELECT count(*) FROM reviews r JOIN products p ON p.id = r.product_id WHERE p.session_id = ?1),
	(SELECT count(*) FROM keywords WHERE session_id = ?1),
	(SELECT count(*) FROM recommendations WHERE session_id = ?1)`, sessionID).
		Scan(&counts.Products, &counts.Reviews, &counts.Keywords, &counts.Recommendations)
	if err != nil {
		return insights.RowCounts{}, fmt.Errorf("count rows: %w", err)
	}
	return counts, nil
}

// DeleteSession removes the session and its rows in one transaction.
// Reviews go first because they reference products.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	statements := []string{
		`DELETE FROM reviews WHERE product_id IN (SELECT id FROM products WHERE session_id = ?)`,
		`DELETE FROM products WHERE session_id = ?`,
		`DELETE FROM keywords WHERE session_id = ?`,
		`DELETE FROM recommendations WHERE session_id = ?`,
		`DELETE FROM search_sessions WHERE id = ?`,
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
				return fmt.Errorf("delete session rows: %w", err)
			}
		}
		return nil
	})
}

// requireSession fails with ErrNotFound when the session row is missing.
// seen caches ids already checked in this transaction.
func requireSession(ctx context.Context, tx *sql.Tx, seen map[string]bool, sessionID string) error {
	if seen[sessionID] {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM search_sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, insights.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	seen[sessionID] = true
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (insights.Session, error) {
	var (
		session   insights.Session
		platforms string
		state     string
		created   string
		updated   string
	)
	if err := row.Scan(&session.ID, &session.Query, &platforms, &state, &session.ErrorText, &created, &updated); err != nil {
		return insights.Session{}, err
	}
	session.Platforms = splitPlatforms(platforms)
	session.JobState = insights.JobState(state)
	var err error
	if session.CreatedAt, err = parseTime(created); err != nil {
		return insights.Session{}, err
	}
	if session.UpdatedAt, err = parseTime(updated); err != nil {
		return insights.Session{}, err
	}
	return session, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func joinPlatforms(platforms []insights.Platform) string {
	parts := make([]string, len(platforms))
	for i, p := range platforms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func splitPlatforms(v string) []insights.Platform {
	if v == "" {
		return []insights.Platform{}
	}
	parts := strings.Split(v, ",")
	out := make([]insights.Platform, len(parts))
	for i, p := range parts {
		out[i] = insights.Platform(p)
	}
	return out
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullSentiment(v *insights.Sentiment) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func toSentiment(v sql.NullString) *insights.Sentiment {
	if !v.Valid {
		return nil
	}
	return insights.SentimentPtr(insights.Sentiment(v.String))
}
