// Package postgres provides the Postgres-backed session and analysis store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool used by Store; pgxmock satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store persists sessions and analysis rows in Postgres.
type Store struct {
	pool pool
}

var _ insights.Store = (*Store)(nil)

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// CreateSession inserts a session record.
func (s *Store) CreateSession(ctx context.Context, session insights.Session) error {
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO search_sessions (id, query, platforms, job_state, error_text, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`,
		session.ID,
		session.Query,
		platformStrings(session.Platforms),
		string(session.JobState),
		session.ErrorText,
		created,
		updated,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return insights.ErrSessionExists
	}
	return nil
}

// GetSession loads a session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (insights.Session, error) {
	var (
		session   insights.Session
		platforms []string
		state     string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions WHERE id = $1`, sessionID).
		Scan(&session.ID, &session.Query, &platforms, &state, &session.ErrorText, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return insights.Session{}, insights.ErrNotFound
	}
	if err != nil {
		return insights.Session{}, fmt.Errorf("select session: %w", err)
	}
	session.Platforms = toPlatforms(platforms)
	session.JobState = insights.JobState(state)
	return session, nil
}

// UpdateSessionState records the pipeline job state for a session.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID string, state insights.JobState, errText string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE search_sessions SET job_state = $1, error_text = $2, updated_at = now()
WHERE id = $3`, string(state), errText, sessionID)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return insights.ErrNotFound
	}
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]insights.Session, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListSessionsByState returns sessions in any of states, oldest first.
func (s *Store) ListSessionsByState(ctx context.Context, states ...insights.JobState) ([]insights.Session, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, query, platforms, job_state, error_text, created_at, updated_at
FROM search_sessions WHERE job_state = ANY($1) ORDER BY created_at, id`, names)
	if err != nil {
		return nil, fmt.Errorf("list sessions by state: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]insights.Session, error) {
	defer rows.Close()

	out := make([]insights.Session, 0)
	for rows.Next() {
		var (
			session   insights.Session
			platforms []string
			state     string
		)
		if err := rows.Scan(
			&session.ID, &session.Query, &platforms, &state,
			&session.ErrorText, &session.CreatedAt, &session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Platforms = toPlatforms(platforms)
		session.JobState = insights.JobState(state)
		out = append(out, session)
	}
	return out, rows.Err()
}

// ListSessionsBefore returns the IDs of sessions created before cutoff.
func (s *Store) ListSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM search_sessions WHERE created_at < $1 ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()

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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		seen := make(map[string]bool)
		for _, p := range products {
			if err := lockSession(ctx, tx, seen, p.SessionID); err != nil {
				return err
			}
			scraped := p.ScrapedAt
			if scraped.IsZero() {
				scraped = time.Now().UTC()
			}
			err := tx.QueryRow(ctx, `
INSERT INTO products (name, platform, url, average_rating, total_reviews, scraped_at, session_id)
VALUES ($1, $2::platform, $3, $4, $5, $6, $7)
RETURNING id`,
				p.Name, string(p.Platform), p.URL, p.AverageRating, p.TotalReviews, scraped, p.SessionID,
			).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("insert product: %w", err)
			}
			p.ScrapedAt = scraped
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		seen := make(map[int64]bool)
		for _, r := range reviews {
			if err := lockProductSession(ctx, tx, seen, r.ProductID); err != nil {
				return err
			}
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			err := tx.QueryRow(ctx, `
INSERT INTO reviews (product_id, text, rating, timestamp, sentiment, created_at)
VALUES ($1, $2, $3, $4, $5::sentiment, $6)
RETURNING id`,
				r.ProductID, r.Text, r.Rating, r.Timestamp, sentimentArg(r.Sentiment), created,
			).Scan(&r.ID)
			if err != nil {
				return fmt.Errorf("insert review: %w", err)
			}
			r.CreatedAt = created
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		seen := make(map[string]bool)
		for _, k := range keywords {
			if err := lockSession(ctx, tx, seen, k.SessionID); err != nil {
				return err
			}
			err := tx.QueryRow(ctx, `
INSERT INTO keywords (session_id, keyword, frequency, sentiment)
VALUES ($1, $2, $3, $4::sentiment)
RETURNING id`,
				k.SessionID, k.Keyword, k.Frequency, sentimentArg(k.Sentiment),
			).Scan(&k.ID)
			if err != nil {
				return fmt.Errorf("insert keyword: %w", err)
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
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		seen := make(map[string]bool)
		for _, r := range recs {
			if err := lockSession(ctx, tx, seen, r.SessionID); err != nil {
				return err
			}
			created := r.CreatedAt
			if created.IsZero() {
				created = time.Now().UTC()
			}
			err := tx.QueryRow(ctx, `
INSERT INTO recommendations (session_id, title, description, priority, category, created_at)
VALUES ($1, $2, $3, $4::priority, $5, $6)
RETURNING id`,
				r.SessionID, r.Title, r.Description, string(r.Priority), r.Category, created,
			).Scan(&r.ID)
			if err != nil {
				return fmt.Errorf("insert recommendation: %w", err)
			}
			r.CreatedAt = created
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
	rows, err := s.pool.Query(ctx, `
SELECT id, name, platform::text, url, average_rating::float8, total_reviews, scraped_at, session_id
FROM products WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]insights.Product, 0)
	for rows.Next() {
		var (
			p        insights.Product
			platform string
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &platform, &p.URL, &p.AverageRating, &p.TotalReviews, &p.ScrapedAt, &p.SessionID,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Platform = insights.Platform(platform)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListReviews returns the reviews of the session's products ordered by ID.
func (s *Store) ListReviews(ctx context.Context, sessionID string) ([]insights.Review, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.id, r.product_id, r.text, r.rating, r.timestamp, r.sentiment::text, r.created_at
FROM reviews r JOIN products p ON p.id = r.product_id
WHERE p.session_id = $1 ORDER BY r.id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]insights.Review, 0)
	for rows.Next() {
		var (
			r         insights.Review
			sentiment *string
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Text, &r.Rating, &r.Timestamp, &sentiment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Sentiment = toSentiment(sentiment)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListKeywords returns the session's keywords ordered by ID.
func (s *Store) ListKeywords(ctx context.Context, sessionID string) ([]insights.Keyword, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, keyword, frequency, sentiment::text
FROM keywords WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()

	out := make([]insights.Keyword, 0)
	for rows.Next() {
		var (
			k         insights.Keyword
			sentiment *string
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
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, title, description, priority::text, category, created_at
FROM recommendations WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	out := make([]insights.Recommendation, 0)
	for rows.Next() {
		var (
			r        insights.Recommendation
			priority string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Title, &r.Description, &priority, &r.Category, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		r.Priority = insights.Priority(priority)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRows reports the number of stored rows per table for a session.
func (s *Store) CountRows(ctx context.Context, sessionID string) (insights.RowCounts, error) {
	var counts insights.RowCounts
	err := s.pool.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM products WHERE session_id = $1),
	(SELECT count(*) FROM reviews r JOIN products p ON p.id = r.product_id WHERE p.session_id = $1),
	(SELECT count(*) FROM keywords WHERE session_id = $1),
	(SELECT count(*) FROM recommendations WHERE session_id = $1)`, sessionID).
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
		`DELETE FROM reviews WHERE product_id IN (SELECT id FROM products WHERE session_id = $1)`,
		`DELETE FROM products WHERE session_id = $1`,
		`DELETE FROM keywords WHERE session_id = $1`,
		`DELETE FROM recommendations WHERE session_id = $1`,
		`DELETE FROM search_sessions WHERE id = $1`,
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		// Waits for inserts holding the session row and blocks new ones until commit.
		if _, err := tx.Exec(ctx, `SELECT id FROM search_sessions WHERE id = $1 FOR UPDATE`, sessionID); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt, sessionID); err != nil {
				return fmt.Errorf("delete session rows: %w", err)
			}
		}
		return nil
	})
}

// lockSession share-locks the session row for the rest of tx so DeleteSession
// cannot interleave with the insert. A missing row is ErrNotFound.
func lockSession(ctx context.Context, tx pgx.Tx, seen map[string]bool, sessionID string) error {
	if seen[sessionID] {
		return nil
	}
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM search_sessions WHERE id = $1 FOR SHARE`, sessionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, insights.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}
	seen[sessionID] = true
	return nil
}

// lockProductSession share-locks the session owning productID.
func lockProductSession(ctx context.Context, tx pgx.Tx, seen map[int64]bool, productID int64) error {
	if seen[productID] {
		return nil
	}
	var sessionID string
	err := tx.QueryRow(ctx, `
SELECT s.id FROM products p JOIN search_sessions s ON s.id = p.session_id
WHERE p.id = $1 FOR SHARE OF s`, productID).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("product %d: %w", productID, insights.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock product session: %w", err)
	}
	seen[productID] = true
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func platformStrings(platforms []insights.Platform) []string {
	out := make([]string, len(platforms))
	for i, p := range platforms {
		out[i] = string(p)
	}
	return out
}

func toPlatforms(values []string) []insights.Platform {
	out := make([]insights.Platform, len(values))
	for i, v := range values {
		out[i] = insights.Platform(v)
	}
	return out
}

func sentimentArg(s *insights.Sentiment) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func toSentiment(v *string) *insights.Sentiment {
	if v == nil {
		return nil
	}
	s := insights.Sentiment(*v)
	return &s
}
