package insights

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound signals that the requested session or row does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionExists is returned when creating a session whose ID is taken.
var ErrSessionExists = errors.New("session already exists")

// Store persists sessions and the rows produced by the analysis pipeline.
type Store interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	UpdateSessionState(ctx context.Context, sessionID string, state JobState, errText string) error
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)
	ListSessionsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// ListSessionsByState returns sessions in any of states, oldest first.
	ListSessionsByState(ctx context.Context, states ...JobState) ([]Session, error)

	InsertProducts(ctx context.Context, products []Product) ([]Product, error)
	InsertReviews(ctx context.Context, reviews []Review) ([]Review, error)
	InsertKeywords(ctx context.Context, keywords []Keyword) ([]Keyword, error)
	InsertRecommendations(ctx context.Context, recs []Recommendation) ([]Recommendation, error)

	ListProducts(ctx context.Context, sessionID string) ([]Product, error)
	ListReviews(ctx context.Context, sessionID string) ([]Review, error)
	ListKeywords(ctx context.Context, sessionID string) ([]Keyword, error)
	ListRecommendations(ctx context.Context, sessionID string) ([]Recommendation, error)
	CountRows(ctx context.Context, sessionID string) (RowCounts, error)

	DeleteSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for pipeline jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a session ready to be analyzed.
type QueueItem struct {
	SessionID string
	Query     string
	Platforms []Platform
	Attempt   int
	Submitted int64
}
