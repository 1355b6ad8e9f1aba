package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

// Store provides an in-memory implementation for development/testing.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int64
	sessions map[string]insights.Session
	products map[string][]insights.Product
	reviews  map[string][]insights.Review
	keywords map[string][]insights.Keyword
	recs     map[string][]insights.Recommendation
	owner    map[int64]string
}

var _ insights.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]insights.Session),
		products: make(map[string][]insights.Product),
		reviews:  make(map[string][]insights.Review),
		keywords: make(map[string][]insights.Keyword),
		recs:     make(map[string][]insights.Recommendation),
		owner:    make(map[int64]string),
	}
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(_ context.Context, session insights.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return insights.ErrSessionExists
	}
	now := s.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	session.Platforms = append([]insights.Platform(nil), session.Platforms...)
	s.sessions[session.ID] = session
	return nil
}

// GetSession fetches a session by ID.
func (s *Store) GetSession(_ context.Context, sessionID string) (insights.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return insights.Session{}, insights.ErrNotFound
	}
	session.Platforms = append([]insights.Platform(nil), session.Platforms...)
	return session, nil
}

// UpdateSessionState records the pipeline job state for a session.
func (s *Store) UpdateSessionState(_ context.Context, sessionID string, state insights.JobState, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return insights.ErrNotFound
	}
	session.JobState = state
	session.ErrorText = errText
	session.UpdatedAt = s.now()
	s.sessions[sessionID] = session
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(_ context.Context, limit, offset int) ([]insights.Session, error) {
	s.mu.RLock()
	all := make([]insights.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		all = append(all, session)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []insights.Session{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// ListSessionsBefore returns the IDs of sessions created before cutoff.
func (s *Store) ListSessionsBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListSessionsByState returns sessions in any of states, oldest first.
func (s *Store) ListSessionsByState(_ context.Context, states ...insights.JobState) ([]insights.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]insights.Session, 0)
	for _, session := range s.sessions {
		if slices.Contains(states, session.JobState) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// InsertProducts stores products and assigns their IDs.
func (s *Store) InsertProducts(_ context.Context, products []insights.Product) ([]insights.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if err := s.requireSession(p.SessionID); err != nil {
			return nil, err
		}
	}
	out := make([]insights.Product, 0, len(products))
	for _, p := range products {
		s.nextID++
		p.ID = s.nextID
		if p.ScrapedAt.IsZero() {
			p.ScrapedAt = s.now()
		}
		s.products[p.SessionID] = append(s.products[p.SessionID], p)
		s.owner[p.ID] = p.SessionID
		out = append(out, p)
	}
	return out, nil
}

// InsertReviews stores reviews. Every review must reference a stored product.
func (s *Store) InsertReviews(_ context.Context, reviews []insights.Review) ([]insights.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reviews {
		if _, ok := s.owner[r.ProductID]; !ok {
			return nil, fmt.Errorf("product %d: %w", r.ProductID, insights.ErrNotFound)
		}
	}
	out := make([]insights.Review, 0, len(reviews))
	for _, r := range reviews {
		s.nextID++
		r.ID = s.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		sessionID := s.owner[r.ProductID]
		s.reviews[sessionID] = append(s.reviews[sessionID], r)
		out = append(out, r)
	}
	return out, nil
}

// InsertKeywords stores keywords and assigns their IDs.
func (s *Store) InsertKeywords(_ context.Context, keywords []insights.Keyword) ([]insights.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keywords {
		if err := s.requireSession(k.SessionID); err != nil {
			return nil, err
		}
	}
	out := make([]insights.Keyword, 0, len(keywords))
	for _, k := range keywords {
		s.nextID++
		k.ID = s.nextID
		s.keywords[k.SessionID] = append(s.keywords[k.SessionID], k)
		out = append(out, k)
	}
	return out, nil
}

// InsertRecommendations stores recommendations and assigns their IDs.
func (s *Store) InsertRecommendations(
	_ context.Context,
	recs []insights.Recommendation,
) ([]insights.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if err := s.requireSession(r.SessionID); err != nil {
			return nil, err
		}
	}
	out := make([]insights.Recommendation, 0, len(recs))
	for _, r := range recs {
		s.nextID++
		r.ID = s.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now()
		}
		s.recs[r.SessionID] = append(s.recs[r.SessionID], r)
		out = append(out, r)
	}
	return out, nil
}

// requireSession must be called with s.mu held.
func (s *Store) requireSession(id string) error {
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, insights.ErrNotFound)
	}
	return nil
}

// ListProducts returns a copy of the session's products.
func (s *Store) ListProducts(_ context.Context, sessionID string) ([]insights.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.products[sessionID]), nil
}

// ListReviews returns a copy of the reviews of the session's products.
func (s *Store) ListReviews(_ context.Context, sessionID string) ([]insights.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.reviews[sessionID]), nil
}

// ListKeywords returns a copy of the session's keywords.
func (s *Store) ListKeywords(_ context.Context, sessionID string) ([]insights.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.keywords[sessionID]), nil
}

// ListRecommendations returns a copy of the session's recommendations.
func (s *Store) ListRecommendations(_ context.Context, sessionID string) ([]insights.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.recs[sessionID]), nil
}

// CountRows reports the number of stored rows per table for a session.
func (s *Store) CountRows(_ context.Context, sessionID string) (insights.RowCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return insights.RowCounts{
		Products:        len(s.products[sessionID]),
		Reviews:         len(s.reviews[sessionID]),
		Keywords:        len(s.keywords[sessionID]),
		Recommendations: len(s.recs[sessionID]),
	}, nil
}

// DeleteSession removes every row belonging to a session. Unknown sessions are a no-op.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reviews, sessionID)
	for _, p := range s.products[sessionID] {
		delete(s.owner, p.ID)
	}
	delete(s.products, sessionID)
	delete(s.keywords, sessionID)
	delete(s.recs, sessionID)
	delete(s.sessions, sessionID)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneSlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
