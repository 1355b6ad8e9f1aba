// Package session implements the search, status, analysis and cleanup operations
// shared by the HTTP API, the CLI and the sweeper.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
)

// Response messages for repeated searches.
const (
	MsgAlreadyCompleted  = "Analysis already completed for this session"
	MsgAlreadyInProgress = "Analysis already in progress for this session"
	MsgNoAnalysis        = "No analysis data found for this session"
)

// ErrExportDisabled is returned by Export when no blob store is configured.
var ErrExportDisabled = errors.New("export storage not configured")

// Enqueuer accepts pipeline jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item insights.QueueItem) error
}

// Config controls Service behavior.
type Config struct {
	ExportPrefix string
	// DefaultListLimit applies when List is called without a positive limit.
	DefaultListLimit int
	MaxListLimit     int
}

// Service coordinates the store, the job queue and the export blob store.
type Service struct {
	store  insights.Store
	jobs   Enqueuer
	blobs  insights.BlobStore
	ids    insights.IDGenerator
	clock  insights.Clock
	cfg    Config
	logger *zap.Logger
}

// CleanupResult acknowledges a cleanup request.
type CleanupResult struct {
	Success bool `json:"success"`
}

// ExportResult reports where an analysis export was written.
type ExportResult struct {
	SessionID string `json:"session_id"`
	URI       string `json:"uri"`
}

// NewService constructs a Service. blobs may be nil, which disables Export.
func NewService(
	store insights.Store,
	jobs Enqueuer,
	blobs insights.BlobStore,
	ids insights.IDGenerator,
	clock insights.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 20
	}
	if cfg.MaxListLimit <= 0 {
		cfg.MaxListLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		jobs:   jobs,
		blobs:  blobs,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Search validates the request and starts an analysis job for the session
// unless one already completed or is still running.
func (s *Service) Search(ctx context.Context, in insights.SearchInput) (insights.SearchResponse, error) {
	in, err := insights.ValidateSearchInput(in)
	if err != nil {
		return insights.SearchResponse{}, err
	}
	sessionID := in.SessionID
	if sessionID == "" {
		if sessionID, err = s.ids.NewID(); err != nil {
			return insights.SearchResponse{}, fmt.Errorf("generate session id: %w", err)
		}
	} else if err := insights.ValidateSessionID(sessionID); err != nil {
		return insights.SearchResponse{}, err
	}
	logger := s.logger.With(zap.String("session_id", sessionID))

	existing, err := s.store.GetSession(ctx, sessionID)
	known := err == nil
	if err != nil && !errors.Is(err, insights.ErrNotFound) {
		return insights.SearchResponse{}, fmt.Errorf("load session: %w", err)
	}
	counts, err := s.store.CountRows(ctx, sessionID)
	if err != nil {
		return insights.SearchResponse{}, fmt.Errorf("count rows: %w", err)
	}
	// A failed job may have stored products; it is retried rather than reported done.
	failed := known && existing.JobState == insights.JobFailed
	if counts.Products > 0 && !failed {
		return s.searched(sessionID, insights.StateCompleted, MsgAlreadyCompleted), nil
	}

	switch {
	case known && existing.JobState.Active():
		return s.searched(sessionID, insights.StateInProgress, MsgAlreadyInProgress), nil
	case known:
		logger.Info("resetting finished session", zap.String("job_state", string(existing.JobState)))
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			return insights.SearchResponse{}, fmt.Errorf("reset session: %w", err)
		}
	}

	now := s.clock.Now()
	err = s.store.CreateSession(ctx, insights.Session{
		ID:        sessionID,
		Query:     in.Query,
		Platforms: in.Platforms,
		JobState:  insights.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, insights.ErrSessionExists) {
		return s.searched(sessionID, insights.StateInProgress, MsgAlreadyInProgress), nil
	}
	if err != nil {
		return insights.SearchResponse{}, fmt.Errorf("create session: %w", err)
	}

	item := insights.QueueItem{
		SessionID: sessionID,
		Query:     in.Query,
		Platforms: in.Platforms,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.enqueue(ctx, item, logger); err != nil {
		return insights.SearchResponse{}, err
	}
	logger.Info("analysis enqueued", zap.String("query", in.Query), zap.Any("platforms", in.Platforms))
	return s.searched(sessionID, insights.StateStarted, startedMessage(in)), nil
}

// enqueue hands item to the pipeline and marks the session failed when that is refused.
func (s *Service) enqueue(ctx context.Context, item insights.QueueItem, logger *zap.Logger) error {
	if err := s.jobs.Enqueue(ctx, item); err != nil {
		if updateErr := s.store.UpdateSessionState(
			context.WithoutCancel(ctx), item.SessionID, insights.JobFailed, err.Error(),
		); updateErr != nil {
			logger.Warn("mark session failed after enqueue error", zap.Error(updateErr))
		}
		return fmt.Errorf("enqueue analysis: %w", err)
	}
	return nil
}

// RecoverResult counts the sessions handled by Recover.
type RecoverResult struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// Recover picks up sessions a previous process left unfinished. Queued sessions
// have no rows yet and are enqueued again. Running sessions may hold partial rows
// and are marked failed, so the next search for them starts over.
// It must run before this process accepts searches.
func (s *Service) Recover(ctx context.Context) (RecoverResult, error) {
	sessions, err := s.store.ListSessionsByState(ctx, insights.JobQueued, insights.JobRunning)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("list unfinished sessions: %w", err)
	}
	var (
		res  RecoverResult
		errs []error
	)
	for _, session := range sessions {
		logger := s.logger.With(zap.String("session_id", session.ID))
		if session.JobState == insights.JobRunning {
			if err := s.store.UpdateSessionState(ctx, session.ID, insights.JobFailed, insights.MsgInterrupted); err != nil {
				errs = append(errs, fmt.Errorf("fail session %s: %w", session.ID, err))
				continue
			}
			res.Failed++
			logger.Info("interrupted session marked failed")
			continue
		}
		item := insights.QueueItem{
			SessionID: session.ID,
			Query:     session.Query,
			Platforms: session.Platforms,
			Attempt:   1,
			Submitted: session.CreatedAt.Unix(),
		}
		if err := s.enqueue(ctx, item, logger); err != nil {
			errs = append(errs, fmt.Errorf("requeue session %s: %w", session.ID, err))
			continue
		}
		res.Requeued++
		logger.Info("queued session requeued")
	}
	return res, errors.Join(errs...)
}

func (s *Service) searched(sessionID string, state insights.State, msg string) insights.SearchResponse {
	metrics.ObserveSearch(state)
	return insights.SearchResponse{SessionID: sessionID, Status: state, Message: msg}
}

func startedMessage(in insights.SearchInput) string {
	names := make([]string, len(in.Platforms))
	for i, p := range in.Platforms {
		names[i] = string(p)
	}
	return fmt.Sprintf("Started scraping for query: \"%s\" on platforms: %s", in.Query, strings.Join(names, ", "))
}

// Status derives the polling state of a session from its stored rows.
func (s *Service) Status(ctx context.Context, sessionID string) (insights.SessionStatus, error) {
	if err := insights.ValidateSessionID(sessionID); err != nil {
		return insights.SessionStatus{}, err
	}
	counts, err := s.store.CountRows(ctx, sessionID)
	if err != nil {
		return insights.SessionStatus{}, fmt.Errorf("count rows: %w", err)
	}
	var record *insights.Session
	existing, err := s.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		record = &existing
	case !errors.Is(err, insights.ErrNotFound):
		return insights.SessionStatus{}, fmt.Errorf("load session: %w", err)
	}
	return insights.DeriveStatus(sessionID, counts, record), nil
}

// Analysis loads everything stored for a session and computes its summary.
// It returns insights.ErrNotFound when neither a session record nor any rows exist.
func (s *Service) Analysis(ctx context.Context, sessionID string) (insights.AnalysisResult, error) {
	if err := insights.ValidateSessionID(sessionID); err != nil {
		return insights.AnalysisResult{}, err
	}
	result := insights.AnalysisResult{SessionID: sessionID}
	known := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.store.GetSession(gctx, sessionID)
		switch {
		case err == nil:
			known = true
		case !errors.Is(err, insights.ErrNotFound):
			return fmt.Errorf("load session: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		result.Products, err = s.store.ListProducts(gctx, sessionID)
		return wrap("list products", err)
	})
	g.Go(func() (err error) {
		result.Reviews, err = s.store.ListReviews(gctx, sessionID)
		return wrap("list reviews", err)
	})
	g.Go(func() (err error) {
		result.Keywords, err = s.store.ListKeywords(gctx, sessionID)
		return wrap("list keywords", err)
	})
	g.Go(func() (err error) {
		result.Recommendations, err = s.store.ListRecommendations(gctx, sessionID)
		return wrap("list recommendations", err)
	})
	if err := g.Wait(); err != nil {
		return insights.AnalysisResult{}, err
	}

	empty := len(result.Products) == 0 && len(result.Reviews) == 0 &&
		len(result.Keywords) == 0 && len(result.Recommendations) == 0
	if !known && empty {
		return insights.AnalysisResult{}, fmt.Errorf("%s: %w", MsgNoAnalysis, insights.ErrNotFound)
	}

	result.Products = nonNil(result.Products)
	result.Reviews = nonNil(result.Reviews)
	result.Keywords = nonNil(result.Keywords)
	result.Recommendations = nonNil(result.Recommendations)
	result.Summary = insights.Summarize(result.Products, result.Reviews)
	return result, nil
}

// Cleanup removes every row stored for a session. Unknown sessions succeed.
func (s *Service) Cleanup(ctx context.Context, sessionID string) (CleanupResult, error) {
	if err := insights.ValidateSessionID(sessionID); err != nil {
		return CleanupResult{}, err
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return CleanupResult{}, fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info("session cleaned up", zap.String("session_id", sessionID))
	return CleanupResult{Success: true}, nil
}

// Export writes the session's analysis as JSON to the blob store.
func (s *Service) Export(ctx context.Context, sessionID string) (ExportResult, error) {
	if s.blobs == nil {
		return ExportResult{}, ErrExportDisabled
	}
	result, err := s.Analysis(ctx, sessionID)
	if err != nil {
		return ExportResult{}, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return ExportResult{}, fmt.Errorf("encode analysis: %w", err)
	}
	objectPath := path.Join(s.cfg.ExportPrefix, sessionID+".json")
	uri, err := s.blobs.PutObject(ctx, objectPath, "application/json", &buf)
	if err != nil {
		return ExportResult{}, fmt.Errorf("put export: %w", err)
	}
	s.logger.Info("analysis exported", zap.String("session_id", sessionID), zap.String("uri", uri))
	return ExportResult{SessionID: sessionID, URI: uri}, nil
}

// List returns recent sessions, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]insights.Session, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultListLimit
	}
	if limit > s.cfg.MaxListLimit {
		limit = s.cfg.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	sessions, err := s.store.ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return nonNil(sessions), nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
