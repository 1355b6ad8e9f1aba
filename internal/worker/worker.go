// Package worker implements the mock analysis pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/keywords"
	"github.com/JakeFAU/marketplace-insignia/internal/marketplace"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
	"github.com/JakeFAU/marketplace-insignia/internal/recommend"
)

// Lifecycle events published when a job finishes.
const (
	EventCompleted = "analysis.completed"
	EventFailed    = "analysis.failed"
)

// Pipeline stage names, used for logging and metrics.
const (
	StageScrape          = "scrape"
	StageReviews         = "reviews"
	StageKeywords        = "keywords"
	StageRecommendations = "recommendations"
)

// errSessionGone aborts a job whose session was cleaned up while it ran.
var errSessionGone = errors.New("session removed during analysis")

// Adapters resolves the marketplace adapter for a platform.
type Adapters interface {
	Adapter(platform insights.Platform) (marketplace.Adapter, error)
}

// Config controls Worker behavior.
type Config struct {
	// StageDelay is the pause before each pipeline stage.
	StageDelay          time.Duration
	ProductsPerPlatform int
	ReviewsPerProduct   int
	MaxKeywords         int
	// MaxAttempts bounds adapter calls per platform or product.
	MaxAttempts  int
	RetryBackoff time.Duration
	JobTimeout   time.Duration
}

// Event is the payload published when a job finishes.
type Event struct {
	SessionID string              `json:"session_id"`
	Query     string              `json:"query"`
	Platforms []insights.Platform `json:"platforms"`
	Status    insights.JobState   `json:"status"`
	Counts    insights.RowCounts  `json:"counts"`
	Error     string              `json:"error,omitempty"`
	Timestamp string              `json:"timestamp"`
}

// Worker consumes queue items and runs the analysis pipeline.
type Worker struct {
	queue     insights.Queue
	store     insights.Store
	adapters  Adapters
	publisher insights.Publisher
	clock     insights.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue insights.Queue,
	store insights.Store,
	adapters Adapters,
	publisher insights.Publisher,
	clock insights.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ProductsPerPlatform <= 0 {
		cfg.ProductsPerPlatform = 5
	}
	if cfg.ReviewsPerProduct <= 0 {
		cfg.ReviewsPerProduct = 10
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		adapters:  adapters,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.pause(ctx, time.Second) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued session", zap.String("session_id", item.SessionID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item insights.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("session_id", item.SessionID))
	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	if err := w.store.UpdateSessionState(jobCtx, item.SessionID, insights.JobRunning, ""); err != nil {
		logger.Error("update session state failed", zap.Error(err))
		return
	}
	logger.Info("analysis started", zap.String("query", item.Query), zap.Any("platforms", item.Platforms))

	err := w.runPipeline(jobCtx, item, logger)
	switch {
	case errors.Is(err, errSessionGone):
		logger.Info("session removed, abandoning analysis")
		return
	case err != nil && ctx.Err() != nil:
		logger.Warn("analysis interrupted by shutdown", zap.Error(err))
		w.finish(context.WithoutCancel(ctx), item, insights.JobFailed, insights.MsgInterrupted, logger)
		return
	case err != nil:
		logger.Error("analysis failed", zap.Error(err))
		w.finish(ctx, item, insights.JobFailed, err.Error(), logger)
		return
	}
	w.finish(ctx, item, insights.JobSucceeded, "", logger)
}

func (w *Worker) runPipeline(ctx context.Context, item insights.QueueItem, logger *zap.Logger) error {
	var (
		products []insights.Product
		reviews  []insights.Review
		kws      []insights.Keyword
		err      error
	)
	err = w.stage(ctx, item.SessionID, StageScrape, logger, func() error {
		products, err = w.scrape(ctx, item)
		return err
	})
	if err != nil {
		return err
	}
	err = w.stage(ctx, item.SessionID, StageReviews, logger, func() error {
		reviews, err = w.collectReviews(ctx, item, products)
		return err
	})
	if err != nil {
		return err
	}
	err = w.stage(ctx, item.SessionID, StageKeywords, logger, func() error {
		kws, err = w.extractKeywords(ctx, item.SessionID, reviews)
		return err
	})
	if err != nil {
		return err
	}
	return w.stage(ctx, item.SessionID, StageRecommendations, logger, func() error {
		return w.recommend(ctx, item, products, reviews, kws)
	})
}

// stage waits the configured delay, confirms the session still exists and runs fn.
func (w *Worker) stage(
	ctx context.Context,
	sessionID, name string,
	logger *zap.Logger,
	fn func() error,
) error {
	start := time.Now()
	if !w.pause(ctx, w.cfg.StageDelay) {
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
	if _, err := w.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, insights.ErrNotFound) {
			return errSessionGone
		}
		return fmt.Errorf("%s: load session: %w", name, err)
	}
	if err := fn(); err != nil {
		// Stores refuse rows for a session deleted while fn ran.
		if errors.Is(err, insights.ErrNotFound) {
			return errSessionGone
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	metrics.ObserveStage(name, time.Since(start))
	logger.Debug("stage finished", zap.String("stage", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (w *Worker) scrape(ctx context.Context, item insights.QueueItem) ([]insights.Product, error) {
	var found []insights.Product
	for _, platform := range item.Platforms {
		adapter, err := w.adapters.Adapter(platform)
		if err != nil {
			return nil, err
		}
		var products []insights.Product
		err = w.retry(ctx, func() error {
			var callErr error
			products, callErr = adapter.SearchProducts(ctx, item.SessionID, item.Query, w.cfg.ProductsPerPlatform)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", platform, err)
		}
		for _, p := range products {
			if err := insights.ValidateProduct(p); err != nil {
				return nil, fmt.Errorf("invalid product from %s: %w", platform, err)
			}
		}
		metrics.ObserveProducts(platform, len(products))
		found = append(found, products...)
	}
	stored, err := w.store.InsertProducts(ctx, found)
	if err != nil {
		return nil, fmt.Errorf("insert products: %w", err)
	}
	metrics.ObserveRows("products", len(stored))
	return stored, nil
}

func (w *Worker) collectReviews(
	ctx context.Context,
	item insights.QueueItem,
	products []insights.Product,
) ([]insights.Review, error) {
	var found []insights.Review
	for _, product := range products {
		adapter, err := w.adapters.Adapter(product.Platform)
		if err != nil {
			return nil, err
		}
		var reviews []insights.Review
		err = w.retry(ctx, func() error {
			var callErr error
			reviews, callErr = adapter.FetchReviews(ctx, product, w.cfg.ReviewsPerProduct)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("fetch reviews for product %d: %w", product.ID, err)
		}
		for _, r := range reviews {
			if err := insights.ValidateReview(r); err != nil {
				return nil, fmt.Errorf("invalid review for product %d: %w", product.ID, err)
			}
		}
		found = append(found, reviews...)
	}
	stored, err := w.store.InsertReviews(ctx, found)
	if err != nil {
		return nil, fmt.Errorf("insert reviews: %w", err)
	}
	metrics.ObserveRows("reviews", len(stored))
	return stored, nil
}

func (w *Worker) extractKeywords(
	ctx context.Context,
	sessionID string,
	reviews []insights.Review,
) ([]insights.Keyword, error) {
	kws := keywords.Extract(reviews, w.cfg.MaxKeywords)
	for i := range kws {
		kws[i].SessionID = sessionID
	}
	stored, err := w.store.InsertKeywords(ctx, kws)
	if err != nil {
		return nil, fmt.Errorf("insert keywords: %w", err)
	}
	metrics.ObserveRows("keywords", len(stored))
	return stored, nil
}

func (w *Worker) recommend(
	ctx context.Context,
	item insights.QueueItem,
	products []insights.Product,
	reviews []insights.Review,
	kws []insights.Keyword,
) error {
	recs := recommend.Generate(recommend.Input{
		SessionID: item.SessionID,
		Summary:   insights.Summarize(products, reviews),
		Keywords:  kws,
		Platforms: item.Platforms,
	})
	stored, err := w.store.InsertRecommendations(ctx, recs)
	if err != nil {
		return fmt.Errorf("insert recommendations: %w", err)
	}
	metrics.ObserveRows("recommendations", len(stored))
	return nil
}

func (w *Worker) finish(
	ctx context.Context,
	item insights.QueueItem,
	state insights.JobState,
	errText string,
	logger *zap.Logger,
) {
	if err := w.store.UpdateSessionState(ctx, item.SessionID, state, errText); err != nil {
		logger.Error("final session state update failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(state)
	logger.Info("analysis finished", zap.String("state", string(state)))
	w.publishResult(ctx, item, state, errText, logger)
}

func (w *Worker) publishResult(
	ctx context.Context,
	item insights.QueueItem,
	state insights.JobState,
	errText string,
	logger *zap.Logger,
) {
	if w.publisher == nil {
		return
	}
	counts, err := w.store.CountRows(ctx, item.SessionID)
	if err != nil {
		logger.Warn("count rows for event failed", zap.Error(err))
	}
	event := EventCompleted
	if state == insights.JobFailed {
		event = EventFailed
	}
	payload := Event{
		SessionID: item.SessionID,
		Query:     item.Query,
		Platforms: item.Platforms,
		Status:    state,
		Counts:    counts,
		Error:     errText,
		Timestamp: w.clock.Now().Format(time.RFC3339),
	}
	id, err := w.publisher.Publish(ctx, event, payload)
	if err != nil {
		logger.Warn("publish event failed", zap.String("event", event), zap.Error(err))
		return
	}
	logger.Debug("event published", zap.String("event", event), zap.String("message_id", id))
}

func (w *Worker) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == w.cfg.MaxAttempts {
			break
		}
		w.logger.Debug("adapter call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if !w.pause(ctx, w.cfg.RetryBackoff*time.Duration(attempt)) {
			break
		}
	}
	return err
}

// pause waits for d or until ctx ends. It reports whether the full wait elapsed.
func (w *Worker) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
