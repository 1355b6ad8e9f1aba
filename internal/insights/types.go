package insights

import "time"

// Platform identifies a supported marketplace.
type Platform string

// Supported marketplaces.
const (
	PlatformShopee     Platform = "shopee"
	PlatformTikTokShop Platform = "tiktok_shop"
	PlatformTokopedia  Platform = "tokopedia"
)

// Platforms lists every supported marketplace in display order.
var Platforms = []Platform{PlatformShopee, PlatformTikTokShop, PlatformTokopedia}

// Valid reports whether p is a supported marketplace.
func (p Platform) Valid() bool {
	switch p {
	case PlatformShopee, PlatformTikTokShop, PlatformTokopedia:
		return true
	default:
		return false
	}
}

// Sentiment is the polarity attached to a review or keyword.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	default:
		return false
	}
}

// Priority ranks a recommendation.
type Priority string

// Priority values.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank orders priorities high > medium > low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// State is the coarse progress indicator reported to clients.
type State string

// Progress states.
const (
	StateStarted    State = "started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// JobState is the lifecycle of the background pipeline job behind a session.
type JobState string

// Job states persisted on the session record.
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Active reports whether the job is still expected to write rows.
func (s JobState) Active() bool {
	return s == JobQueued || s == JobRunning
}

// Session is the record of one submitted search.
type Session struct {
	ID        string     `json:"session_id"`
	Query     string     `json:"query"`
	Platforms []Platform `json:"platforms"`
	JobState  JobState   `json:"job_state"`
	ErrorText string     `json:"error_text,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Product is a marketplace listing found for a session.
type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Platform      Platform  `json:"platform"`
	URL           string    `json:"url"`
	AverageRating *float64  `json:"average_rating"`
	TotalReviews  int       `json:"total_reviews"`
	ScrapedAt     time.Time `json:"scraped_at"`
	SessionID     string    `json:"session_id"`
}

// Review is a customer review attached to a product.
type Review struct {
	ID        int64      `json:"id"`
	ProductID int64      `json:"product_id"`
	Text      string     `json:"text"`
	Rating    int        `json:"rating"`
	Timestamp *time.Time `json:"timestamp"`
	Sentiment *Sentiment `json:"sentiment"`
	CreatedAt time.Time  `json:"created_at"`
}

// Keyword is a term mined from a session's reviews.
type Keyword struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Keyword   string     `json:"keyword"`
	Frequency int        `json:"frequency"`
	Sentiment *Sentiment `json:"sentiment"`
}

// Recommendation is an actionable suggestion generated for a session.
type Recommendation struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// SentimentDistribution counts reviews per sentiment.
type SentimentDistribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Total returns the number of reviews counted.
func (d SentimentDistribution) Total() int {
	return d.Positive + d.Neutral + d.Negative
}

// Summary holds aggregate statistics for a session.
type Summary struct {
	TotalProducts         int                   `json:"total_products"`
	TotalReviews          int                   `json:"total_reviews"`
	AverageRating         float64               `json:"average_rating"`
	SentimentDistribution SentimentDistribution `json:"sentiment_distribution"`
}

// AnalysisResult is the full dashboard payload for a session.
type AnalysisResult struct {
	SessionID       string           `json:"session_id"`
	Products        []Product        `json:"products"`
	Reviews         []Review         `json:"reviews"`
	Keywords        []Keyword        `json:"keywords"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         Summary          `json:"summary"`
}

// SearchInput is the request to start an analysis.
type SearchInput struct {
	Query     string     `json:"query"`
	Platforms []Platform `json:"platforms"`
	SessionID string     `json:"session_id,omitempty"`
}

// SearchResponse acknowledges a search request.
type SearchResponse struct {
	SessionID string `json:"session_id"`
	Status    State  `json:"status"`
	Message   string `json:"message,omitempty"`
}

// SessionStatus is the polling response for a session.
type SessionStatus struct {
	SessionID string `json:"session_id"`
	Status    State  `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
}

// RowCounts holds the number of rows stored per table for a session.
type RowCounts struct {
	Products        int `json:"products"`
	Reviews         int `json:"reviews"`
	Keywords        int `json:"keywords"`
	Recommendations int `json:"recommendations"`
}

// Empty reports whether no rows exist for the session.
func (c RowCounts) Empty() bool {
	return c.Products == 0 && c.Reviews == 0 && c.Keywords == 0 && c.Recommendations == 0
}

// SentimentPtr returns a pointer to s.
func SentimentPtr(s Sentiment) *Sentiment {
	return &s
}

// RatingPtr returns a pointer to r.
func RatingPtr(r float64) *float64 {
	return &r
}
