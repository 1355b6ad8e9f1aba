package insights

import (
	"fmt"
	"net/url"
	"strings"
)

// MaxPlatforms bounds the platforms accepted per search.
const MaxPlatforms = 3

const maxSessionIDLen = 128

// ValidationError reports an invalid field at the API boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateSearchInput checks a search request and returns a normalized copy:
// the query is trimmed and duplicate platforms are collapsed in order.
func ValidateSearchInput(in SearchInput) (SearchInput, error) {
	out := SearchInput{
		Query:     strings.TrimSpace(in.Query),
		SessionID: strings.TrimSpace(in.SessionID),
	}
	if out.Query == "" {
		return SearchInput{}, invalid("query", "Search query is required")
	}
	if len(in.Platforms) == 0 {
		return SearchInput{}, invalid("platforms", "At least one platform must be selected")
	}
	if len(in.Platforms) > MaxPlatforms {
		return SearchInput{}, invalid("platforms", "at most %d platforms may be selected", MaxPlatforms)
	}
	seen := make(map[Platform]struct{}, len(in.Platforms))
	for _, p := range in.Platforms {
		if !p.Valid() {
			return SearchInput{}, invalid("platforms", "unsupported platform %q", p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out.Platforms = append(out.Platforms, p)
	}
	if out.SessionID != "" {
		if err := ValidateSessionID(out.SessionID); err != nil {
			return SearchInput{}, err
		}
	}
	return out, nil
}

// ValidateSessionID checks a caller-supplied session identifier.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("session_id", "session_id is required")
	}
	if len(id) > maxSessionIDLen {
		return invalid("session_id", "session_id must be at most %d bytes", maxSessionIDLen)
	}
	// IDs appear as URL path segments and in export object names.
	for i := 0; i < len(id); i++ {
		if !sessionIDByte(id[i]) {
			return invalid("session_id", "session_id may only contain letters, digits, '-' and '_'")
		}
	}
	return nil
}

func sessionIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

// ValidateProduct checks a product before it is persisted.
func ValidateProduct(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "product name is required")
	}
	if !p.Platform.Valid() {
		return invalid("platform", "unsupported platform %q", p.Platform)
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url", "product url must be an absolute http(s) URL")
	}
	if p.AverageRating != nil && (*p.AverageRating < 0 || *p.AverageRating > 5) {
		return invalid("average_rating", "must be between 0 and 5")
	}
	if p.TotalReviews < 0 {
		return invalid("total_reviews", "must not be negative")
	}
	return ValidateSessionID(p.SessionID)
}

// ValidateReview checks a review before it is persisted.
func ValidateReview(r Review) error {
	if r.ProductID <= 0 {
		return invalid("product_id", "product_id is required")
	}
	if r.Rating < 1 || r.Rating > 5 {
		return invalid("rating", "must be between 1 and 5")
	}
	if r.Sentiment != nil && !r.Sentiment.Valid() {
		return invalid("sentiment", "unsupported sentiment %q", *r.Sentiment)
	}
	return nil
}

// ValidateKeyword checks a keyword before it is persisted.
func ValidateKeyword(k Keyword) error {
	if strings.TrimSpace(k.Keyword) == "" {
		return invalid("keyword", "keyword is required")
	}
	if k.Frequency < 0 {
		return invalid("frequency", "must not be negative")
	}
	if k.Sentiment != nil && !k.Sentiment.Valid() {
		return invalid("sentiment", "unsupported sentiment %q", *k.Sentiment)
	}
	return ValidateSessionID(k.SessionID)
}

// ValidateRecommendation checks a recommendation before it is persisted.
func ValidateRecommendation(r Recommendation) error {
	if strings.TrimSpace(r.Title) == "" {
		return invalid("title", "title is required")
	}
	if !r.Priority.Valid() {
		return invalid("priority", "unsupported priority %q", r.Priority)
	}
	return ValidateSessionID(r.SessionID)
}
