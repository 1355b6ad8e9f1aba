package marketplace

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

var platformBaseURLs = map[insights.Platform]string{
	insights.PlatformShopee:     "https://shopee.co.id",
	insights.PlatformTikTokShop: "https://shop.tiktok.com",
	insights.PlatformTokopedia:  "https://www.tokopedia.com",
}

var productVariants = []string{"Pro", "Lite", "Max", "Plus", "Mini", "Original", "Premium", "Basic"}

var reviewTexts = map[insights.Sentiment][]string{
	insights.SentimentPositive: {
		"Great quality, works exactly as described",
		"Fast delivery and the packaging was excellent",
		"Battery life is amazing, very satisfied",
		"Excellent value for the price, would buy again",
		"Sound quality is great and the seller was responsive",
	},
	insights.SentimentNeutral: {
		"Product is okay, delivery took a while",
		"Average quality for the price",
		"Works fine but the packaging was plain",
		"Decent product, nothing special about the battery",
	},
	insights.SentimentNegative: {
		"Poor quality, stopped working after a week",
		"Delivery was slow and the box arrived damaged",
		"Battery drains quickly, disappointed",
		"Not as described, the seller ignored my messages",
		"Cheap material and poor sound quality",
	},
}

var sentiments = []insights.Sentiment{
	insights.SentimentPositive,
	insights.SentimentNeutral,
	insights.SentimentNegative,
}

// MockOptions configures the offline mock adapter.
type MockOptions struct {
	// Seed mixes into every generated value. A fixed seed makes output reproducible.
	Seed int64
	// Now stamps generated rows; defaults to time.Now.
	Now func() time.Time
}

// MockAdapter synthesizes listings and reviews without network calls.
// Listings are deterministic per query and platform for a given seed.
type MockAdapter struct {
	platform insights.Platform
	baseURL  string
	seed     int64
	now      func() time.Time
}

// NewMockAdapter constructs a mock adapter for platform.
func NewMockAdapter(platform insights.Platform, opts MockOptions) *MockAdapter {
	base, ok := platformBaseURLs[platform]
	if !ok {
		base = "https://marketplace.invalid"
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MockAdapter{platform: platform, baseURL: base, seed: opts.Seed, now: now}
}

// Platform reports the marketplace this adapter serves.
func (m *MockAdapter) Platform() insights.Platform {
	return m.platform
}

// SearchProducts returns up to limit synthetic listings for query.
func (m *MockAdapter) SearchProducts(
	ctx context.Context,
	sessionID, query string,
	limit int,
) ([]insights.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		return []insights.Product{}, nil
	}

	r := m.rand(string(m.platform) + "|" + strings.ToLower(q))
	scraped := m.now()
	out := make([]insights.Product, 0, limit)
	for i := 0; i < limit; i++ {
		name := fmt.Sprintf("%s %s %d", titleCase(q), productVariants[r.Intn(len(productVariants))], i+1)
		slug := strings.ReplaceAll(strings.ToLower(name), " ", "-")
		rating := math.Round((3+r.Float64()*2)*100) / 100
		out = append(out, insights.Product{
			Name:          name,
			Platform:      m.platform,
			URL:           fmt.Sprintf("%s/product/%s-%d", m.baseURL, url.PathEscape(slug), r.Int31n(1_000_000)),
			AverageRating: insights.RatingPtr(rating),
			TotalReviews:  5 + r.Intn(496),
			ScrapedAt:     scraped,
			SessionID:     sessionID,
		})
	}
	return out, nil
}

// FetchReviews returns up to limit synthetic reviews for product. Each review's
// sentiment is drawn uniformly; rating and text follow the sentiment.
func (m *MockAdapter) FetchReviews(
	ctx context.Context,
	product insights.Product,
	limit int,
) ([]insights.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if product.ID <= 0 {
		return nil, fmt.Errorf("product id is required")
	}
	n := limit
	if product.TotalReviews < n {
		n = product.TotalReviews
	}
	if n <= 0 {
		return []insights.Review{}, nil
	}

	r := m.rand(product.URL)
	now := m.now()
	out := make([]insights.Review, 0, n)
	for i := 0; i < n; i++ {
		sentiment := sentiments[r.Intn(len(sentiments))]
		texts := reviewTexts[sentiment]
		posted := now.Add(-time.Duration(r.Intn(90*24)) * time.Hour)
		out = append(out, insights.Review{
			ProductID: product.ID,
			Text:      texts[r.Intn(len(texts))],
			Rating:    ratingFor(sentiment, r),
			Timestamp: &posted,
			Sentiment: insights.SentimentPtr(sentiment),
		})
	}
	return out, nil
}

func (m *MockAdapter) rand(key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	// #nosec G404 -- synthetic data, not security sensitive.
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ m.seed))
}

func ratingFor(s insights.Sentiment, r *rand.Rand) int {
	switch s {
	case insights.SentimentPositive:
		return 4 + r.Intn(2)
	case insights.SentimentNegative:
		return 1 + r.Intn(2)
	default:
		return 3
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
