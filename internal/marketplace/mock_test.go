package marketplace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

func fixedNow() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

func TestMockSearchProductsDeterministic(t *testing.T) {
	t.Parallel()

	a := NewMockAdapter(insights.PlatformTokopedia, MockOptions{Seed: 7, Now: fixedNow})
	first, err := a.SearchProducts(context.Background(), "s1", "wireless earbuds", 4)
	require.NoError(t, err)
	second, err := a.SearchProducts(context.Background(), "s2", "Wireless Earbuds", 4)
	require.NoError(t, err)

	require.Len(t, first, 4)
	for i := range first {
		require.Equal(t, first[i].Name, second[i].Name)
		require.Equal(t, first[i].URL, second[i].URL)
		require.Equal(t, "s1", first[i].SessionID)
		require.Equal(t, insights.PlatformTokopedia, first[i].Platform)
		require.True(t, strings.HasPrefix(first[i].URL, "https://www.tokopedia.com/product/"))
		require.NotNil(t, first[i].AverageRating)
		require.GreaterOrEqual(t, *first[i].AverageRating, 3.0)
		require.LessOrEqual(t, *first[i].AverageRating, 5.0)
		require.GreaterOrEqual(t, first[i].TotalReviews, 5)
		require.NoError(t, insights.ValidateProduct(first[i]))
	}
}

func TestMockSearchProductsDiffersByPlatform(t *testing.T) {
	t.Parallel()

	shopee := NewMockAdapter(insights.PlatformShopee, MockOptions{Seed: 1})
	tiktok := NewMockAdapter(insights.PlatformTikTokShop, MockOptions{Seed: 1})
	a, err := shopee.SearchProducts(context.Background(), "s", "phone case", 3)
	require.NoError(t, err)
	b, err := tiktok.SearchProducts(context.Background(), "s", "phone case", 3)
	require.NoError(t, err)
	require.NotEqual(t, a[0].URL, b[0].URL)
}

func TestMockSearchProductsRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	a := NewMockAdapter(insights.PlatformShopee, MockOptions{})
	_, err := a.SearchProducts(context.Background(), "s", "  ", 3)
	require.Error(t, err)

	out, err := a.SearchProducts(context.Background(), "s", "q", 0)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestMockFetchReviews(t *testing.T) {
	t.Parallel()

	a := NewMockAdapter(insights.PlatformShopee, MockOptions{Seed: 3, Now: fixedNow})
	product := insights.Product{ID: 11, URL: "https://shopee.co.id/product/x-1", TotalReviews: 50}
	reviews, err := a.FetchReviews(context.Background(), product, 8)
	require.NoError(t, err)
	require.Len(t, reviews, 8)
	for _, r := range reviews {
		require.Equal(t, int64(11), r.ProductID)
		require.NotNil(t, r.Sentiment)
		require.NoError(t, insights.ValidateReview(r))
		switch *r.Sentiment {
		case insights.SentimentPositive:
			require.GreaterOrEqual(t, r.Rating, 4)
		case insights.SentimentNegative:
			require.LessOrEqual(t, r.Rating, 2)
		default:
			require.Equal(t, 3, r.Rating)
		}
		require.False(t, r.Timestamp.After(fixedNow()))
	}

	product.TotalReviews = 2
	reviews, err = a.FetchReviews(context.Background(), product, 8)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
}

func TestMockHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewMockAdapter(insights.PlatformShopee, MockOptions{})
	_, err := a.SearchProducts(ctx, "s", "q", 3)
	require.ErrorIs(t, err, context.Canceled)
	_, err = a.FetchReviews(ctx, insights.Product{ID: 1, TotalReviews: 3}, 3)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewMockRegistry(MockOptions{Seed: 1})
	for _, p := range insights.Platforms {
		a, err := reg.Adapter(p)
		require.NoError(t, err)
		require.Equal(t, p, a.Platform())
	}
	_, err := reg.Adapter("amazon")
	require.True(t, errors.Is(err, ErrUnsupportedPlatform))
}
