package recommend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

func titles(recs []insights.Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Title
	}
	return out
}

func TestGenerateFlagsNegativeSessions(t *testing.T) {
	t.Parallel()

	recs := Generate(Input{
		SessionID: "s1",
		Summary: insights.Summary{
			AverageRating:         3.1,
			SentimentDistribution: insights.SentimentDistribution{Positive: 2, Neutral: 1, Negative: 4},
		},
		Keywords: []insights.Keyword{
			{Keyword: "battery", Frequency: 5, Sentiment: insights.SentimentPtr(insights.SentimentNegative)},
			{Keyword: "delivery", Frequency: 2, Sentiment: insights.SentimentPtr(insights.SentimentNegative)},
		},
		Platforms: []insights.Platform{insights.PlatformShopee},
	})

	require.Equal(t, []string{
		"Address negative feedback",
		"Improve product quality",
		`Investigate "battery" complaints`,
		"Expand to more marketplaces",
	}, titles(recs))
	for _, r := range recs {
		require.Equal(t, "s1", r.SessionID)
		require.NoError(t, insights.ValidateRecommendation(r))
	}
}

func TestGenerateOrdersByPriority(t *testing.T) {
	t.Parallel()

	recs := Generate(Input{
		SessionID: "s1",
		Summary: insights.Summary{
			AverageRating:         4.7,
			SentimentDistribution: insights.SentimentDistribution{Positive: 9, Negative: 1},
		},
		Keywords: []insights.Keyword{
			{Keyword: "quality", Frequency: 4, Sentiment: insights.SentimentPtr(insights.SentimentPositive)},
		},
		Platforms: []insights.Platform{insights.PlatformShopee, insights.PlatformTokopedia},
	})

	require.Equal(t, []string{`Promote "quality" in listings`, "Highlight strong ratings"}, titles(recs))
	for i := 1; i < len(recs); i++ {
		require.GreaterOrEqual(t, recs[i-1].Priority.Rank(), recs[i].Priority.Rank())
	}
}

func TestGenerateAlwaysReturnsSomething(t *testing.T) {
	t.Parallel()

	recs := Generate(Input{
		SessionID: "s1",
		Summary:   insights.Summary{AverageRating: 4.0},
		Platforms: []insights.Platform{insights.PlatformShopee, insights.PlatformTikTokShop},
	})
	require.Len(t, recs, 1)
	require.Equal(t, insights.PriorityLow, recs[0].Priority)
	require.Equal(t, "monitoring", recs[0].Category)
}
