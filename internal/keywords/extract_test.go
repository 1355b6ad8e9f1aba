package keywords

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

func review(text string, s insights.Sentiment) insights.Review {
	return insights.Review{Text: text, Rating: 3, Sentiment: insights.SentimentPtr(s)}
}

func TestExtractRanksByStemFrequency(t *testing.T) {
	t.Parallel()

	reviews := []insights.Review{
		review("Battery life is amazing", insights.SentimentPositive),
		review("The battery drains quickly", insights.SentimentNegative),
		review("Great batteries and great delivery", insights.SentimentPositive),
		review("Delivery was slow", insights.SentimentNegative),
	}

	got := Extract(reviews, 3)
	require.Len(t, got, 3)
	require.Equal(t, "battery", got[0].Keyword)
	require.Equal(t, 3, got[0].Frequency)
	require.Equal(t, insights.SentimentPositive, *got[0].Sentiment)

	require.Equal(t, 2, got[1].Frequency)
	require.Equal(t, 2, got[2].Frequency)
	words := []string{got[1].Keyword, got[2].Keyword}
	require.ElementsMatch(t, []string{"great", "delivery"}, words)
}

func TestExtractDropsStopWordsAndShortTokens(t *testing.T) {
	t.Parallel()

	got := Extract([]insights.Review{review("it is to be ok, the and of", insights.SentimentNeutral)}, 10)
	require.Empty(t, got)
}

func TestExtractMajoritySentiment(t *testing.T) {
	t.Parallel()

	reviews := []insights.Review{
		review("seller responsive", insights.SentimentPositive),
		review("seller ignored messages", insights.SentimentNegative),
		{Text: "seller okay", Rating: 3},
	}
	got := Extract(reviews, 1)
	require.Len(t, got, 1)
	require.Equal(t, "seller", got[0].Keyword)
	require.Equal(t, insights.SentimentNeutral, *got[0].Sentiment)
}

func TestExtractLimit(t *testing.T) {
	t.Parallel()

	reviews := []insights.Review{review("alpha bravo charlie delta echo", insights.SentimentPositive)}
	require.Len(t, Extract(reviews, 2), 2)
	require.Empty(t, Extract(reviews, 0))
	require.Empty(t, Extract(nil, 5))
}
