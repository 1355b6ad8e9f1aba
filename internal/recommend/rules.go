// Package recommend turns aggregate analysis results into actionable recommendations.
package recommend

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

// Thresholds used by the rule set.
const (
	NegativeShareThreshold = 0.30
	LowRatingThreshold     = 3.5
	HighRatingThreshold    = 4.5
)

// Input is everything the rules look at.
type Input struct {
	SessionID string
	Summary   insights.Summary
	Keywords  []insights.Keyword
	Platforms []insights.Platform
}

// Generate applies the static rule set. The result is ordered high, medium,
// low and always holds at least one recommendation.
func Generate(in Input) []insights.Recommendation {
	var out []insights.Recommendation
	add := func(priority insights.Priority, category, title, description string) {
		out = append(out, insights.Recommendation{
			SessionID:   in.SessionID,
			Title:       title,
			Description: description,
			Priority:    priority,
			Category:    category,
		})
	}

	dist := in.Summary.SentimentDistribution
	if total := dist.Total(); total > 0 {
		share := float64(dist.Negative) / float64(total)
		if share > NegativeShareThreshold {
			add(insights.PriorityHigh, "customer_satisfaction", "Address negative feedback",
				fmt.Sprintf("%.0f%% of %d reviews are negative. Review the complaints and respond to unhappy buyers.",
					share*100, total))
		}
	}

	rating := in.Summary.AverageRating
	if rating > 0 && rating < LowRatingThreshold {
		add(insights.PriorityHigh, "quality", "Improve product quality",
			fmt.Sprintf("The review-weighted average rating is %.2f, below %.1f.", rating, LowRatingThreshold))
	}

	if kw, ok := topKeyword(in.Keywords, insights.SentimentNegative); ok {
		add(insights.PriorityMedium, "product_insights", fmt.Sprintf("Investigate %q complaints", kw.Keyword),
			fmt.Sprintf("%q is the most frequent term in negative reviews (%d mentions).", kw.Keyword, kw.Frequency))
	}

	if kw, ok := topKeyword(in.Keywords, insights.SentimentPositive); ok {
		add(insights.PriorityMedium, "marketing", fmt.Sprintf("Promote %q in listings", kw.Keyword),
			fmt.Sprintf("Buyers mention %q positively %d times. Feature it in titles and images.", kw.Keyword, kw.Frequency))
	}

	if len(in.Platforms) == 1 {
		add(insights.PriorityLow, "distribution", "Expand to more marketplaces",
			fmt.Sprintf("Only %s was analyzed. Compare listings on other marketplaces to find gaps.", in.Platforms[0]))
	}

	if rating >= HighRatingThreshold {
		add(insights.PriorityLow, "marketing", "Highlight strong ratings",
			fmt.Sprintf("An average rating of %.2f is a selling point worth showing in campaigns.", rating))
	}

	if len(out) == 0 {
		add(insights.PriorityLow, "monitoring", "Keep monitoring reviews",
			"No issues stood out. Re-run the analysis periodically to catch changes in sentiment.")
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out
}

func topKeyword(keywords []insights.Keyword, sentiment insights.Sentiment) (insights.Keyword, bool) {
	var (
		best  insights.Keyword
		found bool
	)
	for _, k := range keywords {
		if k.Sentiment == nil || *k.Sentiment != sentiment {
			continue
		}
		if !found || k.Frequency > best.Frequency {
			best, found = k, true
		}
	}
	return best, found
}
