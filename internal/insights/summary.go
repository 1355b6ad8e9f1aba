package insights

// Summarize computes the aggregate statistics shown on the dashboard.
func Summarize(products []Product, reviews []Review) Summary {
	summary := Summary{
		TotalProducts: len(products),
		TotalReviews:  len(reviews),
		AverageRating: AverageRating(products),
	}
	for _, r := range reviews {
		switch {
		case r.Sentiment == nil:
			summary.SentimentDistribution.Neutral++
		case *r.Sentiment == SentimentPositive:
			summary.SentimentDistribution.Positive++
		case *r.Sentiment == SentimentNegative:
			summary.SentimentDistribution.Negative++
		default:
			summary.SentimentDistribution.Neutral++
		}
	}
	return summary
}

// AverageRating returns the mean product rating weighted by each product's
// review count. Products without a rating are ignored. When no rated product
// has reviews the plain mean is used.
func AverageRating(products []Product) float64 {
	var (
		weighted float64
		weights  int
		plain    float64
		rated    int
	)
	for _, p := range products {
		if p.AverageRating == nil {
			continue
		}
		rated++
		plain += *p.AverageRating
		if p.TotalReviews > 0 {
			weighted += *p.AverageRating * float64(p.TotalReviews)
			weights += p.TotalReviews
		}
	}
	switch {
	case rated == 0:
		return 0
	case weights == 0:
		return plain / float64(rated)
	default:
		return weighted / float64(weights)
	}
}
