// Package keywords mines frequent terms from review text.
package keywords

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

const minWordLen = 3

var stopSet = toSet(
	"a", "about", "after", "all", "also", "an", "and", "any", "are", "arrived", "as", "at", "be", "because",
	"been", "but", "by", "can", "could", "did", "do", "does", "for", "from", "had", "has", "have", "her",
	"his", "how", "i", "if", "in", "into", "is", "it", "its", "just", "me", "more", "most", "my", "no",
	"not", "nothing", "of", "on", "or", "our", "out", "over", "she", "so", "some", "than", "that", "the",
	"their", "them", "then", "there", "these", "they", "this", "those", "to", "too", "took", "very", "was",
	"we", "were", "what", "when", "which", "while", "who", "will", "with", "would", "you", "your",
)

type tally struct {
	count   int
	forms   map[string]int
	moods   map[insights.Sentiment]int
	firstAt int
}

// Extract returns up to limit keywords ranked by how often their stem occurs
// across reviews. Each keyword is reported in its most frequent surface form
// and carries the majority sentiment of the reviews it appears in.
func Extract(reviews []insights.Review, limit int) []insights.Keyword {
	if limit <= 0 {
		return []insights.Keyword{}
	}
	tallies := make(map[string]*tally)
	order := 0
	for _, review := range reviews {
		mood := insights.SentimentNeutral
		if review.Sentiment != nil {
			mood = *review.Sentiment
		}
		seen := make(map[string]bool)
		for _, word := range tokenize(review.Text) {
			stem, err := snowball.Stem(word, "english", true)
			if err != nil || stem == "" {
				continue
			}
			t, ok := tallies[stem]
			if !ok {
				t = &tally{forms: map[string]int{}, moods: map[insights.Sentiment]int{}, firstAt: order}
				tallies[stem] = t
				order++
			}
			t.count++
			t.forms[word]++
			if !seen[stem] {
				t.moods[mood]++
				seen[stem] = true
			}
		}
	}

	ranked := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].firstAt < ranked[j].firstAt
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]insights.Keyword, 0, len(ranked))
	for _, t := range ranked {
		out = append(out, insights.Keyword{
			Keyword:   dominantForm(t.forms),
			Frequency: t.count,
			Sentiment: insights.SentimentPtr(majority(t.moods)),
		})
	}
	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < minWordLen {
			continue
		}
		if _, stop := stopSet[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func dominantForm(forms map[string]int) string {
	best, bestCount := "", -1
	for form, n := range forms {
		if n > bestCount || (n == bestCount && form < best) {
			best, bestCount = form, n
		}
	}
	return best
}

// majority returns the most common sentiment; ties resolve to neutral.
func majority(moods map[insights.Sentiment]int) insights.Sentiment {
	pos, neg, neu := moods[insights.SentimentPositive], moods[insights.SentimentNegative], moods[insights.SentimentNeutral]
	switch {
	case pos > neg && pos > neu:
		return insights.SentimentPositive
	case neg > pos && neg > neu:
		return insights.SentimentNegative
	default:
		return insights.SentimentNeutral
	}
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
