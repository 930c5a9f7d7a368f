// Package dashboard turns a completed analysis into what a user sees:
// headline metrics, a quick insight, charts, a narrative and a filterable
// preview table. Everything here is a pure transform of the result except
// Charts, which is an owned resource.
package dashboard

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/psantana5/sentiment-pulse/pkg/models"
)

// FilterAll matches every platform or sentiment
const FilterAll = "all"

// excerptRunes is how much post content the table shows
const excerptRunes = 100

// Metrics are the headline numbers of a result
type Metrics struct {
	Total       int `json:"total"`
	Positive    int `json:"positive"`
	Neutral     int `json:"neutral"`
	Negative    int `json:"negative"`
	PositivePct int `json:"positive_pct"`
	NeutralPct  int `json:"neutral_pct"`
	NegativePct int `json:"negative_pct"`
}

// Summarize computes headline metrics from the global counts. Labels other
// than the three known sentiments are ignored.
func Summarize(counts models.SentimentCounts) Metrics {
	m := Metrics{
		Positive: counts.Get(models.SentimentPositive),
		Neutral:  counts.Get(models.SentimentNeutral),
		Negative: counts.Get(models.SentimentNegative),
	}
	m.Total = m.Positive + m.Neutral + m.Negative
	if m.Total == 0 {
		return m
	}
	m.PositivePct = percent(m.Positive, m.Total)
	m.NeutralPct = percent(m.Neutral, m.Total)
	m.NegativePct = percent(m.Negative, m.Total)
	return m
}

func percent(n, total int) int {
	return int(math.Round(float64(n) / float64(total) * 100))
}

// Tendency is the overall leaning of a result
type Tendency string

const (
	TendencyPositive Tendency = "positive"
	TendencyNegative Tendency = "negative"
	TendencyDivided  Tendency = "divided"
)

// Insight is a one-line reading of the global counts
type Insight struct {
	Tendency Tendency `json:"tendency"`
	Text     string   `json:"text"`
}

// QuickInsight classifies the result. One side must outweigh the other by
// more than half again to count as a tendency.
func QuickInsight(counts models.SentimentCounts) Insight {
	pos := float64(counts.Get(models.SentimentPositive))
	neg := float64(counts.Get(models.SentimentNegative))

	switch {
	case pos > neg*1.5:
		return Insight{
			Tendency: TendencyPositive,
			Text:     "Perception is strongly positive. Users are receiving this topic well.",
		}
	case neg > pos*1.5:
		return Insight{
			Tendency: TendencyNegative,
			Text:     "There is a considerable negative trend. Friction points or criticism were detected.",
		}
	default:
		return Insight{
			Tendency: TendencyDivided,
			Text:     "Opinion is divided. There is no clear consensus among users.",
		}
	}
}

// PlatformOption is one entry of the platform filter
type PlatformOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// PlatformOptions lists the platform filter entries: "all" first, then
// every platform of the result in sorted order.
func PlatformOptions(byPlatform map[string]models.SentimentCounts) []PlatformOption {
	out := []PlatformOption{{Value: FilterAll, Label: "All"}}
	for _, p := range sortedPlatforms(byPlatform) {
		out = append(out, PlatformOption{Value: p, Label: Capitalize(p)})
	}
	return out
}

func sortedPlatforms(byPlatform map[string]models.SentimentCounts) []string {
	keys := make([]string, 0, len(byPlatform))
	for k := range byPlatform {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Capitalize upper-cases the first rune of s
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// FilterPreview keeps rows matching both filters. Platform matches
// case-insensitively, sentiment by substring; "all" or empty matches
// everything. The input slice is not modified.
func FilterPreview(rows []models.PreviewRecord, platform, sentiment string) []models.PreviewRecord {
	matchAllPlatforms := platform == "" || platform == FilterAll
	matchAllSentiments := sentiment == "" || sentiment == FilterAll

	out := make([]models.PreviewRecord, 0, len(rows))
	for _, row := range rows {
		if !matchAllPlatforms && !strings.EqualFold(row.Platform, platform) {
			continue
		}
		if !matchAllSentiments && (row.SentimentLLM == "" || !strings.Contains(row.SentimentLLM, sentiment)) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Tag is the display class of a sentiment label
type Tag struct {
	Class string `json:"class"`
	Text  string `json:"text"`
}

// SentimentTag maps a row's label to its display class. Missing labels
// display as neutral.
func SentimentTag(label string) Tag {
	if label == "" {
		label = models.SentimentNeutral
	}
	switch {
	case strings.Contains(label, models.SentimentPositive):
		return Tag{Class: "pos", Text: label}
	case strings.Contains(label, models.SentimentNegative):
		return Tag{Class: "neg", Text: label}
	default:
		return Tag{Class: "neu", Text: label}
	}
}

// Excerpt shortens post content for the table
func Excerpt(content string) string {
	if content == "" {
		return ""
	}
	runes := []rune(content)
	if len(runes) > excerptRunes {
		runes = runes[:excerptRunes]
	}
	return string(runes) + "..."
}
