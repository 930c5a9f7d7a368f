package models

import (
	"encoding/json"
	"time"
)

// Sentiment labels as emitted by the backend's LLM classifier
const (
	SentimentPositive = "Positivo"
	SentimentNeutral  = "Neutro"
	SentimentNegative = "Negativo"
)

// SentimentLabels lists the labels in display order
var SentimentLabels = []string{SentimentPositive, SentimentNeutral, SentimentNegative}

// SentimentCounts maps a sentiment label to a post count
type SentimentCounts map[string]int

// Get returns the count for label, zero when absent
func (c SentimentCounts) Get(label string) int {
	if c == nil {
		return 0
	}
	return c[label]
}

// Stats is the statistics block of an analysis result
type Stats struct {
	GlobalCounts     SentimentCounts            `json:"global_counts"`
	GlobalPercents   map[string]string          `json:"global_percents,omitempty"`
	ByPlatform       map[string]SentimentCounts `json:"by_platform"`
	ExamplesPositive []string                   `json:"examples_positive,omitempty"`
	ExamplesNegative []string                   `json:"examples_negative,omitempty"`
}

// AnalysisResult is the payload returned once a job completes
type AnalysisResult struct {
	Topic        string          `json:"topic"`
	TotalPosts   int             `json:"total_posts"`
	Stats        Stats           `json:"stats"`
	Storytelling string          `json:"storytelling"`
	DataPreview  []PreviewRecord `json:"data_preview"`
}

// PreviewRecord is one row of the bounded sample returned with a result.
// Keys other than the three known columns are kept in Extra.
type PreviewRecord struct {
	Platform     string                     `json:"platform"`
	SentimentLLM string                     `json:"sentiment_llm"`
	PostContent  string                     `json:"post_content"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known columns and keeps the rest in Extra.
// Null columns (pandas NaN exported as null) decode to empty strings.
func (r *PreviewRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = PreviewRecord{}
	for key, value := range raw {
		switch key {
		case "platform":
			r.Platform = decodeLooseString(value)
		case "sentiment_llm":
			r.SentimentLLM = decodeLooseString(value)
		case "post_content":
			r.PostContent = decodeLooseString(value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[key] = value
		}
	}
	return nil
}

// MarshalJSON writes the known columns followed by Extra
func (r PreviewRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["platform"] = r.Platform
	out["sentiment_llm"] = r.SentimentLLM
	out["post_content"] = r.PostContent
	return json.Marshal(out)
}

func decodeLooseString(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err == nil {
		return n.String()
	}
	return ""
}

// HistoryEntry is one previously analyzed topic
type HistoryEntry struct {
	Topic      string    `json:"topic"`
	TotalPosts int       `json:"total_posts,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// UnmarshalJSON accepts RFC3339 timestamps, naive ISO timestamps and
// missing or null created_at values
func (h *HistoryEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Topic      string  `json:"topic"`
		TotalPosts int     `json:"total_posts"`
		CreatedAt  *string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*h = HistoryEntry{Topic: raw.Topic, TotalPosts: raw.TotalPosts}
	if raw.CreatedAt != nil {
		for _, layout := range historyTimeLayouts {
			if t, err := time.Parse(layout, *raw.CreatedAt); err == nil {
				h.CreatedAt = t
				break
			}
		}
	}
	return nil
}

var historyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}
