package dashboard

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/sentiment-pulse/pkg/models"
)

// NarrativePlaceholder is shown while the backend has no narrative yet
const NarrativePlaceholder = "_Generating narrative..._"

// View is everything a renderer needs to display one completed job
type View struct {
	Job       models.Job             `json:"job"`
	Result    *models.AnalysisResult `json:"result,omitempty"`
	Metrics   Metrics                `json:"metrics"`
	Insight   Insight                `json:"insight"`
	Platforms []PlatformOption       `json:"platforms"`
	Rows      []models.PreviewRecord `json:"rows"`
	Platform  string                 `json:"platform"`
	Sentiment string                 `json:"sentiment"`
}

// NewView derives the displayed values from a result and the active filters
func NewView(job models.Job, result *models.AnalysisResult, platform, sentiment string) *View {
	if platform == "" {
		platform = FilterAll
	}
	if sentiment == "" {
		sentiment = FilterAll
	}
	v := &View{
		Job:       job,
		Result:    result,
		Platform:  platform,
		Sentiment: sentiment,
		Platforms: []PlatformOption{{Value: FilterAll, Label: "All"}},
	}
	if result == nil {
		return v
	}
	v.Metrics = Summarize(result.Stats.GlobalCounts)
	v.Insight = QuickInsight(result.Stats.GlobalCounts)
	v.Platforms = PlatformOptions(result.Stats.ByPlatform)
	v.Rows = FilterPreview(result.DataPreview, platform, sentiment)
	return v
}

// RenderTable writes the preview rows as a table
func RenderTable(w io.Writer, rows []models.PreviewRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Platform", "Sentiment", "Post")

	for _, row := range rows {
		if err := table.Append(row.Platform, SentimentTag(row.SentimentLLM).Text, Excerpt(row.PostContent)); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}

// RenderNarrative renders the storytelling markdown for a terminal
func RenderNarrative(markdown string, width int) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		markdown = NarrativePlaceholder
	}
	if width <= 0 {
		width = 80
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("failed to render narrative: %w", err)
	}
	return out, nil
}

// ReportOptions controls RenderReport
type ReportOptions struct {
	Width       int
	NoNarrative bool
}

// RenderReport writes the full terminal report of a view
func RenderReport(w io.Writer, view *View, opts ReportOptions) error {
	if view == nil || view.Result == nil {
		_, err := fmt.Fprintln(w, "No analysis result to display")
		return err
	}

	m := view.Metrics
	fmt.Fprintf(w, "Topic: %s\n", view.Job.Topic)
	fmt.Fprintf(w, "Posts analyzed: %d\n\n", m.Total)
	fmt.Fprintf(w, "  %-9s %4d%%  (%d)\n", models.SentimentPositive, m.PositivePct, m.Positive)
	fmt.Fprintf(w, "  %-9s %4d%%  (%d)\n", models.SentimentNeutral, m.NeutralPct, m.Neutral)
	fmt.Fprintf(w, "  %-9s %4d%%  (%d)\n\n", models.SentimentNegative, m.NegativePct, m.Negative)
	fmt.Fprintf(w, "Insight: %s\n\n", view.Insight.Text)

	if !opts.NoNarrative {
		narrative, err := RenderNarrative(view.Result.Storytelling, opts.Width)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, narrative)
	}

	if view.Platform != FilterAll || view.Sentiment != FilterAll {
		fmt.Fprintf(w, "Filter: platform=%s sentiment=%s\n", view.Platform, view.Sentiment)
	}
	if len(view.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No preview rows match")
		return err
	}
	return RenderTable(w, view.Rows)
}
