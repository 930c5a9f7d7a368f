package api

import (
	"html/template"

	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/session"
)

type pageRow struct {
	Platform string
	Tag      dashboard.Tag
	Excerpt  string
}

type pageData struct {
	Phase      models.JobState
	Busy       bool
	Job        *models.Job
	Error      string
	View       *dashboard.View
	Rows       []pageRow
	Narrative  string
	Token      string
	Limit      int
	Sentiments []string
}

func newPageData(state session.State, errMsg string) pageData {
	data := pageData{
		Phase: state.Phase(),
		Busy:  state.Busy,
		Job:   state.Job,
		Error: errMsg,
		View:  state.View,
		Limit: models.DefaultLimit,

		Sentiments: append([]string{dashboard.FilterAll}, models.SentimentLabels...),
	}
	if state.Job != nil {
		data.Token = state.Job.Token
		data.Limit = state.Job.Limit
		if data.Error == "" && state.Job.State == models.JobStateFailed {
			data.Error = state.Job.Error
		}
	}
	if state.View != nil {
		for _, rec := range state.View.Rows {
			data.Rows = append(data.Rows, pageRow{
				Platform: rec.Platform,
				Tag:      dashboard.SentimentTag(rec.SentimentLLM),
				Excerpt:  dashboard.Excerpt(rec.PostContent),
			})
		}
		data.Narrative = state.View.Result.Storytelling
		if data.Narrative == "" {
			data.Narrative = "Generating narrative..."
		}
	}
	return data
}

var pageTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    {{if .Busy}}<meta http-equiv="refresh" content="3" />{{end}}
    <title>Sentiment Pulse</title>
    <style>
      body { margin: 0; font-family: sans-serif; background: #0f172a; color: #e2e8f0; }
      main { max-width: 1100px; margin: 0 auto; padding: 24px; }
      .panel { background: #1e293b; border-radius: 10px; padding: 16px; margin-bottom: 16px; }
      .metrics { display: flex; gap: 16px; }
      .metric { flex: 1; text-align: center; }
      .metric b { display: block; font-size: 28px; }
      .error { color: #ef4444; }
      .muted { color: #94a3b8; }
      .pos { color: #10b981; } .neg { color: #ef4444; } .neu { color: #94a3b8; }
      table { width: 100%; border-collapse: collapse; }
      td, th { text-align: left; padding: 6px; border-bottom: 1px solid #334155; }
      pre { white-space: pre-wrap; }
    </style>
  </head>
  <body>
    <main>
      <h1>Sentiment Pulse</h1>

      <section class="panel">
        <form method="post" action="/api/analyze">
          <input name="topic" placeholder="Topic" value="{{with .Job}}{{.Topic}}{{end}}" {{if .Busy}}disabled{{end}} />
          <input name="limit" type="number" min="1" value="{{.Limit}}" {{if .Busy}}disabled{{end}} />
          <button type="submit" {{if .Busy}}disabled{{end}}>{{if .Busy}}Analyzing...{{else}}Analyze{{end}}</button>
        </form>
        <form method="post" action="/api/reset"><button type="submit">New search</button></form>
        <p class="muted">State: {{.Phase}}{{with .Job}} &middot; {{.Topic}} &middot; {{.Ticks}} polls{{end}}</p>
        {{with .Error}}<p class="error">{{.}}</p>{{end}}
      </section>

      {{with .View}}
      <section class="panel metrics">
        <div class="metric"><b>{{.Metrics.Total}}</b>Posts</div>
        <div class="metric pos"><b>{{.Metrics.PositivePct}}%</b>Positivo</div>
        <div class="metric neu"><b>{{.Metrics.NeutralPct}}%</b>Neutro</div>
        <div class="metric neg"><b>{{.Metrics.NegativePct}}%</b>Negativo</div>
      </section>

      <section class="panel">
        <p><strong>{{.Insight.Tendency}}</strong>: {{.Insight.Text}}</p>
        <img src="/charts/global.svg?v={{$.Token}}" alt="Global sentiment" />
        <img src="/charts/platform.svg?v={{$.Token}}" alt="Sentiment by platform" />
      </section>

      <section class="panel">
        <h2>Narrative</h2>
        <pre>{{$.Narrative}}</pre>
      </section>

      <section class="panel">
        <form method="get" action="/">
          <select name="platform">
            {{range .Platforms}}<option value="{{.Value}}" {{if eq .Value $.View.Platform}}selected{{end}}>{{.Label}}</option>{{end}}
          </select>
          <select name="sentiment">
            {{range $.Sentiments}}<option value="{{.}}" {{if eq . $.View.Sentiment}}selected{{end}}>{{.}}</option>{{end}}
          </select>
          <button type="submit">Filter</button>
        </form>
        <p class="muted">Filter: platform={{.Platform}} sentiment={{.Sentiment}}</p>
        <table>
          <thead><tr><th>Platform</th><th>Sentiment</th><th>Post</th></tr></thead>
          <tbody>
            {{range $.Rows}}<tr><td>{{.Platform}}</td><td class="{{.Tag.Class}}">{{.Tag.Text}}</td><td>{{.Excerpt}}</td></tr>
            {{else}}<tr><td colspan="3" class="muted">No rows match</td></tr>{{end}}
          </tbody>
        </table>
      </section>
      {{end}}
    </main>
  </body>
</html>
`))
