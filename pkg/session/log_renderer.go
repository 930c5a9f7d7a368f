package session

import (
	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
)

// LogRenderer reports session changes to a logger. It is used when the
// session is displayed by polling clients rather than pushed to a screen.
type LogRenderer struct {
	logger *logging.Logger
}

func NewLogRenderer(logger *logging.Logger) *LogRenderer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) Busy(busy bool) {
	r.logger.Debug("Session busy state changed", logging.Fields{"busy": busy})
}

func (r *LogRenderer) Render(view *dashboard.View) {
	if view == nil || view.Result == nil {
		return
	}
	r.logger.Info("Analysis ready", logging.Fields{
		"topic":        view.Job.Topic,
		"total_posts":  view.Metrics.Total,
		"positive_pct": view.Metrics.PositivePct,
		"negative_pct": view.Metrics.NegativePct,
		"tendency":     string(view.Insight.Tendency),
	})
}

func (r *LogRenderer) Fail(err error) {
	r.logger.Warn("Analysis failed", logging.Fields{"error": err.Error()})
}
