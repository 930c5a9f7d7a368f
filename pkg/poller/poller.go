// Package poller observes an analysis job on the backend until it reaches a
// terminal state.
//
// Each Task runs one loop in its own goroutine. A tick queries the result
// endpoint; 200 completes the job, 404 keeps waiting, any other status fails
// it. Transport and decode errors only fail the tick, never the job.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/sentiment-pulse/pkg/backend"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/metrics"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultInterval is the fixed delay between poll ticks
	DefaultInterval = 3000 * time.Millisecond

	// DefaultMaxWait caps how long a job may stay pending
	DefaultMaxWait = 15 * time.Minute
)

// ErrPollTimeout is reported when a job is still pending after MaxWait
var ErrPollTimeout = errors.New("analysis did not complete before the poll deadline")

// Fetcher queries the result endpoint for a topic.
// It must return backend.ErrNotReady while the job runs and
// *backend.StatusError for any other non-200 status.
type Fetcher interface {
	FetchResult(ctx context.Context, topic string) (*models.AnalysisResult, error)
}

// JobFailedError is a terminal failure reported by the backend
type JobFailedError struct {
	Topic string
	Code  int
	Err   error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("analysis of %q failed with status %d", e.Topic, e.Code)
}

func (e *JobFailedError) Unwrap() error {
	return e.Err
}

// Config holds poller timing
type Config struct {
	Interval time.Duration
	MaxWait  time.Duration // 0 disables the cap
}

// DefaultConfig returns the default poll timing
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		MaxWait:  DefaultMaxWait,
	}
}

// Outcome is the terminal result of one task
type Outcome struct {
	Token   string
	Topic   string
	Result  *models.AnalysisResult
	Err     error
	Ticks   int
	Elapsed time.Duration
}

// Completed reports whether the outcome carries a result
func (o Outcome) Completed() bool {
	return o.Err == nil && o.Result != nil
}

// Poller starts polling tasks against a Fetcher
type Poller struct {
	fetcher  Fetcher
	cfg      Config
	logger   *logging.Logger
	recorder *metrics.Recorder
	tracer   *tracing.Provider
}

// Option configures a Poller
type Option func(*Poller)

// WithLogger sets the logger used for tick diagnostics
func WithLogger(l *logging.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r *metrics.Recorder) Option {
	return func(p *Poller) { p.recorder = r }
}

// WithTracer sets the tracing provider
func WithTracer(t *tracing.Provider) Option {
	return func(p *Poller) { p.tracer = t }
}

// New creates a poller. A non-positive interval falls back to DefaultInterval.
func New(fetcher Fetcher, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxWait < 0 {
		cfg.MaxWait = 0
	}
	p := &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective timing
func (p *Poller) Config() Config {
	return p.cfg
}

// Task is the handle of one running poll loop
type Task struct {
	token  string
	topic  string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	finished  bool
}

// Token returns the job identity this task polls for
func (t *Task) Token() string {
	return t.token
}

// Topic returns the polled topic
func (t *Task) Topic() string {
	return t.topic
}

// Cancel stops the loop. Once Cancel returns, the task will not start
// delivering an outcome. Safe to call more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

// Done is closed when the loop goroutine exits
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the loop goroutine exits
func (t *Task) Wait() {
	<-t.done
}

// claim marks the task finished unless it was cancelled first
func (t *Task) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.finished {
		return false
	}
	t.finished = true
	return true
}

// Start begins polling topic on behalf of the job identified by token.
// deliver is called at most once, from the task goroutine, with the
// terminal outcome. It is never called for a cancelled task.
func (p *Poller) Start(parent context.Context, token, topic string, deliver func(Outcome)) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		token:  token,
		topic:  topic,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.recorder.LoopStarted()
	go p.run(ctx, t, deliver)
	return t
}

func (p *Poller) run(ctx context.Context, t *Task, deliver func(Outcome)) {
	defer close(t.done)
	defer p.recorder.LoopStopped()
	defer t.cancel()

	log := p.logger.WithField("topic", t.topic).WithField("token", t.token)
	start := time.Now()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.cfg.MaxWait > 0 {
		timer := time.NewTimer(p.cfg.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	finish := func(o Outcome) {
		o.Token = t.token
		o.Topic = t.topic
		o.Elapsed = time.Since(start)
		if !t.claim() {
			log.Debug("Dropping outcome of cancelled task")
			p.recorder.RecordJobFinished(metrics.ResultCancelled, o.Elapsed)
			return
		}
		switch {
		case o.Completed():
			p.recorder.RecordJobFinished(metrics.ResultOK, o.Elapsed)
		case errors.Is(o.Err, ErrPollTimeout):
			p.recorder.RecordJobFinished(metrics.ResultTimeout, o.Elapsed)
		default:
			p.recorder.RecordJobFinished(metrics.ResultFailed, o.Elapsed)
		}
		deliver(o)
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			log.Debug("Polling cancelled", logging.Fields{"ticks": ticks})
			p.recorder.RecordJobFinished(metrics.ResultCancelled, time.Since(start))
			return

		case <-deadline:
			log.Warn("Polling deadline reached", logging.Fields{"ticks": ticks, "max_wait": p.cfg.MaxWait.String()})
			finish(Outcome{Err: ErrPollTimeout, Ticks: ticks})
			return

		case <-ticker.C:
			ticks++
			outcome, terminal := p.tick(ctx, t, ticks, log)
			if ctx.Err() != nil {
				// Cancelled while the request was in flight; its response is moot
				log.Debug("Polling cancelled", logging.Fields{"ticks": ticks})
				p.recorder.RecordJobFinished(metrics.ResultCancelled, time.Since(start))
				return
			}
			if terminal {
				outcome.Ticks = ticks
				finish(outcome)
				return
			}
		}
	}
}

// tick performs one poll. terminal is true when the job reached a final state.
func (p *Poller) tick(ctx context.Context, t *Task, n int, log *logging.Logger) (outcome Outcome, terminal bool) {
	ctx, span := p.tracer.StartSpan(ctx, "pulse.poll.tick",
		attribute.String("topic", t.topic),
		attribute.Int("tick", n),
	)
	defer span.End()

	result, err := p.fetcher.FetchResult(ctx, t.topic)

	var statusErr *backend.StatusError
	switch {
	case err == nil && result != nil:
		span.SetAttributes(attribute.String("outcome", metrics.TickCompleted))
		p.recorder.RecordPollTick(metrics.TickCompleted)
		log.Info("Analysis completed", logging.Fields{"ticks": n})
		return Outcome{Result: result}, true

	case errors.Is(err, backend.ErrNotReady):
		span.SetAttributes(attribute.String("outcome", metrics.TickPending))
		p.recorder.RecordPollTick(metrics.TickPending)
		log.Debug("Analysis still running", logging.Fields{"tick": n})
		return Outcome{}, false

	case errors.As(err, &statusErr):
		tracing.SetError(span, err)
		p.recorder.RecordPollTick(metrics.TickFailed)
		log.Error("Analysis failed", logging.Fields{"tick": n, "status": statusErr.Code})
		return Outcome{Err: &JobFailedError{Topic: t.topic, Code: statusErr.Code, Err: err}}, true

	default:
		if err == nil {
			err = errors.New("empty result body")
		}
		tracing.SetError(span, err)
		if ctx.Err() == nil {
			p.recorder.RecordPollTick(metrics.TickTransient)
			log.Warn("Polling error", logging.Fields{"tick": n, "error": err.Error()})
		}
		return Outcome{}, false
	}
}
