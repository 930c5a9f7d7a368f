// Package session owns the state of one dashboard session: the live polling
// task, the identity of the current job, its result and its charts.
//
// Only Submit, Reset and Close replace the task or the job token. Outcomes
// from the poller are applied only when they carry the current token and the
// job is still pending, so a late response of a superseded job is dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/metrics"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/poller"
	"github.com/psantana5/sentiment-pulse/pkg/store"
	"github.com/psantana5/sentiment-pulse/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrEmptyTopic rejects a submission before any request is made
	ErrEmptyTopic = errors.New("topic is required")

	// ErrInvalidLimit rejects a non-positive or non-numeric limit
	ErrInvalidLimit = errors.New("limit must be a positive integer")

	// ErrSuperseded is returned when another submission or a reset replaced
	// the job while its create request was in flight
	ErrSuperseded = errors.New("job was superseded before it started")

	// ErrNoResult is returned when the session has no completed result
	ErrNoResult = errors.New("no analysis result available")

	ErrClosed = errors.New("session is closed")
)

// StartError reports a rejected or failed create-job request
type StartError struct {
	Topic string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start analysis of %q: %v", e.Topic, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Submitter sends the create-job request
type Submitter interface {
	Submit(ctx context.Context, req models.ScrapeRequest) error
}

// Renderer displays session changes. Calls are never made while the
// controller holds its lock, so a renderer may call back into it.
// Busy calls are serialized and the last one always carries the current
// state, but a change that is quickly reverted may not be reported.
type Renderer interface {
	Busy(busy bool)
	Render(view *dashboard.View)
	Fail(err error)
}

type nopRenderer struct{}

func (nopRenderer) Busy(bool)              {}
func (nopRenderer) Render(*dashboard.View) {}
func (nopRenderer) Fail(error)             {}

// State is a point-in-time copy of the session
type State struct {
	Job  *models.Job     `json:"job,omitempty"`
	Busy bool            `json:"busy"`
	View *dashboard.View `json:"view,omitempty"`
}

// Phase returns the current job state, idle when there is no job
func (s State) Phase() models.JobState {
	if s.Job == nil {
		return models.JobStateIdle
	}
	return s.Job.State
}

// Controller is the session-scoped owner of the polling task
type Controller struct {
	submitter Submitter
	poller    *poller.Poller
	renderer  Renderer
	store     store.Store
	logger    *logging.Logger
	recorder  *metrics.Recorder
	tracer    *tracing.Provider

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	job       *models.Job
	task      *poller.Task
	result    *models.AnalysisResult
	charts    *dashboard.Charts
	platform  string
	sentiment string
	busy      bool
	closed    bool

	// busyDirty marks a busy change not yet reported, notifying is set while
	// a caller of notifyBusy is delivering changes
	busyDirty bool
	notifying bool
}

// Option configures a Controller
type Option func(*Controller)

// WithRenderer sets the renderer notified of session changes
func WithRenderer(r Renderer) Option {
	return func(c *Controller) { c.renderer = r }
}

// WithStore persists completed results
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

func WithTracer(t *tracing.Provider) Option {
	return func(c *Controller) { c.tracer = t }
}

// New creates an idle session
func New(submitter Submitter, p *poller.Poller, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		submitter: submitter,
		poller:    p,
		renderer:  nopRenderer{},
		logger:    logging.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
		platform:  dashboard.FilterAll,
		sentiment: dashboard.FilterAll,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseLimit coerces a form value to a post limit. Empty input selects
// models.DefaultLimit.
func ParseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	return n, nil
}

// Submit starts an analysis of topic. Any job already in progress is
// cancelled first. The create request is sent exactly once; on success the
// job is pending and a new polling task observes it.
func (c *Controller) Submit(ctx context.Context, topic string, limit int) (*models.Job, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.stopLocked()

	job := &models.Job{
		Token:       uuid.NewString(),
		Topic:       topic,
		Limit:       limit,
		State:       models.JobStateIdle,
		SubmittedAt: time.Now(),
	}
	c.transitionLocked(job, models.JobStateSubmitted)
	c.job = job
	c.setBusyLocked(true)
	c.mu.Unlock()

	log := c.logger.WithField("topic", topic).WithField("token", job.Token)
	log.Info("Submitting analysis", logging.Fields{"limit": limit})
	c.notifyBusy()

	ctx, span := c.tracer.StartSpan(ctx, "pulse.submit",
		attribute.String("topic", topic),
		attribute.Int("limit", limit),
	)
	defer span.End()

	err := c.submitter.Submit(ctx, models.ScrapeRequest{Topic: topic, Limit: limit})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return job.Clone(), ErrClosed
	}
	if c.job != job {
		c.mu.Unlock()
		log.Debug("Submission superseded while in flight")
		return job.Clone(), ErrSuperseded
	}

	if err != nil {
		startErr := &StartError{Topic: topic, Err: err}
		c.transitionLocked(job, models.JobStateFailed)
		job.Error = startErr.Error()
		c.setBusyLocked(false)
		snapshot := job.Clone()
		c.mu.Unlock()

		tracing.SetError(span, err)
		c.recorder.RecordSubmit(metrics.ResultFailed)
		log.Error("Failed to start analysis", logging.Fields{"error": err.Error()})
		c.notifyBusy()
		c.renderer.Fail(startErr)
		return snapshot, startErr
	}

	c.transitionLocked(job, models.JobStatePending)
	c.task = c.poller.Start(c.ctx, job.Token, topic, c.onOutcome)
	snapshot := job.Clone()
	c.mu.Unlock()

	c.recorder.RecordSubmit(metrics.ResultOK)
	log.Info("Analysis accepted, polling for results", logging.Fields{"interval": c.poller.Config().Interval.String()})
	return snapshot, nil
}

// onOutcome applies a terminal poll outcome if it belongs to the current job
func (c *Controller) onOutcome(o poller.Outcome) {
	c.mu.Lock()
	if c.closed || c.job == nil || c.job.Token != o.Token || c.job.State != models.JobStatePending {
		c.mu.Unlock()
		c.logger.Debug("Dropping stale outcome", logging.Fields{"topic": o.Topic, "token": o.Token})
		return
	}

	job := c.job
	job.Ticks = o.Ticks
	now := time.Now()
	job.CompletedAt = &now
	c.task = nil
	c.setBusyLocked(false)

	if !o.Completed() {
		c.transitionLocked(job, models.JobStateFailed)
		job.Error = o.Err.Error()
		c.mu.Unlock()

		c.notifyBusy()
		c.renderer.Fail(o.Err)
		return
	}

	c.transitionLocked(job, models.JobStateCompleted)
	c.disposeChartsLocked()
	c.charts = dashboard.NewCharts(o.Result.Stats)
	c.result = o.Result
	if !hasPlatform(o.Result.Stats.ByPlatform, c.platform) {
		c.platform = dashboard.FilterAll
	}
	view := c.viewLocked()
	st := c.store
	c.mu.Unlock()

	if st != nil {
		if err := st.SaveResult(o.Topic, o.Result); err != nil {
			c.logger.Warn("Failed to persist result", logging.Fields{"topic": o.Topic, "error": err.Error()})
		}
	}

	c.notifyBusy()
	c.renderer.Render(view)
}

// Reset abandons the current job and returns the session to idle
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.busy {
		c.setBusyLocked(false)
	}
	c.stopLocked()
	c.job = nil
	c.platform = dashboard.FilterAll
	c.sentiment = dashboard.FilterAll
	c.mu.Unlock()

	c.notifyBusy()
}

// Filter sets the preview filters and returns the matching rows, nil when
// there is no result
func (c *Controller) Filter(platform, sentiment string) []models.PreviewRecord {
	if platform == "" {
		platform = dashboard.FilterAll
	}
	if sentiment == "" {
		sentiment = dashboard.FilterAll
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.platform = platform
	c.sentiment = sentiment
	if c.result == nil {
		return nil
	}
	return dashboard.FilterPreview(c.result.DataPreview, platform, sentiment)
}

// Snapshot returns a copy of the session state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Job: c.job.Clone(), Busy: c.busy}
	if c.result != nil {
		s.View = c.viewLocked()
	}
	return s
}

// ChartSVG returns the named chart of the current result
func (c *Controller) ChartSVG(name string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charts == nil {
		return nil, ErrNoResult
	}
	return c.charts.SVG(name)
}

// WriteCharts writes the charts of the current result to dir
func (c *Controller) WriteCharts(dir string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.charts == nil {
		return nil, ErrNoResult
	}
	return c.charts.WriteFiles(dir)
}

// Close ends the session. The polling task is stopped and waited for.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	task := c.task
	c.stopLocked()
	c.cancel()
	c.mu.Unlock()

	// The task may be blocked on c.mu in onOutcome, so wait unlocked
	if task != nil {
		task.Wait()
	}
	return nil
}

// stopLocked cancels the live task and disposes the current result
func (c *Controller) stopLocked() {
	if c.task != nil {
		c.task.Cancel()
		c.task = nil
	}
	c.disposeChartsLocked()
	c.result = nil
	c.busy = false
}

func (c *Controller) setBusyLocked(busy bool) {
	c.busy = busy
	c.busyDirty = true
}

// notifyBusy reports pending busy changes to the renderer. A caller that finds
// another one delivering returns at once; the deliverer loops until the
// latest state has been reported.
func (c *Controller) notifyBusy() {
	c.mu.Lock()
	if c.notifying {
		c.mu.Unlock()
		return
	}
	c.notifying = true
	for c.busyDirty {
		c.busyDirty = false
		busy := c.busy
		c.mu.Unlock()
		c.renderer.Busy(busy)
		c.mu.Lock()
	}
	c.notifying = false
	c.mu.Unlock()
}

// hasPlatform reports whether filter selects a platform present in byPlatform
func hasPlatform(byPlatform map[string]models.SentimentCounts, filter string) bool {
	if filter == dashboard.FilterAll {
		return true
	}
	for name := range byPlatform {
		if strings.EqualFold(name, filter) {
			return true
		}
	}
	return false
}

func (c *Controller) disposeChartsLocked() {
	if c.charts != nil {
		c.charts.Close()
		c.charts = nil
	}
}

func (c *Controller) transitionLocked(job *models.Job, to models.JobState) {
	if err := models.ValidateTransition(job.State, to); err != nil {
		c.logger.Error("Unexpected job transition", logging.Fields{"token": job.Token, "error": err.Error()})
	}
	job.State = to
}

func (c *Controller) viewLocked() *dashboard.View {
	return dashboard.NewView(*c.job.Clone(), c.result, c.platform, c.sentiment)
}
