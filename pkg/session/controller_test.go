package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psantana5/sentiment-pulse/pkg/backend"
	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/poller"
	"github.com/psantana5/sentiment-pulse/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []models.ScrapeRequest
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req models.ScrapeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

func (f *fakeSubmitter) Requests() []models.ScrapeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ScrapeRequest(nil), f.reqs...)
}

type reply struct {
	result *models.AnalysisResult
	err    error
}

// topicFetcher replays a script per topic, then reports not ready
type topicFetcher struct {
	mu      sync.Mutex
	scripts map[string][]reply
	calls   map[string]int
}

func newTopicFetcher(scripts map[string][]reply) *topicFetcher {
	return &topicFetcher{scripts: scripts, calls: make(map[string]int)}
}

func (f *topicFetcher) FetchResult(ctx context.Context, topic string) (*models.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[topic]
	f.calls[topic] = n + 1
	script := f.scripts[topic]
	if n >= len(script) {
		return nil, backend.ErrNotReady
	}
	return script[n].result, script[n].err
}

func (f *topicFetcher) Calls(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[topic]
}

type fakeRenderer struct {
	mu       sync.Mutex
	busy     []bool
	views    []*dashboard.View
	failures []error
	events   chan string
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{events: make(chan string, 16)}
}

func (r *fakeRenderer) Busy(b bool) {
	r.mu.Lock()
	r.busy = append(r.busy, b)
	r.mu.Unlock()
}

func (r *fakeRenderer) Render(v *dashboard.View) {
	r.mu.Lock()
	r.views = append(r.views, v)
	r.mu.Unlock()
	r.events <- "render"
}

func (r *fakeRenderer) Fail(err error) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
	r.events <- "fail"
}

func (r *fakeRenderer) Views() []*dashboard.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*dashboard.View(nil), r.views...)
}

func (r *fakeRenderer) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

func (r *fakeRenderer) BusyCalls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.busy...)
}

func (r *fakeRenderer) wait(t *testing.T) string {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for renderer")
		return ""
	}
}

func result(topic string, pos, neg int) *models.AnalysisResult {
	return &models.AnalysisResult{
		Topic:      topic,
		TotalPosts: pos + neg,
		Stats: models.Stats{
			GlobalCounts: models.SentimentCounts{"Positivo": pos, "Negativo": neg},
			ByPlatform:   map[string]models.SentimentCounts{"twitter": {"Positivo": pos, "Negativo": neg}},
		},
		Storytelling: "story of " + topic,
		DataPreview: []models.PreviewRecord{
			{Platform: "twitter", SentimentLLM: "Positivo", PostContent: "love it"},
			{Platform: "reddit", SentimentLLM: "Negativo", PostContent: "hate it"},
		},
	}
}

type harness struct {
	ctrl      *Controller
	submitter *fakeSubmitter
	fetcher   *topicFetcher
	renderer  *fakeRenderer
	store     *store.MemoryStore
}

func newHarness(t *testing.T, scripts map[string][]reply) *harness {
	h := &harness{
		submitter: &fakeSubmitter{},
		fetcher:   newTopicFetcher(scripts),
		renderer:  newFakeRenderer(),
		store:     store.NewMemoryStore(),
	}
	p := poller.New(h.fetcher, poller.Config{Interval: 5 * time.Millisecond})
	h.ctrl = New(h.submitter, p, WithRenderer(h.renderer), WithStore(h.store))
	t.Cleanup(func() { h.ctrl.Close() })
	return h
}

func TestSubmit_EmptyTopicNeverReachesNetwork(t *testing.T) {
	h := newHarness(t, nil)

	for _, topic := range []string{"", "   ", "\t\n"} {
		job, err := h.ctrl.Submit(context.Background(), topic, 10)
		assert.ErrorIs(t, err, ErrEmptyTopic)
		assert.Nil(t, job)
	}

	assert.Empty(t, h.submitter.Requests())
	assert.Equal(t, models.JobStateIdle, h.ctrl.Snapshot().Phase())
	assert.Empty(t, h.renderer.BusyCalls())
}

func TestSubmit_InvalidLimit(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.ctrl.Submit(context.Background(), "go", 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.Empty(t, h.submitter.Requests())
}

func TestSubmit_CompletesAfterPendingTicks(t *testing.T) {
	third := result("bitcoin", 6, 2)
	h := newHarness(t, map[string][]reply{
		"bitcoin": {{err: backend.ErrNotReady}, {err: backend.ErrNotReady}, {result: third}},
	})

	job, err := h.ctrl.Submit(context.Background(), "  bitcoin ", 25)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, job.State)
	assert.Equal(t, "bitcoin", job.Topic)
	assert.NotEmpty(t, job.Token)

	require.Equal(t, "render", h.renderer.wait(t))

	reqs := h.submitter.Requests()
	require.Len(t, reqs, 1, "exactly one create request")
	assert.Equal(t, models.ScrapeRequest{Topic: "bitcoin", Limit: 25}, reqs[0])

	views := h.renderer.Views()
	require.Len(t, views, 1)
	assert.Same(t, third, views[0].Result)
	assert.Equal(t, 8, views[0].Metrics.Total)
	assert.Equal(t, dashboard.TendencyPositive, views[0].Insight.Tendency)

	state := h.ctrl.Snapshot()
	assert.Equal(t, models.JobStateCompleted, state.Phase())
	assert.Equal(t, 3, state.Job.Ticks)
	assert.NotNil(t, state.Job.CompletedAt)
	assert.False(t, state.Busy)
	require.NotNil(t, state.View)

	assert.Equal(t, []bool{true, false}, h.renderer.BusyCalls())

	svg, err := h.ctrl.ChartSVG(dashboard.ChartGlobal)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")

	stored, err := h.store.GetResult("bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 8, stored.TotalPosts)

	assert.Equal(t, 3, h.fetcher.Calls("bitcoin"))
}

func TestSubmit_TerminalFailureDoesNotRender(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"go": {{err: backend.ErrNotReady}, {err: &backend.StatusError{Op: "fetch result", Code: 500}}},
	})

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "fail", h.renderer.wait(t))

	failures := h.renderer.Failures()
	require.Len(t, failures, 1)
	var jf *poller.JobFailedError
	require.ErrorAs(t, failures[0], &jf)
	assert.Equal(t, 500, jf.Code)
	assert.Empty(t, h.renderer.Views())

	state := h.ctrl.Snapshot()
	assert.Equal(t, models.JobStateFailed, state.Phase())
	assert.Equal(t, 2, state.Job.Ticks)
	assert.NotEmpty(t, state.Job.Error)
	assert.Nil(t, state.View)

	_, err = h.ctrl.ChartSVG(dashboard.ChartGlobal)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestSubmit_TransientErrorKeepsPolling(t *testing.T) {
	want := result("go", 1, 1)
	h := newHarness(t, map[string][]reply{
		"go": {{err: errors.New("connection reset by peer")}, {result: want}},
	})

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))
	assert.Same(t, want, h.renderer.Views()[0].Result)
	assert.Empty(t, h.renderer.Failures())
}

func TestSubmit_StartFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.submitter.err = &backend.StatusError{Op: "submit", Code: 503}

	job, err := h.ctrl.Submit(context.Background(), "go", 10)

	var se *StartError
	require.ErrorAs(t, err, &se)
	var status *backend.StatusError
	assert.ErrorAs(t, err, &status)
	assert.Equal(t, models.JobStateFailed, job.State)

	assert.Len(t, h.submitter.Requests(), 1, "start failures are not retried")
	assert.Equal(t, "fail", h.renderer.wait(t))
	assert.Equal(t, []bool{true, false}, h.renderer.BusyCalls())
	assert.False(t, h.ctrl.Snapshot().Busy)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.fetcher.Calls("go"), "no polling after a start failure")
}

func TestSubmit_NewJobCancelsPrevious(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"b": {{err: backend.ErrNotReady}, {result: result("b", 1, 3)}},
	})

	jobA, err := h.ctrl.Submit(context.Background(), "a", 10)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	jobB, err := h.ctrl.Submit(context.Background(), "b", 10)
	require.NoError(t, err)
	assert.NotEqual(t, jobA.Token, jobB.Token)

	callsA := h.fetcher.Calls("a")
	require.Equal(t, "render", h.renderer.wait(t))
	time.Sleep(20 * time.Millisecond)

	assert.LessOrEqual(t, h.fetcher.Calls("a"), callsA+1, "previous loop must stop")
	views := h.renderer.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "b", views[0].Job.Topic)
	assert.Equal(t, jobB.Token, h.ctrl.Snapshot().Job.Token)
}

func TestOutcome_LateResponseOfSupersededJobIsDropped(t *testing.T) {
	h := newHarness(t, nil)

	jobA, err := h.ctrl.Submit(context.Background(), "a", 10)
	require.NoError(t, err)
	jobB, err := h.ctrl.Submit(context.Background(), "b", 10)
	require.NoError(t, err)

	h.ctrl.onOutcome(poller.Outcome{Token: jobA.Token, Topic: "a", Result: result("a", 1, 0)})
	h.ctrl.onOutcome(poller.Outcome{Token: jobA.Token, Topic: "a", Err: errors.New("late failure")})

	state := h.ctrl.Snapshot()
	assert.Equal(t, jobB.Token, state.Job.Token)
	assert.Equal(t, models.JobStatePending, state.Phase())
	assert.Nil(t, state.View)
	assert.Empty(t, h.renderer.Views())
	assert.Empty(t, h.renderer.Failures())
}

func TestOutcome_DuplicateSuccessRendersOnce(t *testing.T) {
	h := newHarness(t, nil)

	job, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)

	o := poller.Outcome{Token: job.Token, Topic: "go", Result: result("go", 2, 1), Ticks: 1}
	h.ctrl.onOutcome(o)
	h.ctrl.onOutcome(o)

	assert.Len(t, h.renderer.Views(), 1)
	assert.Equal(t, models.JobStateCompleted, h.ctrl.Snapshot().Phase())
}

func TestOutcome_ChartsDisposedBeforeRebuild(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"a": {{result: result("a", 1, 0)}},
		"b": {{result: result("b", 0, 1)}},
	})

	_, err := h.ctrl.Submit(context.Background(), "a", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))

	h.ctrl.mu.Lock()
	first := h.ctrl.charts
	h.ctrl.mu.Unlock()
	require.NotNil(t, first)

	_, err = h.ctrl.Submit(context.Background(), "b", 10)
	require.NoError(t, err)
	assert.True(t, first.Closed(), "old charts are disposed when the next job starts")

	require.Equal(t, "render", h.renderer.wait(t))
	h.ctrl.mu.Lock()
	second := h.ctrl.charts
	h.ctrl.mu.Unlock()
	assert.NotSame(t, first, second)
	assert.False(t, second.Closed())
}

func TestReset(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"go": {{result: result("go", 1, 0)}},
	})

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))

	h.ctrl.Filter("twitter", "all")
	h.ctrl.Reset()

	state := h.ctrl.Snapshot()
	assert.Equal(t, models.JobStateIdle, state.Phase())
	assert.Nil(t, state.View)
	assert.False(t, state.Busy)
	assert.Nil(t, h.ctrl.Filter("all", "all"))

	_, err = h.ctrl.ChartSVG(dashboard.ChartGlobal)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestReset_StopsPendingJob(t *testing.T) {
	h := newHarness(t, nil)

	job, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	h.ctrl.Reset()

	h.ctrl.onOutcome(poller.Outcome{Token: job.Token, Topic: "go", Result: result("go", 1, 0)})
	assert.Empty(t, h.renderer.Views())
	assert.Equal(t, []bool{true, false}, h.renderer.BusyCalls())
}

func TestFilter(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"go": {{result: result("go", 1, 1)}},
	})
	assert.Nil(t, h.ctrl.Filter("twitter", "all"))

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))

	rows := h.ctrl.Filter("Reddit", "")
	require.Len(t, rows, 1)
	assert.Equal(t, "hate it", rows[0].PostContent)

	view := h.ctrl.Snapshot().View
	assert.Equal(t, "Reddit", view.Platform)
	assert.Equal(t, dashboard.FilterAll, view.Sentiment)
	assert.Len(t, view.Rows, 1)

	assert.Len(t, h.ctrl.Filter("all", "Positivo"), 1)
	assert.Len(t, h.ctrl.Filter("", ""), 2)
}

func TestFilter_PlatformMissingFromNextResultFallsBackToAll(t *testing.T) {
	facebookOnly := &models.AnalysisResult{
		Topic:      "nft",
		TotalPosts: 2,
		Stats: models.Stats{
			GlobalCounts: models.SentimentCounts{"Positivo": 1, "Negativo": 1},
			ByPlatform:   map[string]models.SentimentCounts{"facebook": {"Positivo": 1, "Negativo": 1}},
		},
		DataPreview: []models.PreviewRecord{
			{Platform: "facebook", SentimentLLM: "Positivo", PostContent: "nice"},
			{Platform: "facebook", SentimentLLM: "Negativo", PostContent: "meh"},
		},
	}
	h := newHarness(t, map[string][]reply{
		"go":  {{result: result("go", 1, 1)}},
		"nft": {{result: facebookOnly}},
	})

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))
	require.Len(t, h.ctrl.Filter("twitter", "all"), 1)

	_, err = h.ctrl.Submit(context.Background(), "nft", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))

	views := h.renderer.Views()
	require.Len(t, views, 2)
	assert.Equal(t, dashboard.FilterAll, views[1].Platform)
	assert.Len(t, views[1].Rows, 2)

	view := h.ctrl.Snapshot().View
	assert.Equal(t, dashboard.FilterAll, view.Platform)
	assert.Len(t, view.Rows, 2)
}

func TestFilter_SetBeforeSubmitSurvivesWhenPlatformPresent(t *testing.T) {
	h := newHarness(t, map[string][]reply{
		"go": {{result: result("go", 1, 1)}},
	})

	assert.Nil(t, h.ctrl.Filter("Twitter", "all"))
	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.Equal(t, "render", h.renderer.wait(t))

	view := h.ctrl.Snapshot().View
	assert.Equal(t, "Twitter", view.Platform)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "love it", view.Rows[0].PostContent)
}

// gatedRenderer holds its first Busy(true) until released and records the
// call only afterwards
type gatedRenderer struct {
	nopRenderer
	mu      sync.Mutex
	busy    []bool
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRenderer) Busy(b bool) {
	r.mu.Lock()
	hold := b && !r.gated
	if hold {
		r.gated = true
	}
	r.mu.Unlock()

	if hold {
		close(r.entered)
		<-r.release
	}

	r.mu.Lock()
	r.busy = append(r.busy, b)
	r.mu.Unlock()
}

func (r *gatedRenderer) BusyCalls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.busy...)
}

func TestReset_DuringBusyNotificationEndsIdle(t *testing.T) {
	renderer := &gatedRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	p := poller.New(newTopicFetcher(nil), poller.Config{Interval: 5 * time.Millisecond})
	ctrl := New(&fakeSubmitter{}, p, WithRenderer(renderer))
	defer ctrl.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background(), "go", 10)
		errCh <- err
	}()
	<-renderer.entered

	ctrl.Reset()
	close(renderer.release)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.False(t, ctrl.Snapshot().Busy)

	calls := renderer.BusyCalls()
	require.NotEmpty(t, calls)
	assert.False(t, calls[len(calls)-1], "last busy notification must match the idle session")
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.ctrl.Submit(context.Background(), "go", 10)
	require.NoError(t, err)
	require.NoError(t, h.ctrl.Close())
	require.NoError(t, h.ctrl.Close())

	_, err = h.ctrl.Submit(context.Background(), "other", 10)
	assert.ErrorIs(t, err, ErrClosed)
}

// blockingSubmitter holds the create request until released
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func (b *blockingSubmitter) Submit(ctx context.Context, req models.ScrapeRequest) error {
	if atomic.AddInt32(&b.calls, 1) == 1 {
		b.entered <- struct{}{}
		<-b.release
	}
	return nil
}

func TestSubmit_SupersededWhileInFlight(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
	p := poller.New(newTopicFetcher(nil), poller.Config{Interval: 5 * time.Millisecond})
	ctrl := New(sub, p)
	defer ctrl.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background(), "a", 10)
		errCh <- err
	}()
	<-sub.entered

	jobB, err := ctrl.Submit(context.Background(), "b", 10)
	require.NoError(t, err)
	close(sub.release)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	assert.Equal(t, jobB.Token, ctrl.Snapshot().Job.Token)
	assert.Equal(t, models.JobStatePending, ctrl.Snapshot().Phase())
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", models.DefaultLimit, false},
		{"  ", models.DefaultLimit, false},
		{"25", 25, false},
		{" 7 ", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
		{"2.5", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLimit(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidLimit, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}
