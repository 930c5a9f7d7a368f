package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/psantana5/sentiment-pulse/pkg/backend"
	"github.com/psantana5/sentiment-pulse/pkg/dashboard"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/metrics"
	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/ratelimit"
	"github.com/psantana5/sentiment-pulse/pkg/session"
	"github.com/psantana5/sentiment-pulse/pkg/store"
)

// Backend is the part of the backend the dashboard server talks to directly
type Backend interface {
	History(ctx context.Context) ([]models.HistoryEntry, error)
	DeleteHistory(ctx context.Context, topic string) error
	Health(ctx context.Context) error
}

// Handler serves the dashboard of one session
type Handler struct {
	session  *session.Controller
	store    store.Store
	backend  Backend
	limiter  *ratelimit.Limiter
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// Option configures a Handler
type Option func(*Handler)

func WithStore(s store.Store) Option {
	return func(h *Handler) { h.store = s }
}

func WithBackend(b Backend) Option {
	return func(h *Handler) { h.backend = b }
}

// WithRateLimit limits analysis submissions per client
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithGatherer exposes g on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler in front of ctrl
func NewHandler(ctrl *session.Controller, opts ...Option) *Handler {
	h := &Handler{
		session: ctrl,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all dashboard routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(h.logRequests)

	r.HandleFunc("/", h.Index).Methods("GET")

	var analyze http.Handler = http.HandlerFunc(h.Analyze)
	if h.limiter != nil {
		analyze = h.limiter.Middleware(ratelimit.IPKeyFunc)(analyze)
	}
	r.Handle("/api/analyze", analyze).Methods("POST")
	r.HandleFunc("/api/reset", h.Reset).Methods("POST")
	r.HandleFunc("/api/state", h.State).Methods("GET")
	r.HandleFunc("/api/preview", h.Preview).Methods("GET")

	r.HandleFunc("/api/history", h.ListHistory).Methods("GET")
	r.HandleFunc("/api/history/{topic}", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/history/{topic}", h.DeleteHistory).Methods("DELETE")

	r.HandleFunc("/charts/{name:[a-z]+}.svg", h.Chart).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(h.gatherer)).Methods("GET")
	}
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("HTTP request", logging.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

// Index renders the dashboard page
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Has("platform") || q.Has("sentiment") {
		h.session.Filter(q.Get("platform"), q.Get("sentiment"))
	}
	data := newPageData(h.session.Snapshot(), q.Get("error"))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("Failed to render page", logging.Fields{"error": err.Error()})
	}
}

// analyzeRequest accepts limit as a JSON number or string
type analyzeRequest struct {
	Topic string          `json:"topic"`
	Limit json.RawMessage `json:"limit,omitempty"`
}

func (req analyzeRequest) limit() (int, error) {
	raw := strings.TrimSpace(string(req.Limit))
	if raw == "" || raw == "null" {
		return models.DefaultLimit, nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	return session.ParseLimit(raw)
}

// Analyze submits a new analysis. HTML form posts are redirected back to
// the page; JSON clients get the job.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	form := isForm(r)

	var req analyzeRequest
	if form {
		req.Topic = r.FormValue("topic")
		if l := r.FormValue("limit"); l != "" {
			req.Limit = json.RawMessage(strconv.Quote(l))
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	limit, err := req.limit()
	if err == nil {
		var job *models.Job
		job, err = h.session.Submit(r.Context(), req.Topic, limit)
		if err == nil {
			if form {
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			writeJSON(w, http.StatusAccepted, job)
			return
		}
	}

	status := submitErrorStatus(err)
	if status >= 500 {
		h.logger.Warn("Analysis submission failed", logging.Fields{"topic": req.Topic, "error": err.Error()})
	}
	if form {
		http.Redirect(w, r, "/?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
		return
	}
	writeError(w, status, err.Error())
}

func submitErrorStatus(err error) int {
	var startErr *session.StartError
	switch {
	case errors.Is(err, session.ErrEmptyTopic), errors.Is(err, session.ErrInvalidLimit):
		return http.StatusBadRequest
	case errors.As(err, &startErr):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Reset returns the session to idle
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	if isForm(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// State returns the session snapshot
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	state := h.session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": state.Phase(),
		"busy":  state.Busy,
		"job":   state.Job,
		"view":  state.View,
	})
}

// Preview filters the preview rows of the current result
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows := h.session.Filter(q.Get("platform"), q.Get("sentiment"))
	if rows == nil {
		writeError(w, http.StatusNotFound, session.ErrNoResult.Error())
		return
	}

	type row struct {
		Platform string        `json:"platform"`
		Tag      dashboard.Tag `json:"sentiment"`
		Excerpt  string        `json:"excerpt"`
	}
	out := make([]row, 0, len(rows))
	for _, rec := range rows {
		out = append(out, row{Platform: rec.Platform, Tag: dashboard.SentimentTag(rec.SentimentLLM), Excerpt: dashboard.Excerpt(rec.PostContent)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":  out,
		"count": len(out),
	})
}

// ListHistory lists locally stored analyses; ?remote=true lists the backend's
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("remote") == "true" {
		if h.backend == nil {
			writeError(w, http.StatusNotImplemented, "backend history not configured")
			return
		}
		entries, err := h.backend.History(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries, "count": len(entries)})
		return
	}

	if h.store == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"history": []models.HistoryEntry{}, "count": 0})
		return
	}
	entries, err := h.store.ListHistory()
	if err != nil {
		h.logger.Error("Failed to list history", logging.Fields{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries, "count": len(entries)})
}

// GetHistory returns a stored analysis
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if h.store == nil {
		writeError(w, http.StatusNotFound, store.ErrResultNotFound.Error())
		return
	}
	result, err := h.store.GetResult(topic)
	if errors.Is(err, store.ErrResultNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no stored analysis for %q", topic))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteHistory removes an analysis from the local store and the backend
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	found := false

	if h.store != nil {
		err := h.store.DeleteResult(topic)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, store.ErrResultNotFound):
			writeError(w, http.StatusInternalServerError, "Failed to delete stored result")
			return
		}
	}

	if h.backend != nil {
		err := h.backend.DeleteHistory(r.Context(), topic)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, backend.ErrNotFound):
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis for %q", topic))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "topic": topic})
}

// Chart serves a chart of the current result as SVG
func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	data, err := h.session.ChartSVG(mux.Vars(r)["name"])
	switch {
	case errors.Is(err, dashboard.ErrUnknownChart), errors.Is(err, session.ErrNoResult), errors.Is(err, dashboard.ErrChartsClosed):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// Health reports the server, store and backend status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "healthy"}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.HealthCheck(); err != nil {
			resp["status"] = "unhealthy"
			resp["store"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}
	if h.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.backend.Health(ctx); err != nil {
			resp["backend"] = "unreachable"
		} else {
			resp["backend"] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func isForm(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
