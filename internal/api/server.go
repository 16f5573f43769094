// Package api serves the HTTP trigger and query interface of the service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/httputil"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/preview"
	"github.com/banshee-data/pedflow/internal/session"
	"github.com/banshee-data/pedflow/internal/version"
)

// ANSI escape codes for log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes bounds trigger request bodies.
const maxBodyBytes = 64 << 10

// RunStore is the read side of the run history. *db.DB implements it.
type RunStore interface {
	ListRuns(limit int) ([]db.RunRecord, error)
	GetRun(runID string) (*db.RunRecord, error)
	RunCounts() (map[db.RunStatus]int, error)
}

// Runs exposes the orchestrator to the API. *run.Orchestrator implements it.
type Runs interface {
	LastPlan() *crowd.Plan
	Cancel() bool
}

type Server struct {
	session *session.Session
	runs    Runs
	store   RunStore
	hub     *notify.Hub
	cfg     *config.Config
}

func NewServer(s *session.Session, runs Runs, store RunStore, hub *notify.Hub, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.EmptyConfig()
	}
	return &Server{
		session: s,
		runs:    runs,
		store:   store,
		hub:     hub,
		cfg:     cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/target", s.handleTarget)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/api/disarm", s.handleDisarm)
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/plan", s.showPlan)
	mux.HandleFunc("/api/plan/preview.png", s.showPreview)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/get", s.getRun)
	mux.HandleFunc("/api/runs/chart", s.runChart)
	mux.HandleFunc("/api/runs/stats", s.runStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	if s.hub != nil {
		mux.HandleFunc("/api/stream", s.hub.ServeSSE)
		mux.HandleFunc("/api/ws", s.hub.ServeWebSocket)
	}
	return mux
}

// startRequest is the body of POST /api/start. Omitted fields take the
// configured defaults.
type startRequest struct {
	Extent []float64 `json:"extent"`
	Peds   *int      `json:"peds"`
	Type   int       `json:"type"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	trigger := session.StartTrigger{Extent: req.Extent, Type: req.Type}
	if trigger.Extent == nil {
		ext := s.cfg.GetDefaultBox().Extent()
		trigger.Extent = ext[:]
	}
	trigger.Peds = s.cfg.GetDefaultPedestrians()
	if req.Peds != nil {
		trigger.Peds = *req.Peds
	}

	out, err := s.session.Start(r.Context(), trigger)
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}
	status := http.StatusOK
	if out.Action == session.ActionStarted {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, out)
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var trigger session.TargetTrigger
	if err := decodeBody(r, &trigger); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	out, err := s.session.Target(r.Context(), trigger)
	if errors.Is(err, session.ErrNotArmed) {
		// Acknowledged and ignored.
		httputil.WriteJSONOK(w, out)
		return
	}
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.runs == nil || !s.runs.Cancel() {
		httputil.WriteJSONError(w, http.StatusConflict, "no engine run is active")
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"cancelled": true})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Disarm()
	httputil.WriteJSONOK(w, s.session.State())
}

// statusFor maps trigger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crowd.ErrInvalidRequest),
		errors.Is(err, geo.ErrMalformedGeometry),
		errors.Is(err, geo.ErrDegenerateBox):
		return http.StatusBadRequest
	case errors.Is(err, crowd.ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeTriggerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] trigger failed: %v", err)
	}
	httputil.WriteJSONError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.session.State())
}

func (s *Server) lastPlan(w http.ResponseWriter) *crowd.Plan {
	var plan *crowd.Plan
	if s.runs != nil {
		plan = s.runs.LastPlan()
	}
	if plan == nil {
		httputil.NotFound(w, "no run has been prepared yet")
	}
	return plan
}

func (s *Server) showPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if plan := s.lastPlan(w); plan != nil {
		httputil.WriteJSONOK(w, plan)
	}
}

func (s *Server) showPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	plan := s.lastPlan(w)
	if plan == nil {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := preview.WritePNG(w, plan, preview.DefaultWidth, preview.DefaultHeight); err != nil {
		log.Printf("[api] preview failed: %v", err)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// runStats reports how many recorded runs are in each status.
func (s *Server) runStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}
	counts, err := s.store.RunCounts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count runs: %v", err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	httputil.WriteJSONOK(w, map[string]any{"total": total, "by_status": counts})
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *db.RunRecord {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "run history is not available")
		return nil
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return nil
	}
	rec, err := s.store.GetRun(id)
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return nil
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
		return nil
	}
	return rec
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if rec := s.loadRun(w, r); rec != nil {
		httputil.WriteJSONOK(w, rec)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
