package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/engine"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/layers"
	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/run"
	"github.com/banshee-data/pedflow/internal/session"
	"github.com/banshee-data/pedflow/internal/testutil"
	"github.com/banshee-data/pedflow/internal/version"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// blockingEngine runs until its context ends.
type blockingEngine struct {
	started chan struct{}
}

func (b *blockingEngine) Run(ctx context.Context, args ...string) (*engine.Result, error) {
	close(b.started)
	<-ctx.Done()
	return &engine.Result{}, fmt.Errorf("engine cancelled: %w", ctx.Err())
}

type testEnv struct {
	srv   *Server
	mux   http.Handler
	orch  *run.Orchestrator
	store *db.DB
}

func newTestEnv(t *testing.T, eng run.Engine) *testEnv {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := notify.NewHub(nil)
	t.Cleanup(hub.Close)

	seed := uint64(1)
	orch := run.New(context.Background(), layers.Sources{}, crowd.DefaultParams(), layers.NewWriter(t.TempDir(), nil))
	orch.Load = func() (crowd.Inputs, error) { return testutil.FixtureInputs(), nil }
	orch.Store = store
	orch.Hub = hub
	orch.Seed = &seed
	orch.Engine = eng
	t.Cleanup(orch.Close)

	sess := session.New(orch, nil, nil)
	srv := NewServer(sess, orch, store, hub, config.DefaultConfig())
	return &testEnv{srv: srv, mux: LoggingMiddleware(srv.ServeMux()), orch: orch, store: store}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStartWanderRun(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/start", `{"extent":[0,0,100,100],"peds":6,"type":0}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode[session.Outcome](t, rec)
	assert.Equal(t, session.ActionStarted, out.Action)
	require.NotEmpty(t, out.RunID)

	rec = env.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]db.RunRecord](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].RunID)
	assert.Equal(t, 6, runs[0].Pedestrians)

	rec = env.do(t, http.MethodGet, "/api/runs/get?id="+out.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[db.RunRecord](t, rec)
	assert.Equal(t, db.RunPrepared, got.Status)

	rec = env.do(t, http.MethodGet, "/api/runs/chart?id="+out.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Modal split")

	rec = env.do(t, http.MethodGet, "/api/plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[crowd.Plan](t, rec)
	assert.Len(t, plan.Crowd.StartPoints, 6)

	rec = env.do(t, http.MethodGet, "/api/plan/preview.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestArmThenTarget(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/target", `{"point":[60,60]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ActionIgnored, decode[session.Outcome](t, rec).Action)

	rec = env.do(t, http.MethodPost, "/api/start", `{"extent":[0,0,100,100],"peds":4,"type":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ActionArmed, decode[session.Outcome](t, rec).Action)

	rec = env.do(t, http.MethodPost, "/api/target", `{"point":[60,60]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode[session.Outcome](t, rec)
	assert.Equal(t, session.ActionStarted, out.Action)

	plan := env.orch.LastPlan()
	require.NotNil(t, plan)
	for _, m := range plan.Crowd.Missions {
		assert.Equal(t, []geom.Point{{X: 60, Y: 60}}, m.Waypoints)
	}

	rec = env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[session.State](t, rec)
	require.NotNil(t, st.Armed, "session stays armed after a target run")
	assert.Equal(t, 4, st.Armed.Pedestrians)
	assert.Equal(t, 1, st.Runs)

	rec = env.do(t, http.MethodPost, "/api/disarm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[session.State](t, rec).Armed)

	rec = env.do(t, http.MethodPost, "/api/target", `{"point":[60,60]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.ActionIgnored, decode[session.Outcome](t, rec).Action)
}

func TestRunStats(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/start", `{"extent":[0,0,100,100],"peds":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	// default region holds no gateways; recorded as failed
	rec = env.do(t, http.MethodPost, "/api/start", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/runs/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Total    int                  `json:"total"`
		ByStatus map[db.RunStatus]int `json:"by_status"`
	}](t, rec)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, map[db.RunStatus]int{db.RunPrepared: 1, db.RunFailed: 1}, stats.ByStatus)
}

func TestTriggerErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"zero peds", "/api/start", `{"extent":[0,0,100,100],"peds":0}`, http.StatusBadRequest},
		{"inverted extent", "/api/start", `{"extent":[100,0,0,100],"peds":3}`, http.StatusBadRequest},
		{"unknown type", "/api/start", `{"extent":[0,0,100,100],"peds":3,"type":7}`, http.StatusBadRequest},
		{"unknown field", "/api/start", `{"extnt":[0,0,1,1]}`, http.StatusBadRequest},
		{"not json", "/api/start", `peds=3`, http.StatusBadRequest},
		// default region holds none of the fixture stations
		{"no gateways", "/api/start", `{}`, http.StatusUnprocessableEntity},
		{"short point", "/api/target", `{"point":[1]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRunInProgressConflict(t *testing.T) {
	eng := &blockingEngine{started: make(chan struct{})}
	env := newTestEnv(t, eng)

	rec := env.do(t, http.MethodPost, "/api/start", `{"extent":[0,0,100,100],"peds":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	<-eng.started

	rec = env.do(t, http.MethodPost, "/api/start", `{"extent":[0,0,100,100],"peds":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	env.orch.Wait()

	rec = env.do(t, http.MethodPost, "/api/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueryErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"runs wrong method", http.MethodPost, "/api/runs", http.StatusMethodNotAllowed},
		{"stats wrong method", http.MethodPost, "/api/runs/stats", http.StatusMethodNotAllowed},
		{"start wrong method", http.MethodGet, "/api/start", http.StatusMethodNotAllowed},
		{"disarm wrong method", http.MethodGet, "/api/disarm", http.StatusMethodNotAllowed},
		{"bad limit", http.MethodGet, "/api/runs?limit=abc", http.StatusBadRequest},
		{"missing id", http.MethodGet, "/api/runs/get", http.StatusBadRequest},
		{"unknown run", http.MethodGet, "/api/runs/get?id=nope", http.StatusNotFound},
		{"unknown chart", http.MethodGet, "/api/runs/chart?id=nope", http.StatusNotFound},
		{"no plan yet", http.MethodGet, "/api/plan", http.StatusNotFound},
		{"no preview yet", http.MethodGet, "/api/plan/preview.png", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestShowConfigAndVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[config.Config](t, rec)
	assert.Equal(t, 30, cfg.GetDefaultPedestrians())

	rec = env.do(t, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[map[string]string](t, rec)
	assert.Equal(t, version.Version, v["version"])
}

func TestRunHistoryUnavailable(t *testing.T) {
	srv := NewServer(session.New(nil, nil, nil), nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", crowd.ErrInvalidRequest), http.StatusBadRequest},
		{geo.ErrDegenerateBox, http.StatusBadRequest},
		{geo.ErrMalformedGeometry, http.StatusBadRequest},
		{fmt.Errorf("locate gateways: %w", crowd.ErrNoGateways), http.StatusUnprocessableEntity},
		{crowd.ErrEmptyMode, http.StatusUnprocessableEntity},
		{session.ErrRunInProgress, http.StatusConflict},
		{&crowd.ExhaustedError{Stage: "start point placement", Attempts: 1000}, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
