package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
	"github.com/fyrsmithlabs/briefd/internal/store"
)

type fakeRunner struct {
	active string
	nextID string
	err    error
	starts []string
}

func (r *fakeRunner) Start(subject string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.starts = append(r.starts, subject)
	return r.nextID, nil
}

func (r *fakeRunner) ActiveRunID() string { return r.active }

func newTestServer(t *testing.T, runner *fakeRunner) (*Server, *store.FileStore) {
	t.Helper()
	fs, err := store.New(t.TempDir())
	require.NoError(t, err)
	return New(config.ServerConfig{Port: 0}, runner, fs, nil), fs
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{active: "run-9"})
	rec := doJSON(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-9", resp.ActiveRunID)
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{nextID: "run-1"}
	s, _ := newTestServer(t, runner)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/runs", `{"subject":"baltic shipping outlook"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, []string{"baltic shipping outlook"}, runner.starts)
}

func TestTriggerRunRequiresSubject(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRunConflictsWhileActive(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{err: pipeline.ErrRunActive})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/runs", `{"subject":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRun(t *testing.T) {
	s, fs := newTestServer(t, &fakeRunner{})
	require.NoError(t, fs.SaveRun(context.Background(), &pipeline.Run{
		ID:     "run-1",
		Status: pipeline.StatusCompleted,
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var run pipeline.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, pipeline.StatusCompleted, run.Status)
}

func TestGetRunNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunCostsEmptyLedger(t *testing.T) {
	s, fs := newTestServer(t, &fakeRunner{})
	require.NoError(t, fs.SaveRun(context.Background(), &pipeline.Run{ID: "run-1"}))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/runs/run-1/costs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestListEscalationsAndResolve(t *testing.T) {
	s, fs := newTestServer(t, &fakeRunner{})
	ctx := context.Background()
	require.NoError(t, fs.SaveEscalation(ctx, &escalation.Package{
		ID: "esc-1", RunID: "run-1", Priority: "high",
		Status: escalation.StatusPending, CreatedAt: time.Now().UTC(),
	}))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/escalations?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pkgs []*escalation.Package
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pkgs))
	require.Len(t, pkgs, 1)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/escalations/esc-1/resolve",
		`{"decision":"approve","reviewer":"rsmith","notes":"checked sources"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var pkg escalation.Package
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pkg))
	assert.Equal(t, escalation.StatusResolved, pkg.Status)

	// Second resolve conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/escalations/esc-1/resolve",
		`{"decision":"reject","reviewer":"other"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Resolved packages drop out of the pending filter.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/escalations?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestResolveRequiresFields(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodPost, "/api/v1/escalations/esc-1/resolve", `{"decision":"approve"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
