package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/metrics"
	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/temporal/workflows"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	ret := m.Called(ctx, options, workflow, args[0])
	run, _ := ret.Get(0).(client.WorkflowRun)
	return run, ret.Error(1)
}

func (m *mockOrchestrator) CancelWorkflow(ctx context.Context, workflowID string, runID string) error {
	return m.Called(ctx, workflowID, runID).Error(0)
}

func (m *mockOrchestrator) QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error) {
	ret := m.Called(ctx, workflowID, runID, queryType)
	v, _ := ret.Get(0).(converter.EncodedValue)
	return v, ret.Error(1)
}

type fakeRun struct {
	id, runID string
}

func (r fakeRun) GetID() string                                       { return r.id }
func (r fakeRun) GetRunID() string                                    { return r.runID }
func (r fakeRun) Get(ctx context.Context, valuePtr interface{}) error { return nil }
func (r fakeRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options client.WorkflowRunGetOptions) error {
	return nil
}

// jsonValue stands in for a query response
type jsonValue struct {
	v interface{}
}

func (j jsonValue) HasValue() bool { return j.v != nil }

func (j jsonValue) Get(valuePtr interface{}) error {
	data, err := json.Marshal(j.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, valuePtr)
}

type fixture struct {
	db     *database.DB
	orch   *mockOrchestrator
	router http.Handler
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, orch: &mockOrchestrator{}, dir: t.TempDir()}
	h := NewHandlers(db, f.orch, Options{
		Defaults:       models.RunOptions{BaseURL: "http://productos.test/", PollInterval: 50 * time.Millisecond},
		ArtifactDir:    f.dir,
		StreamInterval: 10 * time.Millisecond,
	})
	f.router = NewRouter(h, metrics.NewRecorder(nil).Handler())
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createRun(t *testing.T, status models.RunStatus) *models.VerificationRun {
	t.Helper()
	ctx := context.Background()
	run := &models.VerificationRun{BaseURL: "http://productos.test/", Scenarios: []string{"initial-load"}}
	require.NoError(t, f.db.CreateRun(ctx, run))
	require.NoError(t, f.db.SetTemporalIDs(ctx, run.ID, WorkflowID(run.ID), "temporal-run"))
	if status != models.RunPending {
		require.NoError(t, f.db.UpdateRunStatus(ctx, run.ID, status, ""))
	}
	return run
}

func TestHealthScenariosAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do("GET", "/api/scenarios", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Contains(t, names, "search-filter")

	rec = f.do("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRunStartsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.orch.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.TaskQueue == workflows.TaskQueue && strings.HasPrefix(o.ID, "verification-")
		}),
		"VerificationWorkflow",
		mock.MatchedBy(func(in models.VerificationInput) bool {
			return len(in.Scenarios) == 1 && in.Scenarios[0] == "search-filter" &&
				in.Options.BaseURL == "http://staging.test/" && in.Options.PollInterval == 50*time.Millisecond && in.Options.CollectAll
		}),
	).Return(fakeRun{id: "wf-1", runID: "temporal-1"}, nil).Once()

	rec := f.do("POST", "/api/runs", `{"scenarios":["search-filter"],"base_url":"http://staging.test/","collect_all":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runID := resp["run_id"].(string)

	run, err := f.db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "wf-1", run.TemporalWorkflowID)
	assert.Equal(t, "temporal-1", run.TemporalRunID)
	assert.Equal(t, "http://staging.test/", run.BaseURL)
	f.orch.AssertExpectations(t)
}

func TestStartRunRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do("POST", "/api/runs", `{`).Code)
	rec := f.do("POST", "/api/runs", `{"scenarios":["checkout"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkout")
	f.orch.AssertNotCalled(t, "ExecuteWorkflow")
}

func TestStartRunWorkflowFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t)
	f.orch.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("temporal unavailable")).Once()

	rec := f.do("POST", "/api/runs", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	runs, err := f.db.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, "temporal unavailable", runs[0].ErrorMessage)
}

func TestGetAndListRuns(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunRunning)

	rec := f.do("GET", "/api/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.VerificationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.RunRunning, got.Status)

	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/runs/missing", "").Code)

	rec = f.do("GET", "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.VerificationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/api/runs?limit=zero", "").Code)
}

func TestRunEndpointsWithoutDatabase(t *testing.T) {
	router := NewRouter(NewHandlers(nil, &mockOrchestrator{}, Options{}), nil)
	for _, path := range []string{"/api/runs", "/api/runs/abc"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunRunning)
	f.orch.On("CancelWorkflow", mock.Anything, WorkflowID(run.ID), "temporal-run").Return(nil).Once()

	rec := f.do("POST", "/api/runs/"+run.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := f.db.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCanceled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	// A finished run cannot be canceled again.
	assert.Equal(t, http.StatusConflict, f.do("POST", "/api/runs/"+run.ID+"/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do("POST", "/api/runs/missing/cancel", "").Code)
	f.orch.AssertExpectations(t)
}

func TestServeArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "run-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "run-1", "initial-load.png"), []byte("\x89PNG"), 0o644))

	rec := f.do("GET", "/api/artifacts/run-1/initial-load.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do("GET", "/api/artifacts/run-1/other.png", "").Code)
}

type wsMessage struct {
	Type    string                    `json:"type"`
	Payload models.VerificationResult `json:"payload"`
}

func dialStream(t *testing.T, f *fixture, runID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/runs/" + runID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestStreamUsesWorkflowQuery(t *testing.T) {
	f := newFixture(t)
	live := models.VerificationResult{
		RunID:  "run-5",
		Status: models.RunPassed,
		Results: []models.ScenarioResult{
			{RunID: "run-5", Scenario: "initial-load", Status: models.ScenarioCompleted},
		},
	}
	f.orch.On("QueryWorkflow", mock.Anything, WorkflowID("run-5"), "", workflows.ProgressQuery).
		Return(jsonValue{v: live}, nil)

	conn := dialStream(t, f, "run-5")

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "run_update", msg.Type)
	assert.Equal(t, models.RunPassed, msg.Payload.Status)
	require.Len(t, msg.Payload.Results, 1)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStreamFallsBackToDatabase(t *testing.T) {
	f := newFixture(t)
	run := f.createRun(t, models.RunFailed)
	f.orch.On("QueryWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("workflow not found"))

	conn := dialStream(t, f, run.ID)

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, run.ID, msg.Payload.RunID)
	assert.Equal(t, models.RunFailed, msg.Payload.Status)
}
