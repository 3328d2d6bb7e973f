package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"

	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/productui"
	"dev/bravebird/uiverify/pkg/temporal/workflows"
)

// RunStore is the persistence the API needs. *database.DB implements it.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
	GetRun(ctx context.Context, id string) (*models.VerificationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
}

// Orchestrator is the subset of client.Client the API uses
type Orchestrator interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
	QueryWorkflow(ctx context.Context, workflowID string, runID string, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

var (
	_ RunStore     = (*database.DB)(nil)
	_ Orchestrator = client.Client(nil)
)

// Options configures the handlers
type Options struct {
	// Defaults are applied to run requests that leave fields empty
	Defaults models.RunOptions

	// ArtifactDir is where workers write <run>/<scenario>.png
	ArtifactDir string

	// StreamInterval is how often the run stream polls for progress
	StreamInterval time.Duration
}

// Handlers contains API handlers
type Handlers struct {
	store          RunStore
	temporalClient Orchestrator
	opts           Options
	upgrader       websocket.Upgrader
}

// NewHandlers creates new API handlers. store may be nil.
func NewHandlers(store RunStore, temporalClient Orchestrator, opts Options) *Handlers {
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 500 * time.Millisecond
	}
	return &Handlers{
		store:          store,
		temporalClient: temporalClient,
		opts:           opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WorkflowID is the Temporal workflow id backing a run
func WorkflowID(runID string) string {
	return "verification-" + runID
}

// ==================== Scenario Handlers ====================

// ListScenarios lists the scenario catalog
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, productui.Names())
}

// ==================== Run Handlers ====================

// StartRun starts a verification run
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Scenarios) == 0 {
		req.Scenarios = productui.Names()
	}
	if _, err := productui.BuildAll(req.Scenarios, productui.DefaultOptions()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	options := h.opts.Defaults
	if req.BaseURL != "" {
		options.BaseURL = req.BaseURL
	}
	options.CollectAll = req.CollectAll

	run := &models.VerificationRun{
		ID:        uuid.New().String(),
		BaseURL:   options.BaseURL,
		Scenarios: req.Scenarios,
		Status:    models.RunPending,
	}
	if h.store != nil {
		if err := h.store.CreateRun(ctx, run); err != nil {
			http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	input := models.VerificationInput{
		RunID:     run.ID,
		Scenarios: req.Scenarios,
		Options:   options,
		Timeout:   300,
		Retries:   3,
	}
	workflowOptions := client.StartWorkflowOptions{
		ID:        WorkflowID(run.ID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := h.temporalClient.ExecuteWorkflow(ctx, workflowOptions, "VerificationWorkflow", input)
	if err != nil {
		if h.store != nil {
			h.store.UpdateRunStatus(ctx, run.ID, models.RunFailed, err.Error())
		}
		http.Error(w, "Failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.store != nil {
		if err := h.store.SetTemporalIDs(ctx, run.ID, we.GetID(), we.GetRunID()); err != nil {
			http.Error(w, "Failed to update run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":               run.ID,
		"temporal_workflow_id": we.GetID(),
		"temporal_run_id":      we.GetRunID(),
		"scenarios":            req.Scenarios,
		"status":               models.RunRunning,
	})
}

// ListRuns lists recent runs, newest first
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.VerificationRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun retrieves a run with its scenario results
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// CancelRun cancels a running verification
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.store == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	run, err := h.store.GetRun(ctx, id)
	if err != nil || run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Status.Done() {
		http.Error(w, fmt.Sprintf("Run already %s", run.Status), http.StatusConflict)
		return
	}

	if run.TemporalWorkflowID != "" {
		if err := h.temporalClient.CancelWorkflow(ctx, run.TemporalWorkflowID, run.TemporalRunID); err != nil {
			http.Error(w, "Failed to cancel workflow: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := h.store.UpdateRunStatus(ctx, id, models.RunCanceled, "Cancelled by user"); err != nil && !errors.Is(err, database.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(models.RunCanceled)})
}

// StreamRunUpdates streams run progress over a WebSocket until the run ends
func (h *Handlers) StreamRunUpdates(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(h.opts.StreamInterval)
	defer ticker.Stop()

	var (
		lastStatus   models.RunStatus
		lastFinished = -1
	)
	for {
		progress, ok := h.progress(ctx, runID)
		if ok {
			finished := countFinished(progress.Results)
			if progress.Status != lastStatus || finished != lastFinished {
				msg := models.WSMessage{Type: "run_update", Payload: progress}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
				lastStatus = progress.Status
				lastFinished = finished
			}
			if progress.Status.Done() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(progress.Status)))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// progress prefers the live workflow query and falls back to the store
func (h *Handlers) progress(ctx context.Context, runID string) (models.VerificationResult, bool) {
	if h.temporalClient != nil {
		resp, err := h.temporalClient.QueryWorkflow(ctx, WorkflowID(runID), "", workflows.ProgressQuery)
		if err == nil {
			var result models.VerificationResult
			if resp.Get(&result) == nil && result.Status != "" {
				return result, true
			}
		}
	}

	if h.store == nil {
		return models.VerificationResult{}, false
	}
	run, err := h.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		return models.VerificationResult{}, false
	}
	return models.VerificationResult{
		RunID:        run.ID,
		Status:       run.Status,
		Results:      run.Results,
		ErrorMessage: run.ErrorMessage,
	}, true
}

func countFinished(results []models.ScenarioResult) int {
	n := 0
	for _, r := range results {
		if r.Status.Terminal() {
			n++
		}
	}
	return n
}

// ==================== Artifact Handlers ====================

// ServeArtifact serves a snapshot written by a worker
func (h *Handlers) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	// Only files directly under <ArtifactDir>/<run>/ are reachable.
	filePath := filepath.Join(h.opts.ArtifactDir, filepath.Base(vars["run"]), filepath.Base(vars["filename"]))
	if _, err := os.Stat(filePath); err != nil {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
