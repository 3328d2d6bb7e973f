package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/uiverify/pkg/models"
)

const (
	// TaskQueue is served by cmd/worker
	TaskQueue = "ui-verification"

	// ProgressQuery returns the workflow's current result. A scenario reports
	// its lifecycle status; a verification also fills in finished children.
	ProgressQuery = "getProgress"

	// ErrTypeTargetUnreachable marks activity failures that retrying cannot fix
	ErrTypeTargetUnreachable = "TargetUnreachable"
	// ErrTypeUnknownScenario is returned for names missing from the catalog
	ErrTypeUnknownScenario = "UnknownScenario"

	defaultTimeoutSeconds = 300
	defaultRetries        = 3
)

// RunStatusInput is the input for RecordRunStatusActivity
type RunStatusInput struct {
	RunID        string           `json:"run_id"`
	Status       models.RunStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// ScenarioWorkflow runs one catalog scenario on a worker
func ScenarioWorkflow(ctx workflow.Context, input models.ScenarioInput) (models.ScenarioResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting scenario workflow", "runID", input.RunID, "scenario", input.Scenario)

	result := models.ScenarioResult{
		RunID:    input.RunID,
		Scenario: input.Scenario,
		Status:   models.ScenarioPending,
		Outcomes: []models.StepOutcome{},
	}

	// Step outcomes only arrive with the activity result.
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.ScenarioResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}
	retries := input.Retries
	if retries <= 0 {
		retries = defaultRetries
	}

	// Configure activity options with retry policy
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(timeout) * time.Second,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        int32(retries),
			NonRetryableErrorTypes: []string{ErrTypeTargetUnreachable, ErrTypeUnknownScenario},
		},
	})

	startTime := workflow.Now(ctx)
	result.Status = models.ScenarioRunning

	var out models.ScenarioResult
	if err := workflow.ExecuteActivity(ctx, "RunScenarioActivity", input).Get(ctx, &out); err != nil {
		logger.Warn("Scenario activity failed", "scenario", input.Scenario, "error", err)
		result.Reason = activityErrorKind(ctx, err)
		result.Status = failedStatus(result.Reason)
		result.StartedAt = startTime
		result.Duration = workflow.Now(ctx).Sub(startTime)
		return result, nil
	}

	result = out
	logger.Info("Scenario workflow completed", "scenario", input.Scenario, "status", result.Status)
	return result, nil
}

// activityErrorKind classifies an activity failure as an engine error kind
func activityErrorKind(ctx workflow.Context, err error) models.ErrorKind {
	if ctx.Err() != nil || temporal.IsCanceledError(err) {
		return models.ErrorCancelled
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return models.ErrorTimeout
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() == ErrTypeUnknownScenario {
		return models.ErrorInvalidQuery
	}
	return models.ErrorTargetUnreachable
}

// failedStatus is the terminal status for a scenario that ended with kind
func failedStatus(kind models.ErrorKind) models.ScenarioStatus {
	if kind == models.ErrorTimeout {
		return models.ScenarioTimedOut
	}
	return models.ScenarioFailed
}

// VerificationWorkflow runs every requested scenario as a concurrent child
// workflow and aggregates their results in request order.
func VerificationWorkflow(ctx workflow.Context, input models.VerificationInput) (models.VerificationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting verification workflow", "runID", input.RunID, "scenarioCount", len(input.Scenarios))

	result := models.VerificationResult{
		RunID:   input.RunID,
		Status:  models.RunRunning,
		Results: make([]models.ScenarioResult, len(input.Scenarios)),
	}
	for i, name := range input.Scenarios {
		result.Results[i] = models.ScenarioResult{RunID: input.RunID, Scenario: name, Status: models.ScenarioPending, Outcomes: []models.StepOutcome{}}
	}

	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.VerificationResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	statusCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 5},
	})
	recordStatus(statusCtx, RunStatusInput{RunID: input.RunID, Status: models.RunRunning})

	startTime := workflow.Now(ctx)
	selector := workflow.NewSelector(ctx)

	for i, name := range input.Scenarios {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: fmt.Sprintf("%s-%d-%s", workflow.GetInfo(ctx).WorkflowExecution.ID, i, name),
		})
		child := workflow.ExecuteChildWorkflow(childCtx, ScenarioWorkflow, models.ScenarioInput{
			RunID:    input.RunID,
			Scenario: name,
			Options:  input.Options,
			Timeout:  input.Timeout,
			Retries:  input.Retries,
		})

		idx := i
		selector.AddFuture(child, func(f workflow.Future) {
			var childResult models.ScenarioResult
			if err := f.Get(ctx, &childResult); err != nil {
				kind := activityErrorKind(ctx, err)
				childResult = models.ScenarioResult{
					RunID:    input.RunID,
					Scenario: input.Scenarios[idx],
					Status:   failedStatus(kind),
					Reason:   kind,
					Outcomes: []models.StepOutcome{},
				}
			}
			result.Results[idx] = childResult
		})
	}

	// Wait for all child workflows to complete
	for range input.Scenarios {
		selector.Select(ctx)
	}

	result.TotalDuration = workflow.Now(ctx).Sub(startTime).Milliseconds()
	result.Status = models.RunStatusFor(result.Results)
	if ctx.Err() != nil {
		result.Status = models.RunCanceled
		result.ErrorMessage = "verification canceled"
	} else if failed := countFailed(result.Results); failed > 0 {
		result.ErrorMessage = fmt.Sprintf("%d of %d scenario(s) failed", failed, len(result.Results))
	} else if len(result.Results) == 0 {
		result.ErrorMessage = "no scenarios requested"
	}

	// Record the final status even when the workflow itself was canceled.
	finalCtx, _ := workflow.NewDisconnectedContext(statusCtx)
	recordStatus(finalCtx, RunStatusInput{RunID: input.RunID, Status: result.Status, ErrorMessage: result.ErrorMessage})

	logger.Info("Verification workflow completed", "status", result.Status, "duration", result.TotalDuration)
	return result, nil
}

func recordStatus(ctx workflow.Context, input RunStatusInput) {
	if input.RunID == "" {
		return
	}
	if err := workflow.ExecuteActivity(ctx, "RecordRunStatusActivity", input).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record run status", "runID", input.RunID, "status", input.Status, "error", err)
	}
}

func countFailed(results []models.ScenarioResult) int {
	n := 0
	for _, r := range results {
		if !r.Passed() {
			n++
		}
	}
	return n
}
