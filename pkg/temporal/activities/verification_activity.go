package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/productui"
	"dev/bravebird/uiverify/pkg/temporal/workflows"
	"dev/bravebird/uiverify/pkg/verify"
)

// ResultStore persists run progress. *database.DB implements it.
type ResultStore interface {
	SaveScenarioResult(ctx context.Context, r models.ScenarioResult) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
}

// Activities holds activity implementations
type Activities struct {
	// Pages opens an isolated page per scenario
	Pages verify.PageFactory

	// Store is optional; without it results only travel back to the workflow.
	Store ResultStore

	// ArtifactDir receives <run>/<scenario>.png snapshots
	ArtifactDir string

	// Scenarios tunes the catalog to the deployment. The zero value means
	// productui.DefaultOptions.
	Scenarios productui.Options

	// Hooks and Observer receive engine progress, typically the metrics recorder.
	Hooks    verify.Hooks
	Observer verify.AttemptObserver
}

// NewActivities creates new activities
func NewActivities(pages verify.PageFactory, store ResultStore, artifactDir string) *Activities {
	return &Activities{
		Pages:       pages,
		Store:       store,
		ArtifactDir: artifactDir,
	}
}

// RunScenarioActivity runs one catalog scenario in a fresh page. A failing
// scenario is a result, not an error; errors mean no result could be produced.
func (a *Activities) RunScenarioActivity(ctx context.Context, input models.ScenarioInput) (models.ScenarioResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running scenario", "runID", input.RunID, "scenario", input.Scenario, "baseURL", input.Options.BaseURL)

	sc, err := productui.Build(input.Scenario, a.scenarioOptions(input))
	if err != nil {
		return models.ScenarioResult{}, temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrTypeUnknownScenario, err)
	}

	if a.Pages == nil {
		return models.ScenarioResult{}, temporal.NewNonRetryableApplicationError("no page factory configured", workflows.ErrTypeTargetUnreachable, nil)
	}
	page, release, err := a.Pages(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.ScenarioResult{}, err
		}
		return models.ScenarioResult{}, temporal.NewApplicationErrorWithCause("failed to open page", workflows.ErrTypeTargetUnreachable, err)
	}
	defer release()

	hb := heartbeat{ctx: ctx, next: a.Observer}
	hooks := verify.HookSet{hb}
	if a.Hooks != nil {
		hooks = append(hooks, a.Hooks)
	}

	runner := verify.NewRunner(verify.RunnerOptions{
		RunID:          input.RunID,
		DefaultTimeout: input.Options.DefaultTimeout,
		PollInterval:   input.Options.PollInterval,
		Observer:       hb,
		Hooks:          hooks,
	})
	result := runner.Run(ctx, page, sc)

	if a.Store != nil && input.RunID != "" {
		if err := a.Store.SaveScenarioResult(ctx, result); err != nil {
			logger.Error("Failed to save scenario result", "runID", input.RunID, "scenario", input.Scenario, "error", err)
		}
	}

	logger.Info("Scenario finished", "scenario", input.Scenario, "status", result.Status, "reason", result.Reason)
	return result, nil
}

// RecordRunStatusActivity stores the status of a verification run
func (a *Activities) RecordRunStatusActivity(ctx context.Context, input workflows.RunStatusInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Recording run status", "runID", input.RunID, "status", input.Status)

	if a.Store == nil {
		return nil
	}
	if err := a.Store.UpdateRunStatus(ctx, input.RunID, input.Status, input.ErrorMessage); err != nil {
		return fmt.Errorf("failed to record run status: %w", err)
	}
	return nil
}

func (a *Activities) scenarioOptions(input models.ScenarioInput) productui.Options {
	o := a.Scenarios
	if o == (productui.Options{}) {
		o = productui.DefaultOptions()
	}
	if input.Options.BaseURL != "" {
		o.BaseURL = input.Options.BaseURL
	}
	if input.Options.CollectAll {
		o.Mode = verify.CollectAll
	}

	dir := input.Options.ArtifactDir
	if dir == "" {
		dir = a.ArtifactDir
	}
	if dir == "" {
		o.Artifact = ""
	} else {
		o.Artifact = filepath.Join(dir, input.RunID, input.Scenario+".png")
	}
	return o
}

// heartbeat reports progress to Temporal on every step and poll attempt, so a
// 60s wait inside one step still keeps the activity alive. The SDK throttles
// the actual heartbeat calls.
type heartbeat struct {
	ctx  context.Context
	next verify.AttemptObserver
}

func (h heartbeat) StepFinished(scenario string, o models.StepOutcome) {
	activity.RecordHeartbeat(h.ctx, fmt.Sprintf("%s: step %d %s", scenario, o.Index+1, o.Status))
}

func (h heartbeat) ScenarioFinished(models.ScenarioResult) {}

func (h heartbeat) PollAttempt(holds bool) {
	activity.RecordHeartbeat(h.ctx, "polling")
	if h.next != nil {
		h.next.PollAttempt(holds)
	}
}
