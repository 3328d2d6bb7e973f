package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dev/bravebird/uiverify/pkg/models"
)

// DefaultStepTimeout applies to steps that declare no timeout of their own
const DefaultStepTimeout = 5 * time.Second

// artifactTimeout bounds snapshot capture, which runs even after cancellation
const artifactTimeout = 15 * time.Second

// Hooks receive progress from the runner. Implementations must be safe for
// concurrent use when scenarios run in parallel.
type Hooks interface {
	StepFinished(scenario string, outcome models.StepOutcome)
	ScenarioFinished(result models.ScenarioResult)
}

// HookSet fans events out to several hooks
type HookSet []Hooks

func (hs HookSet) StepFinished(scenario string, outcome models.StepOutcome) {
	for _, h := range hs {
		h.StepFinished(scenario, outcome)
	}
}

func (hs HookSet) ScenarioFinished(result models.ScenarioResult) {
	for _, h := range hs {
		h.ScenarioFinished(result)
	}
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	RunID          string
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	Observer       AttemptObserver
	Hooks          Hooks
	Logger         *slog.Logger
}

func (o *RunnerOptions) defaults() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultStepTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Runner executes scenarios step by step against a page.
type Runner struct {
	opts   RunnerOptions
	poller *Poller
}

// NewRunner creates a runner
func NewRunner(opts RunnerOptions) *Runner {
	opts.defaults()
	return &Runner{
		opts:   opts,
		poller: &Poller{Interval: opts.PollInterval, Observer: opts.Observer},
	}
}

// Run executes sc against page and returns its result. Steps run strictly in
// order. An action failure, a lost page or cancellation skips the remaining
// steps; an assertion failure does too unless sc.Mode is CollectAll.
func (r *Runner) Run(ctx context.Context, page Page, sc Scenario) models.ScenarioResult {
	log := r.opts.Logger.With("scenario", sc.Name)

	result := models.ScenarioResult{
		RunID:     r.opts.RunID,
		Scenario:  sc.Name,
		Status:    models.ScenarioPending,
		Outcomes:  make([]models.StepOutcome, 0, len(sc.Steps)),
		StartedAt: time.Now(),
	}
	r.advance(&result, models.ScenarioRunning)
	log.Info("scenario started", "steps", len(sc.Steps))

	loc := NewLocator(page)
	env := stepEnv{
		asserter: NewAsserter(loc, r.poller),
		driver:   NewDriver(page, loc),
	}

	var failures []models.ErrorKind
	stop := func(at int) {
		result.Skipped = len(sc.Steps) - at
		result.Truncated = result.Skipped > 0
	}

	for i, step := range sc.Steps {
		if ctx.Err() != nil {
			failures = append(failures, contextKind(ctx))
			stop(i)
			break
		}

		outcome := r.runStep(ctx, i, step, env)
		result.Outcomes = append(result.Outcomes, outcome)
		if r.opts.Hooks != nil {
			r.opts.Hooks.StepFinished(sc.Name, outcome)
		}

		if outcome.Succeeded() {
			log.Info("step passed", "index", i, "step", outcome.Name, "duration", outcome.Duration)
			if step.SettleDelay > 0 {
				sleep(ctx, step.SettleDelay)
			}
			continue
		}

		log.Warn("step failed", "index", i, "step", outcome.Name, "kind", outcome.ErrorKind, "error", outcome.Message)
		failures = append(failures, outcome.ErrorKind)
		if step.Kind == models.StepAction || fatal(outcome.ErrorKind) || sc.Mode == FailFast {
			stop(i + 1)
			break
		}
	}

	status, reason := finalStatus(failures)
	r.advance(&result, status)
	result.Reason = reason

	if sc.Artifact != "" {
		path, err := r.capture(ctx, page, sc.Artifact)
		if err != nil {
			log.Warn("artifact capture failed", "path", sc.Artifact, "error", err)
			result.ArtifactError = err.Error()
		} else {
			result.ArtifactPath = path
			log.Info("artifact captured", "path", path)
		}
	}

	result.Duration = time.Since(result.StartedAt)
	log.Info("scenario finished", "status", result.Status, "reason", result.Reason,
		"executed", len(result.Outcomes), "skipped", result.Skipped, "duration", result.Duration)

	if r.opts.Hooks != nil {
		r.opts.Hooks.ScenarioFinished(result)
	}
	return result
}

type stepEnv struct {
	asserter *Asserter
	driver   *Driver
}

func (r *Runner) runStep(ctx context.Context, index int, step Step, env stepEnv) models.StepOutcome {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}

	outcome := models.StepOutcome{
		Index: index,
		Name:  step.Name,
		Kind:  step.Kind,
	}
	if step.Query.Kind != "" {
		outcome.Query = step.Query.String()
	}

	start := time.Now()
	var err error

	switch step.Kind {
	case models.StepAction:
		if step.act == nil {
			err = fmt.Errorf("action step %q has nothing to do", step.Name)
			break
		}
		actCtx, cancel := context.WithTimeout(ctx, timeout)
		err = step.act(actCtx, env.driver)
		cancel()
	case models.StepAssertion:
		outcome.Condition = step.Condition.Name
		if step.Condition.Check == nil {
			err = fmt.Errorf("assertion step %q has no condition", step.Name)
			break
		}
		var obs Observation
		obs, err = env.asserter.ExpectStable(ctx, step.Query, step.Condition, timeout, step.Stability)
		outcome.Observed = obs.String()
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
	}

	outcome.Duration = time.Since(start)
	if err == nil {
		outcome.Status = models.StepSuccess
		return outcome
	}

	outcome.ErrorKind = KindOf(err)
	outcome.Message = err.Error()
	outcome.Status = models.StepFailure
	if outcome.ErrorKind == models.ErrorTimeout {
		outcome.Status = models.StepTimeout
	}
	var se *StepError
	if errors.As(err, &se) && se.Observed != "" {
		outcome.Observed = se.Observed
	}
	return outcome
}

// finalStatus maps the failures seen to a terminal state. Cancellation wins,
// then a clean run completes, and a run whose every failure was a timeout is
// TimedOut.
func finalStatus(failures []models.ErrorKind) (models.ScenarioStatus, models.ErrorKind) {
	if len(failures) == 0 {
		return models.ScenarioCompleted, models.ErrorNone
	}
	allTimeouts := true
	for _, k := range failures {
		if k == models.ErrorCancelled {
			return models.ScenarioFailed, models.ErrorCancelled
		}
		if k != models.ErrorTimeout {
			allTimeouts = false
		}
	}
	if allTimeouts {
		return models.ScenarioTimedOut, models.ErrorTimeout
	}
	return models.ScenarioFailed, failures[0]
}

func (r *Runner) advance(res *models.ScenarioResult, to models.ScenarioStatus) {
	if !res.Status.CanTransition(to) {
		r.opts.Logger.Error("invalid scenario transition", "scenario", res.Scenario, "from", res.Status, "to", to)
		return
	}
	res.Status = to
}

// capture writes a snapshot of the page to path. It detaches from ctx
// cancellation so a cancelled run still leaves evidence behind.
func (r *Runner) capture(ctx context.Context, page Page, path string) (string, error) {
	capCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), artifactTimeout)
	defer cancel()

	data, err := page.Snapshot(capCtx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create artifact dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save artifact: %w", err)
	}
	return path, nil
}

// sleep waits d or until ctx ends
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
