package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dev/bravebird/uiverify/pkg/browser"
	"dev/bravebird/uiverify/pkg/config"
	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/productui"
	"dev/bravebird/uiverify/pkg/verify"
)

// DefaultScenario runs when neither flags nor config name any scenario.
const DefaultScenario = "product-features"

// VerifyOptions holds flags for a verification run. They override the
// configuration file only when set on the command line.
type VerifyOptions struct {
	*RootOptions

	BaseURL      string
	Headless     bool
	Timeout      time.Duration
	PollInterval time.Duration
	Artifact     string
	Deadline     time.Duration
	Parallel     int
	CollectAll   bool
	Scenarios    []string
}

func (o *VerifyOptions) bindFlags(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()
	f.StringVar(&o.BaseURL, "base-url", def.BaseURL, "URL of the product UI")
	f.BoolVar(&o.Headless, "headless", def.Headless, "run the browser without a window")
	f.DurationVar(&o.Timeout, "timeout", def.DefaultTimeout, "default per-step timeout")
	f.DurationVar(&o.PollInterval, "poll-interval", def.PollInterval, "delay between condition checks")
	f.StringVar(&o.Artifact, "artifact", def.Artifact, "snapshot path (empty disables)")
	f.DurationVar(&o.Deadline, "deadline", 0, "overall run deadline (0 for none)")
	f.IntVar(&o.Parallel, "parallel", def.Parallel, "scenarios run at once, each on its own page")
	f.BoolVar(&o.CollectAll, "collect-all", false, "keep running assertions after a failure")
	f.StringArrayVarP(&o.Scenarios, "scenario", "s", nil, "scenario to run (repeatable, see 'uiverify list')")
}

// apply overlays explicitly set flags on cfg
func (o *VerifyOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("base-url") {
		cfg.BaseURL = o.BaseURL
	}
	if f.Changed("headless") {
		cfg.Headless = o.Headless
	}
	if f.Changed("timeout") {
		cfg.DefaultTimeout = o.Timeout
	}
	if f.Changed("poll-interval") {
		cfg.PollInterval = o.PollInterval
	}
	if f.Changed("artifact") {
		cfg.Artifact = o.Artifact
	}
	if f.Changed("deadline") {
		cfg.Deadline = o.Deadline
	}
	if f.Changed("parallel") {
		cfg.Parallel = o.Parallel
	}
	if f.Changed("collect-all") {
		cfg.CollectAll = o.CollectAll
	}
	if f.Changed("scenario") {
		cfg.Scenarios = o.Scenarios
	}
	if o.History != "" {
		cfg.History = o.History
	}
}

func runVerify(cmd *cobra.Command, opts *VerifyOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	names := cfg.Scenarios
	if len(names) == 0 {
		names = []string{DefaultScenario}
	}
	scenarios, err := productui.BuildAll(names, cfg.ScenarioOptions())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build scenarios", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pages := opts.Pages
	if pages == nil {
		manager := browser.NewManager(browser.Config{
			ChromeBin:  cfg.Browser.ChromeBin,
			ControlURL: cfg.Browser.ControlURL,
			Headless:   cfg.Headless,
			NoSandbox:  cfg.Browser.NoSandbox,
			Stealth:    cfg.Browser.Stealth,
		})
		if err := manager.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "browser unavailable", err)
		}
		defer manager.Close()
		pages = manager.Factory()
	}

	hist, err := openHistory(ctx, cfg, names)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer hist.close()

	runner := verify.NewRunner(verify.RunnerOptions{
		RunID:          hist.runID(),
		DefaultTimeout: cfg.DefaultTimeout,
		PollInterval:   cfg.PollInterval,
	})
	suite := &verify.Suite{
		Runner:   runner,
		Pages:    pages,
		Timeout:  cfg.Deadline,
		Parallel: cfg.Parallel,
	}

	slog.Info("verification started", "baseURL", cfg.BaseURL, "scenarios", names, "parallel", cfg.Parallel)
	results := suite.RunAll(ctx, scenarios)
	hist.finish(ctx, results)

	report := verify.Report{Results: results, Timings: opts.Verbose}
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		err = report.WriteJSON(out)
	} else {
		err = report.WriteText(out)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if !report.Passed() {
		failed := 0
		for _, r := range results {
			if !r.Passed() {
				failed++
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", failed, len(results)))
	}
	return nil
}

// history records one CLI run in the SQLite file when configured
type history struct {
	db  *database.DB
	run *models.VerificationRun
}

func openHistory(ctx context.Context, cfg *config.Config, names []string) (*history, error) {
	if cfg.History == "" {
		return &history{}, nil
	}
	db, err := database.Open(database.DriverSQLite, cfg.History)
	if err != nil {
		return nil, err
	}
	run := &models.VerificationRun{BaseURL: cfg.BaseURL, Scenarios: names}
	if err := db.CreateRun(ctx, run); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.UpdateRunStatus(ctx, run.ID, models.RunRunning, ""); err != nil {
		db.Close()
		return nil, err
	}
	return &history{db: db, run: run}, nil
}

func (h *history) runID() string {
	if h.run == nil {
		return ""
	}
	return h.run.ID
}

func (h *history) finish(ctx context.Context, results []models.ScenarioResult) {
	if h.db == nil {
		return
	}
	// The run context may already be canceled; the record should still land.
	ctx = context.WithoutCancel(ctx)

	for _, r := range results {
		r.RunID = h.run.ID
		if err := h.db.SaveScenarioResult(ctx, r); err != nil {
			slog.Error("failed to record scenario", "scenario", r.Scenario, "error", err)
		}
	}

	status := models.RunStatusFor(results)
	msg := ""
	for _, r := range results {
		if r.Reason == models.ErrorCancelled {
			status = models.RunCanceled
			msg = "verification canceled"
			break
		}
	}
	if status == models.RunFailed && msg == "" {
		msg = "one or more scenarios failed"
	}
	if err := h.db.UpdateRunStatus(ctx, h.run.ID, status, msg); err != nil {
		slog.Error("failed to record run status", "run", h.run.ID, "error", err)
	}
}

func (h *history) close() {
	if h.db != nil {
		h.db.Close()
	}
}
