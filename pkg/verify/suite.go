package verify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"dev/bravebird/uiverify/pkg/models"
)

// Suite runs independent scenarios, each on its own isolated page.
type Suite struct {
	Runner  *Runner
	Pages   PageFactory
	Logger  *slog.Logger
	Timeout time.Duration // Whole-suite deadline; zero means none

	// Parallel bounds how many scenarios run at once. Values below 1 run
	// scenarios one after another.
	Parallel int
}

// RunAll executes scenarios and returns one result per scenario in input
// order. A scenario whose page cannot be opened fails with TargetUnreachable
// without affecting the others.
func (s *Suite) RunAll(ctx context.Context, scenarios []Scenario) []models.ScenarioResult {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	limit := s.Parallel
	if limit < 1 {
		limit = 1
	}

	results := make([]models.ScenarioResult, len(scenarios))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, sc := range scenarios {
		i, sc := i, sc
		if limit > 1 {
			sc.Artifact = artifactFor(sc.Artifact, sc.Name)
		}
		g.Go(func() error {
			page, release, err := s.Pages(ctx)
			if err != nil {
				log.Error("failed to open page", "scenario", sc.Name, "error", err)
				results[i] = s.unreachable(ctx, sc, err)
				return nil
			}
			defer release()
			results[i] = s.Runner.Run(ctx, page, sc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// unreachable is the result of a scenario that never got a page
func (s *Suite) unreachable(ctx context.Context, sc Scenario, cause error) models.ScenarioResult {
	reason := models.ErrorTargetUnreachable
	if ctx.Err() != nil {
		reason = contextKind(ctx)
	}
	status := models.ScenarioFailed
	if reason == models.ErrorTimeout {
		status = models.ScenarioTimedOut
	}
	res := models.ScenarioResult{
		RunID:     s.Runner.opts.RunID,
		Scenario:  sc.Name,
		Status:    status,
		Reason:    reason,
		Outcomes:  []models.StepOutcome{},
		Truncated: len(sc.Steps) > 0,
		Skipped:   len(sc.Steps),
		StartedAt: time.Now(),
	}
	if sc.Artifact != "" {
		res.ArtifactError = fmt.Sprintf("page unavailable: %v", cause)
	}
	if s.Runner.opts.Hooks != nil {
		s.Runner.opts.Hooks.ScenarioFinished(res)
	}
	return res
}

// artifactFor keeps concurrently written artifacts apart by suffixing the
// scenario name, e.g. verification/verification-initial-load.png
func artifactFor(path, scenario string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if strings.HasSuffix(base, "-"+scenario) {
		return path
	}
	return base + "-" + scenario + ext
}
