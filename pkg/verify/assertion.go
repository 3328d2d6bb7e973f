package verify

import (
	"context"
	"errors"
	"time"

	"dev/bravebird/uiverify/pkg/models"
)

// Asserter turns a polled condition into pass/fail with a diagnosable message.
type Asserter struct {
	locator *Locator
	poller  *Poller
}

// NewAsserter creates an asserter
func NewAsserter(loc *Locator, poller *Poller) *Asserter {
	return &Asserter{locator: loc, poller: poller}
}

// Expect returns nil once cond holds for q, or a *StepError describing the
// query, the unmet condition and the last observed state.
func (a *Asserter) Expect(ctx context.Context, q models.Query, cond Condition, timeout time.Duration) error {
	_, err := a.ExpectStable(ctx, q, cond, timeout, 1)
	return err
}

// ExpectStable is Expect requiring stable consecutive holding polls.
func (a *Asserter) ExpectStable(ctx context.Context, q models.Query, cond Condition, timeout time.Duration, stable int) (Observation, error) {
	obs, err := a.poller.AwaitStable(ctx, a.locator, q, cond, timeout, stable)
	if err == nil {
		return obs, nil
	}

	var se *StepError
	if errors.As(err, &se) && se.Kind == models.ErrorTimeout && obs.Count == 0 {
		// Nothing ever resolved: report the missing element rather than the clock.
		se.Kind = models.ErrorNotFound
		se.Err = ErrNotFound
	}
	return obs, err
}
