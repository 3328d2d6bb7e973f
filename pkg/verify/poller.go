package verify

import (
	"context"
	"errors"
	"time"

	"dev/bravebird/uiverify/pkg/models"
)

// DefaultPollInterval is used when a Poller has no interval set
const DefaultPollInterval = 100 * time.Millisecond

// AttemptObserver is told about every evaluation the poller makes
type AttemptObserver interface {
	PollAttempt(holds bool)
}

// Poller re-resolves a query and re-evaluates a condition on a fixed cadence
// until the condition holds, the timeout elapses or the context ends.
type Poller struct {
	Interval time.Duration
	Observer AttemptObserver
}

// NewPoller creates a poller with the given interval
func NewPoller(interval time.Duration) *Poller {
	return &Poller{Interval: interval}
}

func (p *Poller) interval() time.Duration {
	if p == nil || p.Interval <= 0 {
		return DefaultPollInterval
	}
	return p.Interval
}

// Await blocks until cond holds for q, returning the holding observation.
// The first attempt is immediate. On failure the last observation is returned
// together with a *StepError of kind Timeout, Cancelled, TargetUnreachable or
// InvalidQuery.
func (p *Poller) Await(ctx context.Context, loc *Locator, q models.Query, cond Condition, timeout time.Duration) (Observation, error) {
	return p.AwaitStable(ctx, loc, q, cond, timeout, 1)
}

// AwaitStable is Await requiring cond to hold on stable consecutive attempts,
// which filters out transient states such as a table mid re-render.
func (p *Poller) AwaitStable(ctx context.Context, loc *Locator, q models.Query, cond Condition, timeout time.Duration, stable int) (Observation, error) {
	if stable < 1 {
		stable = 1
	}
	if timeout < 0 {
		timeout = 0
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	var (
		last   Observation
		streak int
	)
	fail := func(kind models.ErrorKind, cause error) (Observation, error) {
		return last, &StepError{
			Kind:      kind,
			Query:     q,
			Condition: cond.Name,
			Observed:  last.String(),
			Err:       cause,
		}
	}

	for {
		obs, err := p.attempt(attemptCtx, loc, q, cond)
		switch {
		case err == nil:
			last = obs
		case errors.Is(err, ErrStaleElement):
			// The page re-rendered under us; keep the last complete
			// observation and try again next tick.
			obs.Holds = false
		case attemptCtx.Err() != nil:
			// Deadline or cancellation; reported by the select below.
			obs.Holds = false
		case errors.Is(err, ErrInvalidQuery):
			return fail(models.ErrorInvalidQuery, err)
		default:
			return fail(models.ErrorTargetUnreachable, err)
		}

		if p != nil && p.Observer != nil {
			p.Observer.PollAttempt(obs.Holds)
		}

		if obs.Holds {
			streak++
			if streak >= stable {
				return obs, nil
			}
		} else {
			streak = 0
		}

		select {
		case <-ctx.Done():
			return fail(contextKind(ctx), ctx.Err())
		case <-deadline.C:
			return fail(models.ErrorTimeout, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (p *Poller) attempt(ctx context.Context, loc *Locator, q models.Query, cond Condition) (Observation, error) {
	els, err := loc.Resolve(ctx, q)
	if err != nil {
		return Observation{}, err
	}
	return cond.Check(ctx, els)
}
