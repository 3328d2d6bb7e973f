package verify_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/uiverify/pkg/models"
	"dev/bravebird/uiverify/pkg/verify"
)

const (
	emptyTable  = `<html><body><table><tbody></tbody></table></body></html>`
	loadedTable = `<html><body><table><tbody><tr><td>uno</td></tr></tbody></table></body></html>`
)

func kindOf(t *testing.T, err error) models.ErrorKind {
	t.Helper()
	var se *verify.StepError
	require.True(t, errors.As(err, &se), "expected *StepError, got %T: %v", err, err)
	return se.Kind
}

func TestPollerHoldsImmediately(t *testing.T) {
	obs := &countingObserver{}
	p := &verify.Poller{Interval: 200 * time.Millisecond, Observer: obs}
	loc := verify.NewLocator(mustParse(t, loadedTable))

	start := time.Now()
	got, err := p.Await(context.Background(), loc, models.CSS("tbody tr"), verify.CountAtLeast(1), 5*time.Second)
	require.NoError(t, err)

	assert.True(t, got.Holds)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, int32(1), obs.attempts.Load(), "a holding condition is evaluated once")
	assert.Less(t, time.Since(start), 200*time.Millisecond, "no interval is waited before the first attempt")
}

func TestPollerTimeoutBound(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		timeout  = 100 * time.Millisecond
	)
	obs := &countingObserver{}
	p := &verify.Poller{Interval: interval, Observer: obs}
	loc := verify.NewLocator(mustParse(t, emptyTable))

	start := time.Now()
	got, err := p.Await(context.Background(), loc, models.CSS("tbody tr"), verify.CountAtLeast(1), timeout)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, models.ErrorTimeout, kindOf(t, err))
	assert.ErrorIs(t, err, verify.ErrTimeout)
	assert.False(t, got.Holds)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+150*time.Millisecond)

	// Attempts are paced by the interval, never busy-spinning.
	attempts := obs.attempts.Load()
	assert.GreaterOrEqual(t, attempts, int32(2))
	assert.LessOrEqual(t, attempts, int32(timeout/interval)+2)
}

func TestPollerReresolvesUntilHolds(t *testing.T) {
	doc := open(t, delayedApp(60*time.Millisecond, emptyTable, loadedTable))
	p := verify.NewPoller(10 * time.Millisecond)

	start := time.Now()
	got, err := p.Await(context.Background(), verify.NewLocator(doc), models.CSS("tbody tr"), verify.FirstVisible(), time.Second)
	require.NoError(t, err)
	assert.True(t, got.Holds)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPollerStaleAttemptKeepsLastObservation(t *testing.T) {
	var calls atomic.Int32
	cond := verify.Condition{
		Name: "count >= 5",
		Check: func(_ context.Context, els []verify.Element) (verify.Observation, error) {
			if calls.Add(1) == 1 {
				return verify.Observation{Count: len(els)}, nil
			}
			return verify.Observation{}, fmt.Errorf("reading row: %w", verify.ErrStaleElement)
		},
	}
	loc := verify.NewLocator(mustParse(t, loadedTable))

	got, err := verify.NewPoller(10*time.Millisecond).Await(context.Background(), loc, models.CSS("tbody tr"), cond, 80*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, models.ErrorTimeout, kindOf(t, err))
	assert.Greater(t, calls.Load(), int32(1))
	assert.Equal(t, 1, got.Count)

	var se *verify.StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "count=1", se.Observed)
}

func TestPollerStability(t *testing.T) {
	obs := &countingObserver{}
	p := &verify.Poller{Interval: 5 * time.Millisecond, Observer: obs}
	loc := verify.NewLocator(mustParse(t, loadedTable))

	_, err := p.AwaitStable(context.Background(), loc, models.CSS("tbody tr"), verify.CountEquals(1), time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), obs.attempts.Load())
	assert.Equal(t, int32(3), obs.holds.Load())
}

func TestPollerCancellation(t *testing.T) {
	p := verify.NewPoller(10 * time.Millisecond)
	loc := verify.NewLocator(mustParse(t, emptyTable))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Await(ctx, loc, models.CSS("tbody tr"), verify.CountAtLeast(1), 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrorCancelled, kindOf(t, err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollerRespectsRunDeadline(t *testing.T) {
	p := verify.NewPoller(10 * time.Millisecond)
	loc := verify.NewLocator(mustParse(t, emptyTable))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Await(ctx, loc, models.CSS("tbody tr"), verify.CountAtLeast(1), 10*time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrorTimeout, kindOf(t, err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollerPageLost(t *testing.T) {
	var down atomic.Bool
	doc := open(t, flakyApp(loadedTable, &down))
	down.Store(true)

	start := time.Now()
	_, err := verify.NewPoller(10*time.Millisecond).Await(context.Background(), verify.NewLocator(doc),
		models.CSS("tbody tr"), verify.CountAtLeast(1), 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrorTargetUnreachable, kindOf(t, err))
	assert.ErrorIs(t, err, verify.ErrTargetUnreachable)
	assert.Less(t, time.Since(start), time.Second, "a lost page is not retried")
}

func TestPollerInvalidQuery(t *testing.T) {
	loc := verify.NewLocator(mustParse(t, loadedTable))
	_, err := verify.NewPoller(10*time.Millisecond).Await(context.Background(), loc,
		models.Text("[", models.MatchPattern), verify.CountAtLeast(1), time.Second)
	require.Error(t, err)
	assert.Equal(t, models.ErrorInvalidQuery, kindOf(t, err))
}
