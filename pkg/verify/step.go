package verify

import (
	"context"
	"fmt"
	"time"

	"dev/bravebird/uiverify/pkg/models"
)

// Step is one ordered unit of a scenario: an Action or an Assertion.
// Zero Timeout means the runner default.
type Step struct {
	Name        string
	Kind        models.StepKind
	Query       models.Query
	Condition   Condition
	Timeout     time.Duration
	SettleDelay time.Duration
	Stability   int

	act func(ctx context.Context, d *Driver) error
}

// WithTimeout returns a copy of the step with its own wait ceiling
func (s Step) WithTimeout(d time.Duration) Step {
	s.Timeout = d
	return s
}

// WithSettle returns a copy of the step that waits d after succeeding
func (s Step) WithSettle(d time.Duration) Step {
	s.SettleDelay = d
	return s
}

// WithStability returns a copy of an assertion that must hold on n
// consecutive polls
func (s Step) WithStability(n int) Step {
	s.Stability = n
	return s
}

// Navigate is an action loading url
func Navigate(url string) Step {
	return Step{
		Name: "navigate to " + url,
		Kind: models.StepAction,
		act:  func(ctx context.Context, d *Driver) error { return d.Navigate(ctx, url) },
	}
}

// Fill is an action typing text into the element matched by q
func Fill(q models.Query, text string) Step {
	return Step{
		Name:  fmt.Sprintf("fill %s with %q", q, text),
		Kind:  models.StepAction,
		Query: q,
		act:   func(ctx context.Context, d *Driver) error { return d.Fill(ctx, q, text) },
	}
}

// Clear is an action emptying the element matched by q
func Clear(q models.Query) Step {
	return Step{
		Name:  fmt.Sprintf("clear %s", q),
		Kind:  models.StepAction,
		Query: q,
		act:   func(ctx context.Context, d *Driver) error { return d.Clear(ctx, q) },
	}
}

// SelectOption is an action choosing value in the <select> matched by q
func SelectOption(q models.Query, value string) Step {
	return Step{
		Name:  fmt.Sprintf("select %q in %s", value, q),
		Kind:  models.StepAction,
		Query: q,
		act:   func(ctx context.Context, d *Driver) error { return d.SelectOption(ctx, q, value) },
	}
}

// Expect is an assertion that cond eventually holds for q
func Expect(q models.Query, cond Condition) Step {
	return Step{
		Name:      fmt.Sprintf("expect %s: %s", q, cond.Name),
		Kind:      models.StepAssertion,
		Query:     q,
		Condition: cond,
	}
}

// Named returns a copy of the step with a human-readable name
func (s Step) Named(name string) Step {
	s.Name = name
	return s
}

// FailureMode controls what happens after a failed assertion
type FailureMode int

const (
	FailFast   FailureMode = iota // Stop at the first failure
	CollectAll                    // Keep running assertions, aggregate failures
)

// Scenario is a named, ordered set of steps run against one page
type Scenario struct {
	Name  string
	Steps []Step
	Mode  FailureMode

	// Artifact is where a snapshot of the final page is written. Empty means none.
	Artifact string
}
