package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dev/bravebird/uiverify/pkg/models"
)

// Sentinel errors for each failure kind. StepError unwraps to one of these.
var (
	ErrNotFound          = errors.New("no element matched")
	ErrAmbiguousMatch    = errors.New("more than one element matched")
	ErrTimeout           = errors.New("condition not met before timeout")
	ErrCancelled         = errors.New("run cancelled")
	ErrTargetUnreachable = errors.New("page unreachable")
	ErrInvalidQuery      = errors.New("invalid query")

	// ErrStaleElement is returned by an Element whose node was replaced by a page mutation.
	ErrStaleElement = errors.New("element is stale or detached from the document")
)

var kindSentinels = map[models.ErrorKind]error{
	models.ErrorNotFound:          ErrNotFound,
	models.ErrorAmbiguousMatch:    ErrAmbiguousMatch,
	models.ErrorTimeout:           ErrTimeout,
	models.ErrorCancelled:         ErrCancelled,
	models.ErrorTargetUnreachable: ErrTargetUnreachable,
	models.ErrorInvalidQuery:      ErrInvalidQuery,
}

// StepError describes why a step failed with enough context to diagnose it
// without re-running: the query, the unmet condition and the last observation.
type StepError struct {
	Kind      models.ErrorKind
	Query     models.Query
	Condition string
	Observed  string
	Err       error
}

func (e *StepError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Query.Kind != "" {
		fmt.Fprintf(&sb, ": query %s", e.Query)
	}
	if e.Condition != "" {
		fmt.Fprintf(&sb, ", expected %s", e.Condition)
	}
	if e.Observed != "" {
		fmt.Fprintf(&sb, ", observed %s", e.Observed)
	}
	if e.Err != nil && kindSentinels[e.Kind] != e.Err {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *StepError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf classifies any error returned by the engine or a page adapter.
func KindOf(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorNone
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return models.ErrorCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.ErrorTimeout
	case errors.Is(err, ErrTargetUnreachable):
		return models.ErrorTargetUnreachable
	case errors.Is(err, ErrNotFound):
		return models.ErrorNotFound
	case errors.Is(err, ErrAmbiguousMatch):
		return models.ErrorAmbiguousMatch
	case errors.Is(err, ErrInvalidQuery):
		return models.ErrorInvalidQuery
	}
	return models.ErrorAction
}

// fatal kinds stop a scenario regardless of failure mode
func fatal(kind models.ErrorKind) bool {
	return kind == models.ErrorTargetUnreachable || kind == models.ErrorCancelled
}

// contextKind maps a finished context to the kind it represents.
func contextKind(ctx context.Context) models.ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrorTimeout
	}
	return models.ErrorCancelled
}
