package models

import (
	"fmt"
	"strconv"
	"time"
)

// ==================== Query Types ====================

// QueryKind selects how a Query is resolved against the page
type QueryKind string

const (
	QueryText        QueryKind = "text"        // Visible text of an element
	QueryLabel       QueryKind = "label"       // Form control by its <label> or aria-label
	QueryPlaceholder QueryKind = "placeholder" // Input by placeholder attribute
	QueryAttribute   QueryKind = "attribute"   // Any element by attribute value
	QueryCSS         QueryKind = "css"         // Raw CSS selector
)

// MatchMode controls how a Query value is compared
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchSubstring MatchMode = "substring"
	MatchPattern   MatchMode = "pattern" // Regular expression
)

// Query is an immutable description of what to find on the page
type Query struct {
	Kind  QueryKind `json:"kind"`
	Value string    `json:"value"`
	Attr  string    `json:"attr,omitempty"` // Attribute name for QueryAttribute
	Mode  MatchMode `json:"mode,omitempty"` // Defaults to exact
}

// Text queries elements by their visible text
func Text(value string, mode MatchMode) Query {
	return Query{Kind: QueryText, Value: value, Mode: mode}
}

// Label queries form controls by label text
func Label(value string) Query {
	return Query{Kind: QueryLabel, Value: value, Mode: MatchExact}
}

// Placeholder queries inputs by placeholder
func Placeholder(value string, mode MatchMode) Query {
	return Query{Kind: QueryPlaceholder, Value: value, Mode: mode}
}

// Attribute queries elements by an attribute value
func Attribute(attr, value string) Query {
	return Query{Kind: QueryAttribute, Attr: attr, Value: value, Mode: MatchExact}
}

// CSS queries elements by a CSS selector
func CSS(selector string) Query {
	return Query{Kind: QueryCSS, Value: selector}
}

// MatchMode returns the effective match mode
func (q Query) MatchMode() MatchMode {
	if q.Mode == "" {
		return MatchExact
	}
	return q.Mode
}

// String renders the query for failure messages, e.g. label="Buscar por nombre"
func (q Query) String() string {
	switch q.Kind {
	case QueryCSS:
		return fmt.Sprintf("css=%s", q.Value)
	case QueryAttribute:
		return fmt.Sprintf("[%s%s%s]", q.Attr, modeOperator(q.MatchMode()), strconv.Quote(q.Value))
	default:
		return fmt.Sprintf("%s%s%s", q.Kind, modeOperator(q.MatchMode()), strconv.Quote(q.Value))
	}
}

func modeOperator(m MatchMode) string {
	switch m {
	case MatchSubstring:
		return "*="
	case MatchPattern:
		return "~="
	default:
		return "="
	}
}

// ==================== Error Kinds ====================

// ErrorKind classifies step failures
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorNotFound          ErrorKind = "NotFound"
	ErrorAmbiguousMatch    ErrorKind = "AmbiguousMatch"
	ErrorTimeout           ErrorKind = "Timeout"
	ErrorCancelled         ErrorKind = "Cancelled"
	ErrorTargetUnreachable ErrorKind = "TargetUnreachable"
	ErrorAction            ErrorKind = "ActionFailed" // Browser refused the state-changing call
	ErrorInvalidQuery      ErrorKind = "InvalidQuery"
)

// ==================== Step Types ====================

// StepKind distinguishes state-changing steps from observing steps
type StepKind string

const (
	StepAction    StepKind = "action"
	StepAssertion StepKind = "assertion"
)

// StepStatus is the outcome of a single executed step
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepTimeout StepStatus = "timeout"
)

// StepOutcome records what happened when a step ran
type StepOutcome struct {
	Index     int           `json:"index"`
	Name      string        `json:"name"`
	Kind      StepKind      `json:"kind"`
	Status    StepStatus    `json:"status"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Query     string        `json:"query,omitempty"`
	Condition string        `json:"condition,omitempty"`
	Observed  string        `json:"observed,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Succeeded reports whether the step passed
func (o StepOutcome) Succeeded() bool {
	return o.Status == StepSuccess
}

// ==================== Scenario Types ====================

// ScenarioStatus is the lifecycle state of a scenario run
type ScenarioStatus string

const (
	ScenarioPending   ScenarioStatus = "pending"
	ScenarioRunning   ScenarioStatus = "running"
	ScenarioCompleted ScenarioStatus = "completed"
	ScenarioFailed    ScenarioStatus = "failed"
	ScenarioTimedOut  ScenarioStatus = "timed_out"
)

// Terminal reports whether no further transition is allowed
func (s ScenarioStatus) Terminal() bool {
	switch s {
	case ScenarioCompleted, ScenarioFailed, ScenarioTimedOut:
		return true
	}
	return false
}

// CanTransition validates the Pending -> Running -> terminal state machine
func (s ScenarioStatus) CanTransition(to ScenarioStatus) bool {
	switch s {
	case ScenarioPending:
		return to == ScenarioRunning
	case ScenarioRunning:
		return to.Terminal()
	}
	return false
}

// ScenarioResult is the immutable record of one scenario execution
type ScenarioResult struct {
	RunID         string         `json:"run_id,omitempty"`
	Scenario      string         `json:"scenario"`
	Status        ScenarioStatus `json:"status"`
	Reason        ErrorKind      `json:"reason,omitempty"`
	Outcomes      []StepOutcome  `json:"outcomes"`
	Truncated     bool           `json:"truncated"`
	Skipped       int            `json:"skipped"`
	ArtifactPath  string         `json:"artifact_path,omitempty"`
	ArtifactError string         `json:"artifact_error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration_ns"`
}

// Passed reports whether the scenario completed successfully
func (r ScenarioResult) Passed() bool {
	return r.Status == ScenarioCompleted
}

// Failures returns the failed outcomes in order
func (r ScenarioResult) Failures() []StepOutcome {
	var failed []StepOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ==================== Run Types ====================

// RunStatus represents the status of a verification run
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunPassed   RunStatus = "passed"
	RunFailed   RunStatus = "failed"
	RunCanceled RunStatus = "canceled"
)

// Done reports whether the run has finished
func (s RunStatus) Done() bool {
	return s == RunPassed || s == RunFailed || s == RunCanceled
}

// VerificationRun is a stored execution of one or more scenarios
type VerificationRun struct {
	ID                 string     `json:"id" db:"id"`
	BaseURL            string     `json:"base_url" db:"base_url"`
	ScenariosJSON      string     `json:"-" db:"scenarios"`
	TemporalWorkflowID string     `json:"temporal_workflow_id" db:"temporal_workflow_id"`
	TemporalRunID      string     `json:"temporal_run_id" db:"temporal_run_id"`
	Status             RunStatus  `json:"status" db:"status"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	StartedAt          *time.Time `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at" db:"completed_at"`
	ErrorMessage       string     `json:"error_message,omitempty" db:"error_message"`

	// Computed fields
	Scenarios []string         `json:"scenarios,omitempty"`
	Results   []ScenarioResult `json:"results,omitempty"`
}

// RunStatusFor derives a run status from scenario results
func RunStatusFor(results []ScenarioResult) RunStatus {
	if len(results) == 0 {
		return RunFailed
	}
	for _, r := range results {
		if !r.Passed() {
			return RunFailed
		}
	}
	return RunPassed
}

// ==================== Orchestration Types ====================

// RunOptions are the engine settings carried into a remote execution
type RunOptions struct {
	BaseURL        string        `json:"base_url"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	PollInterval   time.Duration `json:"poll_interval"`
	CollectAll     bool          `json:"collect_all"`
	ArtifactDir    string        `json:"artifact_dir,omitempty"`
}

// ScenarioInput is the input for running one named scenario
type ScenarioInput struct {
	RunID    string     `json:"run_id"`
	Scenario string     `json:"scenario"`
	Options  RunOptions `json:"options"`
	Timeout  int        `json:"timeout_seconds"`
	Retries  int        `json:"retry_attempts"`
}

// VerificationInput is the input for running a set of scenarios concurrently
type VerificationInput struct {
	RunID     string     `json:"run_id"`
	Scenarios []string   `json:"scenarios"`
	Options   RunOptions `json:"options"`
	Timeout   int        `json:"timeout_seconds"`
	Retries   int        `json:"retry_attempts"`
}

// VerificationResult aggregates scenario results of a run
type VerificationResult struct {
	RunID         string           `json:"run_id"`
	Status        RunStatus        `json:"status"`
	Results       []ScenarioResult `json:"results"`
	TotalDuration int64            `json:"total_duration_ms"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}

// StartRunRequest is the API request to start a verification run
type StartRunRequest struct {
	Scenarios  []string `json:"scenarios"`
	BaseURL    string   `json:"base_url"`
	CollectAll bool     `json:"collect_all"`
}

// ==================== WebSocket Message Types ====================

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
