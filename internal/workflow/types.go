// Package workflow runs step graphs: each step has a kind, a config and
// optional onSuccess/onFailure edges to the next step.
//
// Engine runs definitions in-process. DurableWorkflow runs the same state
// machine as a Temporal workflow, with delays as durable timers and
// collaborator calls as activities.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// StepKind selects the executor for a step.
type StepKind string

const (
	KindTask        StepKind = "task"
	KindAgent       StepKind = "agent"
	KindIntegration StepKind = "integration"
	KindCondition   StepKind = "condition"
	KindDelay       StepKind = "delay"
)

// Valid reports whether k is a known kind.
func (k StepKind) Valid() bool {
	switch k {
	case KindTask, KindAgent, KindIntegration, KindCondition, KindDelay:
		return true
	}
	return false
}

// StepState is the lifecycle of one step instance. A pending record is the
// step a run had selected next when it stopped for cancellation or the step
// limit.
type StepState string

const (
	StatePending   StepState = "pending"
	StateRunning   StepState = "running"
	StateSucceeded StepState = "succeeded"
	StateFailed    StepState = "failed"
)

// Status is the overall state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInvalidDefinition is returned by Validate.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	// ErrStepTimeout marks steps that exceeded their timeout.
	ErrStepTimeout = errors.New("step timed out")
	// ErrNoExecutor is returned for kinds with no registered executor.
	ErrNoExecutor = errors.New("no executor for step kind")
	// ErrTooManySteps stops runs that exceed the step budget, such as
	// definitions whose edges form a loop that never exits.
	ErrTooManySteps = errors.New("step limit exceeded")
)

// Step is one node of a definition.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Kind      StepKind       `json:"kind" yaml:"kind"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	OnSuccess string         `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnFailure string         `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Duration is a step timeout. JSON accepts a duration string such as "5s"
// or integer nanoseconds, and always encodes the string form.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(n)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Definition is an ordered list of steps. Execution starts at Steps[0].
type Definition struct {
	ID    string         `json:"id" yaml:"id"`
	Name  string         `json:"name,omitempty" yaml:"name,omitempty"`
	Input map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Steps []Step         `json:"steps" yaml:"steps"`
}

// Validate checks ids, kinds and edges.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidDefinition)
	}
	ids := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("%w: step %d has no id", ErrInvalidDefinition, i)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidDefinition, s.ID)
		}
		if !s.Kind.Valid() {
			return fmt.Errorf("%w: step %q has unknown kind %q", ErrInvalidDefinition, s.ID, s.Kind)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("%w: step %q has negative timeout", ErrInvalidDefinition, s.ID)
		}
		ids[s.ID] = struct{}{}
	}
	for _, s := range d.Steps {
		for _, next := range []string{s.OnSuccess, s.OnFailure} {
			if next == "" {
				continue
			}
			if _, ok := ids[next]; !ok {
				return fmt.Errorf("%w: step %q points to unknown step %q", ErrInvalidDefinition, s.ID, next)
			}
		}
	}
	return nil
}

func (d *Definition) step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// StepResult is what an executor reports.
type StepResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure builds a failed result from err.
func Failure(err error) StepResult {
	return StepResult{Success: false, Error: err.Error()}
}

// StepRecord is one executed step, in run order.
type StepRecord struct {
	StepID     string     `json:"step_id"`
	Kind       StepKind   `json:"kind"`
	State      StepState  `json:"state"`
	Result     StepResult `json:"result"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Execution is the record of one run.
type Execution struct {
	ID         string                `json:"id"`
	WorkflowID string                `json:"workflow_id"`
	ScopeID    string                `json:"scope_id,omitempty"`
	Status     Status                `json:"status"`
	Results    map[string]StepResult `json:"results"`
	Steps      []StepRecord          `json:"steps"`
	Error      string                `json:"error,omitempty"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
}

// StepError describes a failed step.
type StepError struct {
	StepID string
	Kind   StepKind
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
