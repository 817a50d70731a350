package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultMaxSteps bounds a run when the engine is not configured otherwise.
const DefaultMaxSteps = 1000

// machine walks a definition. It owns no clock, context or executors so the
// same walk serves the in-process engine and the Temporal workflow.
type machine struct {
	def      *Definition
	maxSteps int

	now       func() time.Time
	cancelled func() bool
	run       func(Step, map[string]StepResult) StepResult
	observe   func(StepRecord)
}

// execute runs from the first step until an outcome has no edge. exec must
// already carry its ids and StartedAt.
func (m *machine) execute(exec *Execution) {
	if exec.Results == nil {
		exec.Results = make(map[string]StepResult)
	}
	exec.Status = StatusRunning

	maxSteps := m.maxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	current, ok := m.def.Steps[0], true
	lastSucceeded := false
	for n := 0; ok; n++ {
		if m.cancelled() {
			m.stopBefore(exec, current, StatusCancelled, "cancelled before step "+current.ID)
			return
		}
		if n >= maxSteps {
			m.stopBefore(exec, current, StatusFailed, fmt.Sprintf("%v: %d steps", ErrTooManySteps, maxSteps))
			return
		}

		rec := StepRecord{StepID: current.ID, Kind: current.Kind, State: StateRunning, StartedAt: m.now()}
		res := m.run(current, exec.Results)
		rec.Result = res
		rec.FinishedAt = m.now()
		if res.Success {
			rec.State = StateSucceeded
		} else {
			rec.State = StateFailed
		}

		exec.Results[current.ID] = res
		exec.Steps = append(exec.Steps, rec)
		if m.observe != nil {
			m.observe(rec)
		}

		lastSucceeded = res.Success
		next := current.OnFailure
		if res.Success {
			next = current.OnSuccess
		}
		if next == "" {
			break
		}
		current, ok = m.def.step(next)
	}

	if lastSucceeded {
		exec.Status = StatusCompleted
	} else {
		exec.Status = StatusFailed
		if last := exec.Steps[len(exec.Steps)-1]; last.Result.Error != "" {
			exec.Error = (&StepError{StepID: last.StepID, Kind: last.Kind, Err: errString(last.Result.Error)}).Error()
		}
	}
	exec.FinishedAt = m.now()
}

// stopBefore ends the run without starting next, which stays pending.
func (m *machine) stopBefore(exec *Execution, next Step, status Status, reason string) {
	exec.Steps = append(exec.Steps, StepRecord{StepID: next.ID, Kind: next.Kind, State: StatePending})
	exec.Status = status
	exec.Error = reason
	exec.FinishedAt = m.now()
}

type errString string

func (e errString) Error() string { return string(e) }

// Env builds the variable environment for condition expressions:
//
//	input.<key>                workflow input
//	steps.<id>.success|result|error
//
// Results are normalized through JSON so struct results can be addressed
// by their JSON field names.
func Env(input map[string]any, results map[string]StepResult) map[string]any {
	steps := make(map[string]any, len(results))
	for id, r := range results {
		steps[id] = map[string]any{
			"success": r.Success,
			"result":  normalize(r.Result),
			"error":   r.Error,
		}
	}
	in := make(map[string]any, len(input))
	for k, v := range input {
		in[k] = normalize(v)
	}
	return map[string]any{"input": in, "steps": steps}
}

func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
