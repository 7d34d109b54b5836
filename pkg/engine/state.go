package engine

import (
	"fmt"

	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// InvariantError reports an engine bug: a task was about to change state
// although it already left NOT_STARTED.
type InvariantError struct {
	Task  string
	State task.State
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal error: task %s is %s, expected %s", e.Task, e.State, task.NotStarted)
}

// ExitCode implements the exit-code contract of usage.ExitCode.
func (e *InvariantError) ExitCode() int { return usage.ExitInternal }

// Outcome is the recorded result of one task.
type Outcome struct {
	State  task.State
	Value  any
	Err    error
	Reason string
}

// Summary is one line of the end-of-run report.
type Summary struct {
	Name     string
	Category task.Category
	State    task.State
	Err      string
	Reason   string
	Group    bool
}

// StateCount is the number of leaf tasks that ended in State.
type StateCount struct {
	State task.State
	Count int
}

// RunState records the outcome of every task of one run. It is owned by the
// Runner and is not safe for concurrent mutation.
type RunState struct {
	outcomes  map[task.Task]*Outcome
	byName    map[string]task.Task
	summaries []Summary
}

// NewRunState registers the task tree so tasks can be looked up by name. When
// names repeat, the first task in tree order wins.
func NewRunState(tasks []task.Task) *RunState {
	s := &RunState{
		outcomes: make(map[task.Task]*Outcome),
		byName:   make(map[string]task.Task),
	}
	task.Walk(tasks, func(t task.Task, _ int) {
		if _, ok := s.byName[t.Name()]; !ok {
			s.byName[t.Name()] = t
		}
	})
	return s
}

// OutcomeOf returns the outcome of t; tasks never seen are NOT_STARTED.
func (s *RunState) OutcomeOf(t task.Task) Outcome {
	if o, ok := s.outcomes[t]; ok {
		return *o
	}
	return Outcome{State: task.NotStarted}
}

// StateOf returns the current state of t.
func (s *RunState) StateOf(t task.Task) task.State {
	return s.OutcomeOf(t).State
}

// Lookup returns the state of the first task named name.
func (s *RunState) Lookup(name string) (task.State, bool) {
	t, ok := s.byName[name]
	if !ok {
		return task.NotStarted, false
	}
	return s.StateOf(t), true
}

// ValueOf returns the value of a succeeded task.
func (s *RunState) ValueOf(t task.Task) (any, bool) {
	o := s.OutcomeOf(t)
	if o.State != task.Succeeded {
		return nil, false
	}
	return o.Value, true
}

// SetSucceeded records t as SUCCEEDED with the value it returned.
func (s *RunState) SetSucceeded(t task.Task, value any) error {
	return s.set(t, Outcome{State: task.Succeeded, Value: value})
}

// SetFailed records t as FAILED.
func (s *RunState) SetFailed(t task.Task, err error) error {
	return s.set(t, Outcome{State: task.Failed, Err: err})
}

// SetSkipped records t as SKIPPED. Like the other setters it returns an
// InvariantError when t already has a terminal state.
func (s *RunState) SetSkipped(t task.Task, reason string) error {
	return s.set(t, Outcome{State: task.Skipped, Reason: reason})
}

func (s *RunState) set(t task.Task, o Outcome) error {
	if cur := s.StateOf(t); cur != task.NotStarted {
		return &InvariantError{Task: t.Name(), State: cur}
	}
	s.outcomes[t] = &o
	sum := Summary{
		Name:     t.Name(),
		Category: t.Category(),
		State:    o.State,
		Reason:   o.Reason,
		Group:    task.IsGroup(t),
	}
	if o.Err != nil {
		sum.Err = o.Err.Error()
	}
	s.summaries = append(s.summaries, sum)
	return nil
}

// FailedRequiredCount counts REQUIRED leaf tasks that failed. A run
// succeeded exactly when it is zero.
func (s *RunState) FailedRequiredCount() int {
	n := 0
	for _, sum := range s.summaries {
		if !sum.Group && sum.Category == task.Required && sum.State == task.Failed {
			n++
		}
	}
	return n
}

// Summaries returns the outcome summaries in the order they were recorded.
func (s *RunState) Summaries() []Summary {
	return append([]Summary(nil), s.summaries...)
}

// CountsByState counts leaf outcomes per terminal state, in state order,
// omitting states nobody reached.
func (s *RunState) CountsByState() []StateCount {
	counts := make(map[task.State]int)
	for _, sum := range s.summaries {
		if !sum.Group {
			counts[sum.State]++
		}
	}
	var out []StateCount
	for _, st := range task.States {
		if n := counts[st]; n > 0 {
			out = append(out, StateCount{State: st, Count: n})
		}
	}
	return out
}
