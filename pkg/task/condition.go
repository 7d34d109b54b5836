package task

import (
	"fmt"
	"strings"
)

// Condition is a read-only predicate over run state gating a task.
type Condition interface {
	Evaluate(s StateReader) bool
	SkipReason() string
}

// StateCondition holds when a task reached a given terminal state.
type StateCondition struct {
	task Task
	want State
}

// StateIs returns a condition that holds once t is in state want. want must
// be terminal; waiting for NotStarted is a programming error and panics.
func StateIs(t Task, want State) *StateCondition {
	if !want.Terminal() {
		panic(fmt.Sprintf("task: condition on %s cannot wait for %s", t.Name(), want))
	}
	return &StateCondition{task: t, want: want}
}

func (c *StateCondition) Evaluate(s StateReader) bool {
	return s.StateOf(c.task) == c.want
}

func (c *StateCondition) SkipReason() string {
	return fmt.Sprintf("state of %s was not %s", c.task.Name(), c.want)
}

// OnlyIfSucceeded gates on t having succeeded.
func OnlyIfSucceeded(t Task) *StateCondition { return StateIs(t, Succeeded) }

// OnlyIfFailed gates on t having failed.
func OnlyIfFailed(t Task) *StateCondition { return StateIs(t, Failed) }

// AndCondition holds when every member holds.
type AndCondition struct {
	conds []Condition
}

func All(conds ...Condition) *AndCondition {
	return &AndCondition{conds: conds}
}

func (c *AndCondition) Evaluate(s StateReader) bool {
	for _, cond := range c.conds {
		if !cond.Evaluate(s) {
			return false
		}
	}
	return true
}

func (c *AndCondition) SkipReason() string {
	reasons := make([]string, len(c.conds))
	for i, cond := range c.conds {
		reasons[i] = cond.SkipReason()
	}
	return "all of [" + strings.Join(reasons, ", ") + "]"
}

// OnlyIfAllFailed gates on every one of ts having failed.
func OnlyIfAllFailed(ts ...Task) *AndCondition {
	conds := make([]Condition, len(ts))
	for i, t := range ts {
		conds[i] = OnlyIfFailed(t)
	}
	return All(conds...)
}
