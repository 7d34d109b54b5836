// Package task defines units of extraction work and the conditions gating them.
//
// A Task is run at most once per run by the engine. Its outcome moves from
// NotStarted to exactly one terminal State. Groups are tasks whose run
// executes an ordered list of children through the engine's dispatch, so
// nested groups compose without special handling.
package task

import (
	"context"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/sink"
)

// Category decides whether a task's failure fails the whole run.
type Category int

const (
	Required Category = iota
	Optional
)

func (c Category) String() string {
	switch c {
	case Required:
		return "REQUIRED"
	case Optional:
		return "OPTIONAL"
	default:
		return "UNKNOWN"
	}
}

// State is the outcome of a task within one run.
type State int

const (
	NotStarted State = iota
	Skipped
	Succeeded
	Failed
)

// States lists every state in reporting order.
var States = []State{NotStarted, Skipped, Succeeded, Failed}

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Skipped:
		return "SKIPPED"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a final outcome.
func (s State) Terminal() bool { return s != NotStarted }

// StateReader gives read-only access to the outcomes of a run.
type StateReader interface {
	StateOf(t Task) State
	// Lookup finds a task by name. ok is false for names not part of the run.
	Lookup(name string) (s State, ok bool)
}

// Task is a unit of extraction work.
type Task interface {
	Name() string
	// OutputPath is the sink path of the task's output. It also names the
	// diagnostic written when the task fails.
	OutputPath() string
	Category() Category
	// Conditions are evaluated in order before Run; the first false one
	// skips the task.
	Conditions() []Condition
	// Run performs the extraction. The returned value is made available to
	// later tasks through RunContext.ValueOf.
	Run(ctx context.Context, rc RunContext) (any, error)
	// HandleError reports whether err is expected for this task. A handled
	// error is still recorded as a failure but is not logged as a warning.
	HandleError(err error) bool
	// String describes the task for humans.
	String() string
}

// RunContext is the shared environment tasks run in.
type RunContext interface {
	StateReader
	// Handle is the connector's session with the external system.
	Handle() any
	NewSink(path string) (sink.Sink, error)
	Arguments() *config.Arguments
	// PoolSize bounds the concurrency a single task may use internally.
	PoolSize() int
	// ValueOf returns the value a succeeded task produced.
	ValueOf(t Task) (any, bool)
	// RunChild runs t through the engine's dispatch. The error is non-nil
	// only when the run must abort; ordinary failures are recorded in the
	// run state and reported as a nil value.
	RunChild(ctx context.Context, t Task) (any, error)
}

// ValueOf returns the value t produced, typed as T.
func ValueOf[T any](rc RunContext, t Task) (T, bool) {
	var zero T
	v, ok := rc.ValueOf(t)
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	if !ok {
		return zero, false
	}
	return tv, true
}
