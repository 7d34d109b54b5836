// Package engine implements the sequential task runner.
//
// The Runner walks the task tree one task at a time. For every task it checks
// the task has not run yet, evaluates its conditions, runs it and classifies
// the result. Ordinary failures are recorded and the run moves on; usage
// errors and internal invariant violations abort the run.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/logging"
	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/trace"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Run statuses reported in RunResult.Status.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// RunConfig configures a run.
type RunConfig struct {
	Sinks     sink.Factory      // output destinations; nil keeps output in memory
	Handle    any               // connector session, closed by the caller
	Arguments *config.Arguments // resolved invocation arguments
	Trace     *trace.Writer     // optional JSONL trace
	Now       func() time.Time  // clock; nil uses time.Now
}

// RunResult is the outcome of a run.
type RunResult struct {
	Status         string
	FailedRequired int
	Counts         []StateCount
	Summaries      []Summary
	Duration       time.Duration
	// Error is set when the run was aborted by a usage error or an
	// internal invariant violation.
	Error error
}

// Succeeded reports whether the run completed with no REQUIRED task failed.
// An aborted run never succeeds, even when the aborting task was OPTIONAL.
func (r *RunResult) Succeeded() bool {
	return r.Error == nil && r.FailedRequired == 0
}

// Runner executes a task tree.
type Runner struct {
	tasks    []task.Task
	sinks    sink.Factory
	handle   any
	args     *config.Arguments
	trace    *trace.Writer
	now      func() time.Time
	state    *RunState
	progress *Progress
	rc       *runContext
	started  time.Time
}

// New creates a runner for tasks. The progress clock starts here.
func New(tasks []task.Task, cfg RunConfig) *Runner {
	r := &Runner{
		tasks:  tasks,
		sinks:  cfg.Sinks,
		handle: cfg.Handle,
		args:   cfg.Arguments,
		trace:  cfg.Trace,
		now:    cfg.Now,
	}
	if r.sinks == nil {
		r.sinks = sink.NewMemory()
	}
	if r.args == nil {
		r.args = &config.Arguments{PoolSize: 1}
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.state = NewRunState(tasks)
	r.started = r.now()
	r.progress = NewProgress(task.CountLeaves(tasks), r.started)
	r.rc = &runContext{r: r}
	return r
}

// State exposes the run state, e.g. for reporting.
func (r *Runner) State() *RunState { return r.state }

// Progress exposes the progress tracker.
func (r *Runner) Progress() *Progress { return r.progress }

// Run executes the top-level tasks in order. It stops early only when a task
// fails with a usage error or an invariant is violated.
func (r *Runner) Run(ctx context.Context) *RunResult {
	r.trace.EmitRunStart(r.args.Connector, r.progress.Total(), map[string]any{
		"output":    r.args.Output,
		"continue":  r.args.Continue,
		"pool_size": r.args.PoolSize,
		"url":       config.RedactURL(r.args.URL),
	})

	var fatal error
	for _, t := range r.tasks {
		if _, err := r.dispatch(ctx, t); err != nil {
			fatal = err
			break
		}
	}

	result := &RunResult{
		FailedRequired: r.state.FailedRequiredCount(),
		Counts:         r.state.CountsByState(),
		Summaries:      r.state.Summaries(),
		Duration:       r.now().Sub(r.started),
		Error:          fatal,
	}
	switch {
	case fatal != nil:
		result.Status = StatusAborted
	case result.FailedRequired > 0:
		result.Status = StatusFailed
	default:
		result.Status = StatusSucceeded
	}

	counts := make(map[string]int, len(result.Counts))
	for _, c := range result.Counts {
		counts[c.State.String()] = c.Count
	}
	r.trace.EmitRunComplete(result.Status, counts, result.FailedRequired, result.Duration)
	return result
}

type resultKind int

const (
	resultSucceeded resultKind = iota
	resultSkipped
	resultFailed
	resultFatal     // usage error; aborts the run
	resultInvariant // engine bug; aborts the run
)

// execResult is the classified outcome of executing one task.
type execResult struct {
	kind   resultKind
	value  any
	reason string
	err    error
}

// dispatch executes t and translates the result for callers: the value of a
// succeeded task, or an error when the run must abort.
func (r *Runner) dispatch(ctx context.Context, t task.Task) (any, error) {
	res := r.execute(ctx, t)
	switch res.kind {
	case resultSucceeded:
		return res.value, nil
	case resultSkipped, resultFailed:
		return nil, nil
	default:
		return nil, res.err
	}
}

func (r *Runner) execute(ctx context.Context, t task.Task) execResult {
	if st := r.state.StateOf(t); st != task.NotStarted {
		return execResult{kind: resultInvariant, err: &InvariantError{Task: t.Name(), State: st}}
	}
	start := r.now()

	for _, cond := range t.Conditions() {
		if cond.Evaluate(r.state) {
			continue
		}
		reason := cond.SkipReason()
		if err := r.state.SetSkipped(t, reason); err != nil {
			return execResult{kind: resultInvariant, err: err}
		}
		logging.FromContext(ctx).Debug("task skipped", "task", t.Name(), "reason", reason)
		r.complete(ctx, t, trace.StatusSkipped, start, reason, nil)
		return execResult{kind: resultSkipped, reason: reason}
	}

	value, err := t.Run(ctx, r.rc)
	if err != nil {
		return r.fail(ctx, t, start, err)
	}
	if err := r.state.SetSucceeded(t, value); err != nil {
		return execResult{kind: resultInvariant, err: err}
	}
	r.complete(ctx, t, trace.StatusSucceeded, start, "", nil)
	return execResult{kind: resultSucceeded, value: value}
}

func (r *Runner) fail(ctx context.Context, t task.Task, start time.Time, err error) execResult {
	log := logging.FromContext(ctx)
	kind := classify(err)
	if serr := r.state.SetFailed(t, err); serr != nil {
		return execResult{kind: resultInvariant, err: serr}
	}

	switch kind {
	case resultInvariant:
		r.trace.EmitTaskComplete(t.Name(), trace.StatusFailed, task.IsGroup(t), r.now().Sub(start), "",
			&trace.Failure{Kind: "internal", Message: err.Error()})
		return execResult{kind: kind, err: err}
	case resultFatal:
		r.trace.EmitTaskComplete(t.Name(), trace.StatusFailed, task.IsGroup(t), r.now().Sub(start), "",
			&trace.Failure{Kind: "usage", Message: err.Error()})
		return execResult{kind: kind, err: err}
	}

	failure := &trace.Failure{Kind: "error", Message: err.Error()}
	if t.HandleError(err) {
		failure.Kind = "handled"
		log.Debug("task failed with a recognized error", "task", t.Name(), "error", err)
	} else {
		log.Warn("task failed", "task", t.Name(), "description", t.String(), "error", err)
	}
	r.writeDiagnostic(ctx, t, err)
	r.complete(ctx, t, trace.StatusFailed, start, "", failure)
	return execResult{kind: resultFailed, err: err}
}

// classify picks the fatal classes out of a failure; everything else is an
// ordinary task failure.
func classify(err error) resultKind {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return resultInvariant
	}
	if usage.Is(err) {
		return resultFatal
	}
	return resultFailed
}

// complete reports a terminal task. Leaf tasks advance the progress.
func (r *Runner) complete(ctx context.Context, t task.Task, status trace.TaskStatus, start time.Time, reason string, failure *trace.Failure) {
	now := r.now()
	group := task.IsGroup(t)
	r.trace.EmitTaskComplete(t.Name(), status, group, now.Sub(start), reason, failure)
	if group {
		return
	}
	msg := r.progress.Complete(now)
	logging.FromContext(ctx).Info(msg, "logger", "progress")
	r.trace.EmitProgress(r.progress.Completed(), r.progress.Total(), r.progress.Percent(), msg)
}
