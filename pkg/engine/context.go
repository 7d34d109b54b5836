package engine

import (
	"context"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/task"
)

// runContext is the task.RunContext handed to every task of a run.
type runContext struct {
	r *Runner
}

var _ task.RunContext = (*runContext)(nil)

func (c *runContext) Handle() any { return c.r.handle }

func (c *runContext) NewSink(path string) (sink.Sink, error) { return c.r.sinks.NewSink(path) }

func (c *runContext) Arguments() *config.Arguments { return c.r.args }

func (c *runContext) PoolSize() int { return max(1, c.r.args.PoolSize) }

func (c *runContext) StateOf(t task.Task) task.State { return c.r.state.StateOf(t) }

func (c *runContext) Lookup(name string) (task.State, bool) { return c.r.state.Lookup(name) }

func (c *runContext) ValueOf(t task.Task) (any, bool) { return c.r.state.ValueOf(t) }

func (c *runContext) RunChild(ctx context.Context, t task.Task) (any, error) {
	return c.r.dispatch(ctx, t)
}
