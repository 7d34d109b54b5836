package task

import (
	"context"
	"fmt"
	"io"

	"github.com/ormasoftchile/dumper/pkg/logging"
)

// Base carries the declarative parts of a task. Concrete tasks embed it and
// supply Run.
type Base struct {
	name        string
	path        string
	description string
	category    Category
	conditions  []Condition
	recognize   func(error) bool
}

// Option configures a Base.
type Option func(*Base)

// WithName overrides the default name, which is the output path.
func WithName(name string) Option { return func(b *Base) { b.name = name } }

// WithOutput sets the output path.
func WithOutput(path string) Option { return func(b *Base) { b.path = path } }

// Describe sets the human readable description.
func Describe(desc string) Option { return func(b *Base) { b.description = desc } }

// AsOptional marks the task OPTIONAL.
func AsOptional() Option { return func(b *Base) { b.category = Optional } }

// When appends gating conditions.
func When(conds ...Condition) Option {
	return func(b *Base) { b.conditions = append(b.conditions, conds...) }
}

// Recognize installs the error classifier used by HandleError.
func Recognize(fn func(error) bool) Option { return func(b *Base) { b.recognize = fn } }

func NewBase(path string, opts ...Option) Base {
	b := Base{path: path}
	for _, opt := range opts {
		opt(&b)
	}
	if b.name == "" {
		b.name = b.path
	}
	return b
}

func (b *Base) Name() string            { return b.name }
func (b *Base) OutputPath() string      { return b.path }
func (b *Base) Category() Category      { return b.category }
func (b *Base) Conditions() []Condition { return b.conditions }

func (b *Base) HandleError(err error) bool {
	return b.recognize != nil && b.recognize(err)
}

func (b *Base) String() string {
	if b.description != "" {
		return b.description
	}
	return b.name
}

// WriteOutput writes the task's output through a fresh sink. With --continue
// and output already present, fn is not called and skipped is true.
// Content is committed only when fn succeeds.
func (b *Base) WriteOutput(ctx context.Context, rc RunContext, fn func(w io.Writer) error) (skipped bool, err error) {
	s, err := rc.NewSink(b.path)
	if err != nil {
		return false, fmt.Errorf("open sink %s: %w", b.path, err)
	}
	if args := rc.Arguments(); args != nil && args.Continue {
		exists, err := s.Exists()
		if err != nil {
			return false, fmt.Errorf("check %s: %w", b.path, err)
		}
		if exists {
			logging.FromContext(ctx).Info("output already exists, not extracting again", "task", b.name, "path", b.path)
			return true, nil
		}
	}
	w, err := s.Create()
	if err != nil {
		return false, fmt.Errorf("create %s: %w", b.path, err)
	}
	if err := fn(w); err != nil {
		w.Abort()
		return false, err
	}
	if err := w.Commit(); err != nil {
		return false, fmt.Errorf("commit %s: %w", b.path, err)
	}
	return false, nil
}

// FuncBody is the work of a Func task. w is nil when the task has no output.
type FuncBody func(ctx context.Context, rc RunContext, w io.Writer) (any, error)

// Func adapts a function into a task.
type Func struct {
	Base
	fn FuncBody
}

func NewFunc(path string, fn FuncBody, opts ...Option) *Func {
	return &Func{Base: NewBase(path, opts...), fn: fn}
}

func (f *Func) Run(ctx context.Context, rc RunContext) (any, error) {
	if f.path == "" {
		return f.fn(ctx, rc, nil)
	}
	var value any
	_, err := f.WriteOutput(ctx, rc, func(w io.Writer) error {
		v, err := f.fn(ctx, rc, w)
		value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}
