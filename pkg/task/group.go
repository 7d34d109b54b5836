package task

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parent is implemented by tasks that contain child tasks.
type Parent interface {
	Task
	Tasks() []Task
}

// IsGroup reports whether t contains children.
func IsGroup(t Task) bool {
	_, ok := t.(Parent)
	return ok
}

// CountLeaves counts the tasks in the tree that have no children.
func CountLeaves(tasks []Task) int {
	n := 0
	Walk(tasks, func(t Task, _ int) {
		if !IsGroup(t) {
			n++
		}
	})
	return n
}

// Walk visits the tree depth first, parents before children.
func Walk(tasks []Task, fn func(t Task, depth int)) {
	var walk func([]Task, int)
	walk = func(ts []Task, depth int) {
		for _, t := range ts {
			fn(t, depth)
			if p, ok := t.(Parent); ok {
				walk(p.Tasks(), depth+1)
			}
		}
	}
	walk(tasks, 0)
}

// ChildFailuresError reports the children of a group that failed.
type ChildFailuresError struct {
	Group  string
	Failed []string
}

func (e *ChildFailuresError) Error() string {
	noun := "tasks"
	if len(e.Failed) == 1 {
		noun = "task"
	}
	return fmt.Sprintf("group %s: %d %s failed: %s", e.Group, len(e.Failed), noun, strings.Join(e.Failed, ", "))
}

// Group runs its children in order. With an output path it writes a CSV
// manifest of each child's name and terminal state.
type Group struct {
	Base
	children []Task
}

func NewGroup(name string, children []Task, opts ...Option) *Group {
	opts = append([]Option{WithName(name)}, opts...)
	return &Group{Base: NewBase("", opts...), children: children}
}

func (g *Group) Tasks() []Task { return g.children }

func (g *Group) Run(ctx context.Context, rc RunContext) (any, error) {
	for _, child := range g.children {
		if _, err := rc.RunChild(ctx, child); err != nil {
			return nil, err
		}
	}
	var failed []string
	for _, child := range g.children {
		if rc.StateOf(child) == Failed {
			failed = append(failed, child.Name())
		}
	}
	if g.path != "" {
		if _, err := g.WriteOutput(ctx, rc, func(w io.Writer) error { return g.writeManifest(w, rc) }); err != nil {
			return nil, err
		}
	}
	if len(failed) > 0 {
		return nil, &ChildFailuresError{Group: g.name, Failed: failed}
	}
	return nil, nil
}

func (g *Group) writeManifest(w io.Writer, rc RunContext) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "state"}); err != nil {
		return err
	}
	for _, child := range g.children {
		if err := cw.Write([]string{child.Name(), rc.StateOf(child).String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// HandleError recognizes the group's own summary error; its children have
// already been reported individually.
func (g *Group) HandleError(err error) bool {
	var cf *ChildFailuresError
	if errors.As(err, &cf) && cf.Group == g.name {
		return true
	}
	return g.Base.HandleError(err)
}

func (g *Group) String() string {
	if g.description != "" {
		return g.description
	}
	return fmt.Sprintf("group %s (%d tasks)", g.name, len(g.children))
}
