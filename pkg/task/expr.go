package task

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprCondition evaluates an expr-lang boolean expression over run state.
//
// Available in the expression:
//
//	succeeded("name"), failed("name"), skipped("name")  bool
//	state("name")                                       "SUCCEEDED", "NOT_STARTED", ...
//	vars                                                map of --var values
//
// A name that is not part of the run reads as NOT_STARTED.
type ExprCondition struct {
	src     string
	vars    map[string]string
	program *vm.Program
}

// NewExprCondition compiles src. Compilation errors are returned here so
// plans fail validation instead of silently skipping.
func NewExprCondition(src string, vars map[string]string) (*ExprCondition, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty condition")
	}
	if vars == nil {
		vars = map[string]string{}
	}
	program, err := expr.Compile(src, expr.Env(exprEnv(noState{}, vars)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return &ExprCondition{src: src, vars: vars, program: program}, nil
}

// Evaluate runs the expression. A runtime error counts as false.
func (c *ExprCondition) Evaluate(s StateReader) bool {
	out, err := expr.Run(c.program, exprEnv(s, c.vars))
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

func (c *ExprCondition) SkipReason() string {
	return fmt.Sprintf("condition `%s` was not true", c.src)
}

func (c *ExprCondition) String() string { return c.src }

func exprEnv(s StateReader, vars map[string]string) map[string]any {
	stateOf := func(name string) State {
		st, ok := s.Lookup(name)
		if !ok {
			return NotStarted
		}
		return st
	}
	return map[string]any{
		"succeeded": func(name string) bool { return stateOf(name) == Succeeded },
		"failed":    func(name string) bool { return stateOf(name) == Failed },
		"skipped":   func(name string) bool { return stateOf(name) == Skipped },
		"state":     func(name string) string { return stateOf(name).String() },
		"vars":      vars,
	}
}

// noState backs compilation, where no function is ever called.
type noState struct{}

func (noState) StateOf(Task) State          { return NotStarted }
func (noState) Lookup(string) (State, bool) { return NotStarted, false }
