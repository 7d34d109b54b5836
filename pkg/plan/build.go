package plan

import (
	"github.com/ormasoftchile/dumper/pkg/extract"
	"github.com/ormasoftchile/dumper/pkg/task"
)

// Build validates p and turns it into a task tree. vars override the
// plan's own defaults. Validation problems are returned as one usage error.
func Build(p *Plan, vars map[string]string) ([]task.Task, error) {
	if err := AsError(ValidateDomain(p, vars)); err != nil {
		return nil, err
	}
	b := &builder{vars: mergeVars(p, vars), byName: map[string]task.Task{}}
	return b.entries(p.Tasks)
}

type builder struct {
	vars   map[string]string
	byName map[string]task.Task
}

func (b *builder) entries(entries []Entry) ([]task.Task, error) {
	out := make([]task.Task, 0, len(entries))
	for i := range entries {
		t, err := b.entry(&entries[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *builder) entry(e *Entry) (task.Task, error) {
	opts, err := b.options(e)
	if err != nil {
		return nil, err
	}

	// t is registered after its children, matching validation.
	var t task.Task
	switch {
	case e.IsGroup():
		children, err := b.entries(e.Tasks)
		if err != nil {
			return nil, err
		}
		if e.Output != "" {
			opts = append(opts, task.WithOutput(e.Output))
		}
		t = task.NewGroup(e.Name, children, opts...)
	case e.Query != nil && e.Query.ForEach != "":
		t = extract.NewFanOutQuery(e.Output, extract.FanOutSpec{
			SQL:        b.expand(e.Query.SQL),
			Columns:    e.Query.Columns,
			ItemColumn: e.Query.ItemColumn,
			Source:     b.byName[e.Query.ForEach],
		}, opts...)
	case e.Query != nil:
		t = extract.NewQuery(e.Output, extract.QuerySpec{
			SQL:     b.expand(e.Query.SQL),
			Columns: e.Query.Columns,
			Collect: e.Query.Collect,
		}, opts...)
	case e.HTTP != nil:
		headers := make(map[string]string, len(e.HTTP.Headers))
		for k, v := range e.HTTP.Headers {
			headers[k] = b.expand(v)
		}
		t = extract.NewHTTP(e.Output, extract.HTTPSpec{
			URL:     b.expand(e.HTTP.URL),
			Method:  e.HTTP.Method,
			Headers: headers,
		}, opts...)
	case len(e.Command) > 0:
		argv := make([]string, len(e.Command))
		for i, arg := range e.Command {
			argv[i] = b.expand(arg)
		}
		t = extract.NewCommand(e.Output, argv, opts...)
	default:
		t = extract.NewFile(e.Output, b.expand(e.File), opts...)
	}
	b.byName[e.Name] = t
	return t, nil
}

func (b *builder) options(e *Entry) ([]task.Option, error) {
	opts := []task.Option{task.WithName(e.Name)}
	if e.Description != "" {
		opts = append(opts, task.Describe(e.Description))
	}
	if e.Optional {
		opts = append(opts, task.AsOptional())
	}
	for _, name := range e.OnlyIfSucceeded {
		opts = append(opts, task.When(task.OnlyIfSucceeded(b.byName[name])))
	}
	if len(e.OnlyIfFailed) > 0 {
		deps := make([]task.Task, len(e.OnlyIfFailed))
		for i, name := range e.OnlyIfFailed {
			deps[i] = b.byName[name]
		}
		opts = append(opts, task.When(task.OnlyIfAllFailed(deps...)))
	}
	if e.When != "" {
		cond, err := task.NewExprCondition(e.When, b.vars)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.When(cond))
	}
	if len(e.ExpectedErrors) > 0 {
		recognize, err := extract.MatchingErrors(e.ExpectedErrors)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.Recognize(recognize))
	}
	return opts, nil
}

func (b *builder) expand(s string) string { return expand(s, b.vars) }
