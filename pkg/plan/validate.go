package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // location in the plan (e.g., "tasks[2].query.sql")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// AsError folds validation errors into a single usage error, or nil.
func AsError(errs []*ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, e.Error())
	}
	return usage.New("invalid plan", details...)
}

// ValidateFile runs the 3-phase validation pipeline on a plan file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (references, sources, expressions)
// vars override the plan's own defaults when checking variable references.
func ValidateFile(path string, vars map[string]string) (*Plan, []*ValidationError) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return p, Validate(p, vars)
}

// Validate runs the semantic and domain phases on a decoded plan.
func Validate(p *Plan, vars map[string]string) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(p)...)
	all = append(all, ValidateDomain(p, vars)...)
	if len(all) == 0 {
		return nil
	}
	return all
}

func semanticError(format string, args ...any) []*ValidationError {
	return []*ValidationError{{
		Phase:    "semantic",
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}}
}

// validateSemantic validates the plan against the generated JSON Schema.
func validateSemantic(p *Plan) []*ValidationError {
	data, err := json.Marshal(p)
	if err != nil {
		return semanticError("marshal for schema validation: %v", err)
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticError("generate schema: %v", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticError("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("plan-v0.json", schemaDoc); err != nil {
		return semanticError("add schema resource: %v", err)
	}
	sch, err := c.Compile("plan-v0.json")
	if err != nil {
		return semanticError("compile schema: %v", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticError("unmarshal document: %v", err)
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return semanticError("%v", err)
	}
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Phase:    "semantic",
			Path:     strings.Join(cause.InstanceLocation, "/"),
			Message:  fmt.Sprintf("%v", cause.ErrorKind),
			Severity: "error",
		})
	}
	return errs
}

// flattenValidationErrors returns the leaf causes of a schema error.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// references returns the variable names used in s.
func references(s string) []string {
	var names []string
	for _, m := range varRef.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}

// mergeVars returns the plan defaults overlaid with overrides.
func mergeVars(p *Plan, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(p.Vars)+len(overrides))
	for k, v := range p.Vars {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(p *Plan, vars map[string]string) []*ValidationError {
	var errs []*ValidationError
	add := func(path, format string, args ...any) {
		errs = append(errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	if p.APIVersion != APIVersion {
		add("apiVersion", "unrecognized apiVersion %q, expected %q", p.APIVersion, APIVersion)
	}
	if len(p.Tasks) == 0 {
		add("tasks", "plan has no tasks")
	}

	merged := mergeVars(p, vars)
	seen := map[string]*Entry{}
	outputs := map[string]string{}

	// Entries become visible to later ones only once their children are
	// done, so nothing can depend on an enclosing group.
	walkEntries(p.Tasks, "tasks", func(e *Entry, path string) {
		switch srcs := e.sources(); len(srcs) {
		case 0:
			add(path, "task %q has no source; set one of query, http, command, file, tasks", e.Name)
		case 1:
		default:
			add(path, "task %q has %d sources (%s); exactly one is allowed", e.Name, len(srcs), strings.Join(srcs, ", "))
		}

		if !e.IsGroup() && e.Output == "" {
			add(path+".output", "task %q needs an output path", e.Name)
		}
		if e.Output != "" {
			if prev, dup := outputs[e.Output]; dup {
				add(path+".output", "output %q is already written by task %q", e.Output, prev)
			} else {
				outputs[e.Output] = e.Name
			}
		}

		checkRefs := func(field string, names []string) {
			for i, name := range names {
				if _, ok := seen[name]; !ok {
					add(fmt.Sprintf("%s.%s[%d]", path, field, i), "task %q must refer to an earlier task, got %q", e.Name, name)
				}
			}
		}
		checkRefs("only_if_succeeded", e.OnlyIfSucceeded)
		checkRefs("only_if_failed", e.OnlyIfFailed)

		if e.When != "" {
			if _, err := task.NewExprCondition(e.When, merged); err != nil {
				add(path+".when", "%v", err)
			}
		}
		for i, pattern := range e.ExpectedErrors {
			if _, err := regexp.Compile(pattern); err != nil {
				add(fmt.Sprintf("%s.expected_errors[%d]", path, i), "invalid pattern %q: %v", pattern, err)
			}
		}

		if q := e.Query; q != nil {
			if q.ForEach != "" {
				src, ok := seen[q.ForEach]
				switch {
				case !ok:
					add(path+".query.for_each", "task %q must refer to an earlier task, got %q", e.Name, q.ForEach)
				case src.Query == nil || src.Query.Collect == "":
					add(path+".query.for_each", "task %q does not collect values", q.ForEach)
				}
			}
			if q.Collect != "" && len(q.Columns) > 0 && !slices.ContainsFunc(q.Columns, func(c string) bool { return strings.EqualFold(c, q.Collect) }) {
				add(path+".query.collect", "collect column %q is not among the declared columns", q.Collect)
			}
		}

		for _, field := range entryTemplates(e) {
			for _, name := range references(field.value) {
				if _, ok := merged[name]; !ok {
					add(path+"."+field.path, "undefined variable %q", name)
				}
			}
		}
	}, func(e *Entry, path string) {
		if e.Name == "" {
			return
		}
		if _, dup := seen[e.Name]; dup {
			add(path+".name", "duplicate task name %q", e.Name)
			return
		}
		seen[e.Name] = e
	})
	return errs
}

type templateField struct {
	path  string
	value string
}

// entryTemplates lists the fields of e that are subject to ${var} expansion.
func entryTemplates(e *Entry) []templateField {
	var out []templateField
	if e.Query != nil {
		out = append(out, templateField{"query.sql", e.Query.SQL})
	}
	if e.HTTP != nil {
		out = append(out, templateField{"http.url", e.HTTP.URL})
		keys := make([]string, 0, len(e.HTTP.Headers))
		for k := range e.HTTP.Headers {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			out = append(out, templateField{"http.headers." + k, e.HTTP.Headers[k]})
		}
	}
	for i, arg := range e.Command {
		out = append(out, templateField{fmt.Sprintf("command[%d]", i), arg})
	}
	if e.File != "" {
		out = append(out, templateField{"file", e.File})
	}
	return out
}

// expand substitutes ${name} references from vars.
func expand(s string, vars map[string]string) string {
	return varRef.ReplaceAllStringFunc(s, func(m string) string {
		return vars[varRef.FindStringSubmatch(m)[1]]
	})
}
