// Package plan loads declarative extraction plans and builds them into task
// trees.
//
// A plan is a YAML document listing tasks in run order. Every entry has
// exactly one source (query, http, command, file, or nested tasks) and may be
// gated on the outcome of earlier entries.
package plan

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// APIVersion is the only supported plan format.
const APIVersion = "plan/v0"

// Plan is the top-level plan document.
type Plan struct {
	APIVersion  string            `yaml:"apiVersion"            json:"apiVersion"            jsonschema:"required,enum=plan/v0"`
	Name        string            `yaml:"name"                  json:"name"                  jsonschema:"required,minLength=1"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"        json:"vars,omitempty"`
	Tasks       []Entry           `yaml:"tasks"                 json:"tasks"                 jsonschema:"required,minItems=1"`
}

// Entry is one task of a plan.
type Entry struct {
	Name            string   `yaml:"name"                        json:"name"                        jsonschema:"required,pattern=^[A-Za-z0-9_.-]+$"`
	Description     string   `yaml:"description,omitempty"       json:"description,omitempty"`
	Output          string   `yaml:"output,omitempty"            json:"output,omitempty"`
	Optional        bool     `yaml:"optional,omitempty"          json:"optional,omitempty"`
	When            string   `yaml:"when,omitempty"              json:"when,omitempty"`
	OnlyIfSucceeded []string `yaml:"only_if_succeeded,omitempty" json:"only_if_succeeded,omitempty"`
	OnlyIfFailed    []string `yaml:"only_if_failed,omitempty"    json:"only_if_failed,omitempty"`
	ExpectedErrors  []string `yaml:"expected_errors,omitempty"   json:"expected_errors,omitempty"`

	Query   *Query   `yaml:"query,omitempty"   json:"query,omitempty"`
	HTTP    *HTTP    `yaml:"http,omitempty"    json:"http,omitempty"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty" jsonschema:"minItems=1"`
	File    string   `yaml:"file,omitempty"    json:"file,omitempty"`
	Tasks   []Entry  `yaml:"tasks,omitempty"   json:"tasks,omitempty"`
}

// Query is a SQL source.
type Query struct {
	SQL     string   `yaml:"sql"               json:"sql"               jsonschema:"required,minLength=1"`
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	// Collect names a column whose values later entries can fan out over.
	Collect string `yaml:"collect,omitempty" json:"collect,omitempty"`
	// ForEach names an earlier entry with collect; the query then runs once
	// per collected value, which is passed as $1.
	ForEach    string `yaml:"for_each,omitempty"    json:"for_each,omitempty"`
	ItemColumn string `yaml:"item_column,omitempty" json:"item_column,omitempty"`
}

// HTTP is a URL source.
type HTTP struct {
	URL     string            `yaml:"url"               json:"url"               jsonschema:"required,minLength=1"`
	Method  string            `yaml:"method,omitempty"  json:"method,omitempty"  jsonschema:"enum=GET,enum=POST,enum=HEAD"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// sources lists the sources set on e.
func (e *Entry) sources() []string {
	var out []string
	if e.Query != nil {
		out = append(out, "query")
	}
	if e.HTTP != nil {
		out = append(out, "http")
	}
	if len(e.Command) > 0 {
		out = append(out, "command")
	}
	if e.File != "" {
		out = append(out, "file")
	}
	if len(e.Tasks) > 0 {
		out = append(out, "tasks")
	}
	return out
}

// IsGroup reports whether the entry contains nested tasks.
func (e *Entry) IsGroup() bool { return len(e.Tasks) > 0 }

// LoadFile reads and structurally decodes a plan YAML.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a plan from a reader.
func Load(r io.Reader) (*Plan, error) {
	var p Plan
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &p, nil
}

// walkEntries visits entries depth first. pre runs before an entry's
// children and post after them.
func walkEntries(entries []Entry, path string, pre, post func(e *Entry, path string)) {
	for i := range entries {
		p := fmt.Sprintf("%s[%d]", path, i)
		pre(&entries[i], p)
		walkEntries(entries[i].Tasks, p+".tasks", pre, post)
		post(&entries[i], p)
	}
}
