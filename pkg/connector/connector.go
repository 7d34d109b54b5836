// Package connector defines the Connector interface, the registry of
// available connectors, and the handle units use to reach external systems.
package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/extract"
	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Connector knows how to reach one kind of external system and which units
// to run against it.
type Connector interface {
	Name() string
	Description() string

	// Validate checks connector-specific arguments.
	// MUST NOT perform side effects. Problems are usage errors.
	Validate(args *config.Arguments) error

	// Open connects to the external system. The returned handle is passed
	// to every unit as the run's handle and closed after the run.
	Open(ctx context.Context, args *config.Arguments) (*Handle, error)

	// Tasks returns the connector's units in run order.
	// MUST NOT contact the external system, so dry runs stay offline.
	Tasks(args *config.Arguments) ([]task.Task, error)
}

// Registry maps connector names to connectors.
type Registry struct {
	byName map[string]Connector
}

func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{byName: map[string]Connector{}}
	for _, c := range cs {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any connector with the same name.
func (r *Registry) Register(c Connector) { r.byName[c.Name()] = c }

// Get returns the named connector or a usage error listing the known ones.
func (r *Registry) Get(name string) (Connector, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	return nil, usage.New(fmt.Sprintf("unknown connector %q", name), "available connectors: "+strings.Join(r.Names(), ", "))
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All returns the registered connectors sorted by name.
func (r *Registry) All() []Connector {
	out := make([]Connector, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name])
	}
	return out
}

// Default returns a registry with the built-in connectors.
func Default() *Registry {
	return NewRegistry(&PostgreSQL{}, &Plan{})
}

// Tasks returns c's units preceded by the version and arguments records.
func Tasks(c Connector, args *config.Arguments, version string, now func() time.Time) ([]task.Task, error) {
	tasks, err := c.Tasks(args)
	if err != nil {
		return nil, err
	}
	return append([]task.Task{extract.NewVersion(version, now), extract.NewArguments()}, tasks...), nil
}
