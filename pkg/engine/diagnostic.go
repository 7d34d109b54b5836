package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ormasoftchile/dumper/pkg/logging"
	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/task"
)

// DiagnosticSuffix is appended to a task's output path to name its
// diagnostic artifact.
const DiagnosticSuffix = sink.DiagnosticSuffix

// DiagnosticSeparator follows the task description in a diagnostic artifact.
const DiagnosticSeparator = "******************************"

// DiagnosticPath returns where the diagnostic of t is written.
func DiagnosticPath(t task.Task) string {
	base := t.OutputPath()
	if base == "" {
		base = t.Name()
	}
	return base + DiagnosticSuffix
}

// writeDiagnostic records a failure next to the task's output. Errors are
// logged and never returned.
func (r *Runner) writeDiagnostic(ctx context.Context, t task.Task, cause error) {
	log := logging.FromContext(ctx)
	path := DiagnosticPath(t)
	s, err := r.sinks.NewSink(path)
	if err == nil {
		err = sink.WriteAll(s, []byte(r.diagnostic(t, cause)))
	}
	if err != nil {
		log.Warn("could not write diagnostic", "task", t.Name(), "path", path, "error", err)
	}
}

func (r *Runner) diagnostic(t task.Task, cause error) string {
	var b strings.Builder
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(DiagnosticSeparator)
	b.WriteString("\n")

	b.WriteString("Error chain:\n")
	for i, err := range errorChain(cause) {
		fmt.Fprintf(&b, "  %d. %T: %v\n", i, err, err)
	}

	b.WriteString("\nEnvironment:\n")
	fmt.Fprintf(&b, "  task: %s\n", t.Name())
	fmt.Fprintf(&b, "  category: %s\n", t.Category())
	fmt.Fprintf(&b, "  output: %s\n", t.OutputPath())
	if args := r.args; args != nil && args.Connector != "" {
		fmt.Fprintf(&b, "  connector: %s\n", args.Connector)
	}
	fmt.Fprintf(&b, "  go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "  time: %s\n", r.now().UTC().Format(time.RFC3339))
	return b.String()
}

// errorChain flattens err and everything it wraps, depth first.
func errorChain(err error) []error {
	var out []error
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e)
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(e))
		}
	}
	walk(err)
	return out
}
