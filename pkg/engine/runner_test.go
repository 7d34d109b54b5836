package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/dumper/pkg/logging"
	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/task"
	"github.com/ormasoftchile/dumper/pkg/trace"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// scripted is a leaf task with a canned result.
type scripted struct {
	task.Base
	runs    int
	value   any
	err     error
	handled bool
	run     func(ctx context.Context, rc task.RunContext) (any, error)
}

func leaf(name string, opts ...task.Option) *scripted {
	opts = append([]task.Option{task.WithName(name)}, opts...)
	return &scripted{Base: task.NewBase(name+".csv", opts...)}
}

func (s *scripted) Run(ctx context.Context, rc task.RunContext) (any, error) {
	s.runs++
	if s.run != nil {
		return s.run(ctx, rc)
	}
	return s.value, s.err
}

func (s *scripted) HandleError(error) bool { return s.handled }

func (s *scripted) String() string { return "scripted task " + s.Name() }

func testContext(buf *bytes.Buffer) context.Context {
	l := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logging.WithLogger(context.Background(), l)
}

func warnLines(buf *bytes.Buffer) []string {
	var out []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "level=WARN") {
			out = append(out, line)
		}
	}
	return out
}

func TestRun_FailedRequiredSkipsDependent(t *testing.T) {
	var logs bytes.Buffer
	mem := sink.NewMemory()
	u1 := leaf("u1")
	u1.err = errors.New("boom")
	u2 := leaf("u2", task.AsOptional(), task.When(task.OnlyIfSucceeded(u1)))
	u3 := leaf("u3")

	r := New([]task.Task{u1, u2, u3}, RunConfig{Sinks: mem})
	res := r.Run(testContext(&logs))

	want := []Summary{
		{Name: "u1", Category: task.Required, State: task.Failed, Err: "boom"},
		{Name: "u2", Category: task.Optional, State: task.Skipped, Reason: "state of u1 was not SUCCEEDED"},
		{Name: "u3", Category: task.Required, State: task.Succeeded},
	}
	if diff := cmp.Diff(want, res.Summaries); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
	if u2.runs != 0 || u3.runs != 1 {
		t.Errorf("runs: u2=%d u3=%d", u2.runs, u3.runs)
	}
	if res.Succeeded() || res.Status != StatusFailed || res.FailedRequired != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Error != nil {
		t.Errorf("unexpected fatal error %v", res.Error)
	}
	if got := warnLines(&logs); len(got) != 1 || !strings.Contains(got[0], "task=u1") {
		t.Errorf("warnings = %q", got)
	}
	diag, ok := mem.Get("u1.csv.exception.txt")
	if !ok {
		t.Fatal("diagnostic not written")
	}
	lines := strings.Split(string(diag), "\n")
	if lines[0] != "scripted task u1" || lines[1] != DiagnosticSeparator {
		t.Errorf("diagnostic header = %q", lines[:2])
	}
	if !strings.Contains(string(diag), "boom") {
		t.Errorf("diagnostic lacks the error: %s", diag)
	}
}

func TestRun_OptionalFailureStillSucceeds(t *testing.T) {
	u1 := leaf("u1", task.AsOptional())
	u1.err = errors.New("not available")
	res := New([]task.Task{u1, leaf("u2")}, RunConfig{}).Run(context.Background())
	if !res.Succeeded() || res.Status != StatusSucceeded {
		t.Errorf("result = %+v", res)
	}
	want := []StateCount{{State: task.Succeeded, Count: 1}, {State: task.Failed, Count: 1}}
	if diff := cmp.Diff(want, res.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_GroupCountsOnlyLeaves(t *testing.T) {
	a, b := leaf("a"), leaf("b")
	g := task.NewGroup("g", []task.Task{a, b})
	r := New([]task.Task{g}, RunConfig{})
	if r.Progress().Total() != 2 {
		t.Fatalf("total = %d, want 2", r.Progress().Total())
	}
	res := r.Run(context.Background())

	if r.Progress().Completed() != 2 || r.Progress().Percent() != 100 {
		t.Errorf("progress = %d/%d", r.Progress().Completed(), r.Progress().Total())
	}
	want := []Summary{
		{Name: "a", Category: task.Required, State: task.Succeeded},
		{Name: "b", Category: task.Required, State: task.Succeeded},
		{Name: "g", Category: task.Required, State: task.Succeeded, Group: true},
	}
	if diff := cmp.Diff(want, res.Summaries); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]StateCount{{State: task.Succeeded, Count: 2}}, res.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_GroupWithFailedChild(t *testing.T) {
	var logs bytes.Buffer
	a, b := leaf("a"), leaf("b")
	a.err = errors.New("denied")
	g := task.NewGroup("g", []task.Task{a, b})
	res := New([]task.Task{g}, RunConfig{}).Run(testContext(&logs))

	if got := res.Summaries[2]; got.State != task.Failed || !got.Group {
		t.Errorf("group summary = %+v", got)
	}
	if res.FailedRequired != 1 {
		t.Errorf("FailedRequired = %d, want 1 (groups excluded)", res.FailedRequired)
	}
	warnings := warnLines(&logs)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "task=a") {
		t.Errorf("warnings = %q, want only the child's", warnings)
	}
}

func TestRun_UsageErrorAborts(t *testing.T) {
	mem := sink.NewMemory()
	tasks := make([]*scripted, 5)
	list := make([]task.Task, 5)
	for i := range tasks {
		tasks[i] = leaf(fmt.Sprintf("u%d", i+1))
		list[i] = tasks[i]
	}
	tasks[0].err = errors.New("ordinary")
	tasks[2].err = fmt.Errorf("query failed: %w", usage.New("column count mismatch"))

	r := New(list, RunConfig{Sinks: mem})
	res := r.Run(context.Background())

	if !usage.Is(res.Error) || res.Status != StatusAborted || res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	wantStates := []task.State{task.Failed, task.Succeeded, task.Failed, task.NotStarted, task.NotStarted}
	for i, want := range wantStates {
		if got := r.State().StateOf(list[i]); got != want {
			t.Errorf("u%d state = %s, want %s", i+1, got, want)
		}
	}
	if tasks[3].runs+tasks[4].runs != 0 {
		t.Error("tasks after the usage error ran")
	}
	if _, ok := mem.Get("u3.csv.exception.txt"); ok {
		t.Error("diagnostic written for a fatal error")
	}
	if _, ok := mem.Get("u1.csv.exception.txt"); !ok {
		t.Error("diagnostic missing for the ordinary failure")
	}
	if got := usage.ExitCode(res.Error); got != usage.ExitUsage {
		t.Errorf("exit code = %d", got)
	}
}

func TestRun_OptionalUsageErrorStillAborts(t *testing.T) {
	u := leaf("settings", task.AsOptional())
	u.err = usage.New("missing --url")
	res := New([]task.Task{u, leaf("after")}, RunConfig{}).Run(context.Background())
	if res.FailedRequired != 0 || res.Status != StatusAborted || res.Succeeded() {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_UsageErrorInsideGroupAborts(t *testing.T) {
	inner := leaf("inner")
	inner.err = usage.New("missing --url")
	after := leaf("after")
	g := task.NewGroup("g", []task.Task{inner, leaf("sibling")})
	r := New([]task.Task{g, after}, RunConfig{})
	res := r.Run(context.Background())
	if !usage.Is(res.Error) {
		t.Fatalf("Error = %v", res.Error)
	}
	if r.State().StateOf(g) != task.Failed || after.runs != 0 {
		t.Errorf("group state %s, after ran %d", r.State().StateOf(g), after.runs)
	}
}

func TestRun_HandledErrorIsQuietButRecorded(t *testing.T) {
	var logs bytes.Buffer
	mem := sink.NewMemory()
	u := leaf("stats", task.AsOptional())
	u.err = errors.New("permission denied for pg_stat_statements")
	u.handled = true

	res := New([]task.Task{u}, RunConfig{Sinks: mem}).Run(testContext(&logs))

	if res.Summaries[0].State != task.Failed {
		t.Errorf("state = %s, want FAILED", res.Summaries[0].State)
	}
	if w := warnLines(&logs); len(w) != 0 {
		t.Errorf("unexpected warnings: %q", w)
	}
	if _, ok := mem.Get("stats.csv.exception.txt"); !ok {
		t.Error("diagnostic not written for handled error")
	}
}

func TestRun_DiagnosticWriteFailureIsSwallowed(t *testing.T) {
	var logs bytes.Buffer
	mem := sink.NewMemory()
	mem.FailCreate = func(p string) bool { return strings.HasSuffix(p, DiagnosticSuffix) }
	u1 := leaf("u1")
	u1.err = errors.New("boom")
	u2 := leaf("u2")

	r := New([]task.Task{u1, u2}, RunConfig{Sinks: mem})
	res := r.Run(testContext(&logs))

	if res.Error != nil {
		t.Fatalf("diagnostic failure escalated: %v", res.Error)
	}
	if got := r.State().OutcomeOf(u1); got.State != task.Failed || got.Err.Error() != "boom" {
		t.Errorf("u1 outcome = %+v", got)
	}
	if u2.runs != 1 {
		t.Error("run did not continue")
	}
	if !strings.Contains(logs.String(), "could not write diagnostic") {
		t.Errorf("missing diagnostic warning in %q", logs.String())
	}
}

func TestRun_ConditionsShortCircuit(t *testing.T) {
	first := &countingCondition{result: false, reason: "first said no"}
	second := &countingCondition{result: true}
	u := leaf("u", task.When(first, second))
	res := New([]task.Task{u}, RunConfig{}).Run(context.Background())

	if first.calls != 1 || second.calls != 0 {
		t.Errorf("evaluations: first=%d second=%d", first.calls, second.calls)
	}
	if u.runs != 0 {
		t.Error("skipped task ran")
	}
	if got := res.Summaries[0]; got.State != task.Skipped || got.Reason != "first said no" {
		t.Errorf("summary = %+v", got)
	}
}

type countingCondition struct {
	calls  int
	result bool
	reason string
}

func (c *countingCondition) Evaluate(task.StateReader) bool {
	c.calls++
	return c.result
}

func (c *countingCondition) SkipReason() string { return c.reason }

func TestExecute_TwiceIsInvariantViolation(t *testing.T) {
	u := leaf("u")
	r := New([]task.Task{u}, RunConfig{})
	ctx := context.Background()

	if res := r.execute(ctx, u); res.kind != resultSucceeded {
		t.Fatalf("first execute = %+v", res)
	}
	res := r.execute(ctx, u)
	var ie *InvariantError
	if res.kind != resultInvariant || !errors.As(res.err, &ie) {
		t.Fatalf("second execute = %+v", res)
	}
	if ie.Task != "u" || ie.State != task.Succeeded {
		t.Errorf("InvariantError = %+v", ie)
	}
	if u.runs != 1 {
		t.Errorf("runs = %d, want 1", u.runs)
	}
}

func TestRun_DuplicateTaskAbortsAsInternal(t *testing.T) {
	u := leaf("u")
	after := leaf("after")
	res := New([]task.Task{u, u, after}, RunConfig{}).Run(context.Background())
	if usage.ExitCode(res.Error) != usage.ExitInternal {
		t.Fatalf("Error = %v", res.Error)
	}
	if usage.Is(res.Error) {
		t.Error("invariant violation classified as usage error")
	}
	if after.runs != 0 || u.runs != 1 {
		t.Errorf("runs: u=%d after=%d", u.runs, after.runs)
	}
}

func TestRun_ValuesFlowToLaterTasks(t *testing.T) {
	producer := leaf("schemata")
	producer.value = []string{"public", "sales"}
	var seen []string
	consumer := leaf("tables", task.When(task.OnlyIfSucceeded(producer)))
	consumer.run = func(_ context.Context, rc task.RunContext) (any, error) {
		seen, _ = task.ValueOf[[]string](rc, producer)
		return nil, nil
	}
	New([]task.Task{producer, consumer}, RunConfig{}).Run(context.Background())
	if diff := cmp.Diff([]string{"public", "sales"}, seen); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ProgressLinesAndETA(t *testing.T) {
	var logs bytes.Buffer
	list := make([]task.Task, 12)
	for i := range list {
		list[i] = leaf(fmt.Sprintf("t%02d", i))
	}
	New(list, RunConfig{}).Run(testContext(&logs))

	var progress []string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "logger=progress") {
			progress = append(progress, line)
		}
	}
	if len(progress) != 12 {
		t.Fatalf("progress lines = %d, want 12", len(progress))
	}
	for i, line := range progress {
		hasETA := strings.Contains(line, "ETA: ~")
		if wantETA := i == 10; hasETA != wantETA {
			t.Errorf("line %d ETA=%v: %s", i+1, hasETA, line)
		}
	}
	if !strings.Contains(progress[11], "100% Completed") {
		t.Errorf("last progress line = %s", progress[11])
	}
}

func TestRun_Trace(t *testing.T) {
	var buf bytes.Buffer
	tw := trace.NewWriter(&buf, "run-1")
	a := leaf("a")
	b := leaf("b", task.When(task.OnlyIfFailed(a)))
	New([]task.Task{task.NewGroup("g", []task.Task{a, b})}, RunConfig{Trace: tw}).Run(context.Background())

	events, err := trace.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range events {
		s := string(e.Type)
		if e.Type == trace.EventTaskComplete {
			s += ":" + e.Data["task"].(string) + ":" + e.Data["status"].(string)
		}
		got = append(got, s)
	}
	want := []string{
		"run_start",
		"task_complete:a:succeeded", "progress",
		"task_complete:b:skipped", "progress",
		"task_complete:g:succeeded",
		"run_complete",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorChain(t *testing.T) {
	base := errors.New("root")
	wrapped := fmt.Errorf("mid: %w", base)
	joined := errors.Join(wrapped, errors.New("other"))
	got := errorChain(joined)
	if len(got) != 4 || got[1] != wrapped || got[2] != base {
		t.Errorf("errorChain = %v", got)
	}
}
