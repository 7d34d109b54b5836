package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/trace"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// clearEnv keeps DUMPER_* variables from the developer's shell out of tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{config.EnvConnector, config.EnvOutput, config.EnvURL, config.EnvPassword, config.EnvPlan, config.EnvTrace} {
		t.Setenv(key, "")
	}
}

func run(t *testing.T, argv ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(argv, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"a=1", "b=x=y", "c="})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"a": "1", "b": "x=y", "c": ""}, got); diff != "" {
		t.Errorf("vars (-want +got):\n%s", diff)
	}
	for _, bad := range []string{"novalue", "=1"} {
		if _, err := parseVars([]string{bad}); !usage.Is(err) {
			t.Errorf("parseVars(%q) = %v, want usage error", bad, err)
		}
	}
}

func TestRun_Plan(t *testing.T) {
	clearEnv(t)
	out := filepath.Join(t.TempDir(), "out")
	tracePath := filepath.Join(t.TempDir(), "trace.jsonl")
	code, stdout, stderr := run(t, "run", "--connector", "plan", "--plan", "testdata/echo.yaml",
		"--output", out, "--trace", tracePath, "--var", "who=tests")
	if code != 0 {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}

	b, err := os.ReadFile(filepath.Join(out, "hello.txt"))
	if err != nil || string(b) != "hello tests\n" {
		t.Errorf("hello.txt = %q, %v", b, err)
	}
	for _, name := range []string{"version.yaml", "arguments.yaml", "host/kernel.txt"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	for _, want := range []string{"* Task Summary:", "* SUCCEEDED (REQUIRED) hello", "* Succeeded: 4", "* Output has been saved to " + out} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "logger=progress") || !strings.Contains(stderr, "100% Completed") {
		t.Errorf("progress not logged:\n%s", stderr)
	}

	f, err := os.Open(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events, err := trace.Read(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || events[0].Type != trace.EventRunStart || events[len(events)-1].Type != trace.EventRunComplete {
		t.Errorf("unexpected trace: %+v", events)
	}
}

func TestRun_ZipAndContinue(t *testing.T) {
	clearEnv(t)
	out := filepath.Join(t.TempDir(), "dump.zip")
	if code, stdout, stderr := run(t, "run", "--connector", "plan", "--plan", "testdata/echo.yaml", "--output", out); code != 0 {
		t.Fatalf("first run exit %d\n%s\n%s", code, stdout, stderr)
	}
	code, stdout, stderr := run(t, "run", "--connector", "plan", "--plan", "testdata/echo.yaml", "--output", out, "--continue")
	if code != 0 {
		t.Fatalf("continue run exit %d\n%s\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stderr, "already exists") {
		t.Errorf("continue should skip existing output:\n%s", stderr)
	}
}

func TestRun_RequiredFailure(t *testing.T) {
	clearEnv(t)
	out := filepath.Join(t.TempDir(), "out")
	code, stdout, stderr := run(t, "run", "--connector", "plan", "--plan", "testdata/failing.yaml", "--output", out)
	if code != usage.ExitFailure {
		t.Fatalf("exit %d, want %d\n%s\n%s", code, usage.ExitFailure, stdout, stderr)
	}
	for _, want := range []string{"* ERROR: 1 required task failed.", "* FAILED    (OPTIONAL) optional"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "Error: 1 required task failed") {
		t.Errorf("stderr:\n%s", stderr)
	}
	diag, err := os.ReadFile(filepath.Join(out, "broken.txt.exception.txt"))
	if err != nil || !strings.Contains(string(diag), "no such table") {
		t.Errorf("diagnostic = %q, %v", diag, err)
	}
}

func TestRun_DryRun(t *testing.T) {
	clearEnv(t)
	code, stdout, stderr := run(t, "run", "--connector", "plan", "--plan", "testdata/echo.yaml", "--dry-run")
	if code != 0 {
		t.Fatalf("exit %d\n%s", code, stderr)
	}
	for _, want := range []string{"# Dry run: plan", "- **hello** → `hello.txt`", "  - **kernel**", "4 tasks to run."} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRun_UsageErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		argv []string
		want string
	}{
		{"no connector", []string{"run", "--output", "x"}, "--connector is required"},
		{"unknown connector", []string{"run", "--connector", "oracle", "--dry-run"}, `unknown connector "oracle"`},
		{"plan without file", []string{"run", "--connector", "plan", "--dry-run"}, "needs a plan file"},
		{"bad pool size", []string{"run", "--connector", "plan", "--dry-run", "--pool-size", "0"}, "--pool-size must be at least 1"},
		{"bad var", []string{"run", "--connector", "plan", "--dry-run", "--var", "x"}, "expected key=value"},
		{"unknown flag", []string{"run", "--nope"}, "invalid flags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(t, tt.argv...)
			if code != usage.ExitUsage {
				t.Errorf("exit %d, want %d", code, usage.ExitUsage)
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr missing %q:\n%s", tt.want, stderr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	code, stdout, _ := run(t, "validate", "testdata/echo.yaml")
	if code != 0 || !strings.Contains(stdout, "✓ echo is valid (2 tasks)") {
		t.Errorf("exit %d, stdout %q", code, stdout)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("apiVersion: plan/v0\nname: bad\ntasks:\n  - name: a\n    output: a.txt\n    command: [\"echo\", \"${missing}\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := run(t, "validate", bad)
	if code != usage.ExitUsage || !strings.Contains(stderr, `undefined variable "missing"`) {
		t.Errorf("exit %d, stderr:\n%s", code, stderr)
	}
	if code, _, _ := run(t, "validate", bad, "--var", "missing=1"); code != 0 {
		t.Errorf("--var should satisfy the reference, exit %d", code)
	}
}

func TestSchemaConnectorsVersion(t *testing.T) {
	if code, stdout, _ := run(t, "schema"); code != 0 || !strings.Contains(stdout, `"plan/v0"`) {
		t.Errorf("schema: exit %d", code)
	}
	if code, stdout, _ := run(t, "connectors"); code != 0 || !strings.Contains(stdout, "postgresql") {
		t.Errorf("connectors: exit %d\n%s", code, stdout)
	}
	if code, stdout, _ := run(t, "version"); code != 0 || !strings.HasPrefix(stdout, "dumper dev") {
		t.Errorf("version: exit %d %q", code, stdout)
	}
}
