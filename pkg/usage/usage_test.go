package usage

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"message only", New("missing --connector"), "missing --connector"},
		{"with cause", Wrap(errors.New("boom"), "open plan"), "open plan: boom"},
		{"formatted", Newf("pool size %d out of range", 0), "pool size 0 out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAs_FindsWrappedUsageError(t *testing.T) {
	inner := New("column count mismatch", "expected: a, b")
	err := fmt.Errorf("query tables: %w", fmt.Errorf("transport: %w", inner))

	got, ok := As(err)
	if !ok {
		t.Fatal("As() = false, want true for wrapped usage error")
	}
	if got != inner {
		t.Errorf("As() returned %v, want the inner error", got)
	}
	if !Is(err) {
		t.Error("Is() = false, want true")
	}
}

func TestAs_PlainError(t *testing.T) {
	if Is(errors.New("connection refused")) {
		t.Error("Is() = true for a plain error")
	}
}

func TestFormat_MessageChain(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New("first", "second", "third"))
	if got, want := Format(err), "first\nsecond\nthird"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
	if got, want := Format(Wrap(errors.New("unknown flag: --nope"), "invalid flags")), "invalid flags: unknown flag: --nope"; got != want {
		t.Errorf("Format(wrapped) = %q, want %q", got, want)
	}
	if got := Format(errors.New("plain")); got != "plain" {
		t.Errorf("Format(plain) = %q", got)
	}
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q", got)
	}
}

type internalErr struct{}

func (internalErr) Error() string { return "internal" }
func (internalErr) ExitCode() int { return ExitInternal }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("x"), ExitFailure},
		{"usage", New("x"), ExitUsage},
		{"wrapped usage", fmt.Errorf("a: %w", New("x")), ExitUsage},
		{"custom exit coder", fmt.Errorf("a: %w", internalErr{}), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
