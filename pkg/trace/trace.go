// Package trace implements the run's append-only JSONL event stream.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventTaskComplete EventType = "task_complete"
	EventProgress     EventType = "progress"
)

// TaskStatus is the terminal state of a task as written to the trace.
type TaskStatus string

const (
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a task failed.
type Failure struct {
	Kind    string `json:"kind"` // error, handled, usage, internal
	Message string `json:"message"`
}

// Writer writes trace events to an append-only JSONL stream. A nil *Writer
// discards every event.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	runID   string
	enc     *json.Encoder
	secrets []string
	now     func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:     w,
		runID: runID,
		enc:   json.NewEncoder(w),
		now:   time.Now,
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the identifier stamped on every event.
func (tw *Writer) RunID() string {
	if tw == nil {
		return ""
	}
	return tw.runID
}

// SetSecrets configures literal values to redact from trace output.
func (tw *Writer) SetSecrets(secrets []string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = nil
	for _, s := range secrets {
		if s != "" {
			tw.secrets = append(tw.secrets, s)
		}
	}
}

// RedactSecrets replaces secret values in a string with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	for _, secret := range tw.secrets {
		s = strings.ReplaceAll(s, secret, "<REDACTED>")
	}
	return s
}

// Close closes the underlying file, if the writer opened one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now().UTC(),
		RunID:     tw.runID,
		Data:      data,
	}
	return tw.enc.Encode(evt)
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(connector string, total int, arguments map[string]any) error {
	data := map[string]any{
		"connector": connector,
		"total":     total,
	}
	if arguments != nil {
		data["arguments"] = arguments
	}
	return tw.Emit(EventRunStart, data)
}

// EmitTaskComplete emits a task_complete event.
func (tw *Writer) EmitTaskComplete(name string, status TaskStatus, group bool, duration time.Duration, reason string, failure *Failure) error {
	if tw == nil {
		return nil
	}
	data := map[string]any{
		"task":     name,
		"status":   string(status),
		"duration": duration.String(),
	}
	if group {
		data["group"] = true
	}
	if reason != "" {
		data["reason"] = reason
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": tw.RedactSecrets(failure.Message),
		}
	}
	return tw.Emit(EventTaskComplete, data)
}

// EmitProgress emits a progress event.
func (tw *Writer) EmitProgress(completed, total, percent int, message string) error {
	return tw.Emit(EventProgress, map[string]any{
		"completed": completed,
		"total":     total,
		"percent":   percent,
		"message":   message,
	})
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(status string, counts map[string]int, failedRequired int, duration time.Duration) error {
	data := map[string]any{
		"status":          status,
		"failed_required": failedRequired,
		"duration":        duration.String(),
	}
	if counts != nil {
		data["counts"] = counts
	}
	return tw.Emit(EventRunComplete, data)
}

// Read parses a JSONL trace stream.
func Read(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB max line

	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	return events, scanner.Err()
}
