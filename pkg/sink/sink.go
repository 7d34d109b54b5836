// Package sink provides path-addressed output destinations for extracted data.
//
// A Factory hands out one Sink per relative path. Writing goes through a
// Writer whose content only becomes visible on Commit, so a unit that fails
// midway never leaves partial output behind.
package sink

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Sink is a single named output destination.
type Sink interface {
	// Path is the destination's path relative to its factory root.
	Path() string
	// Exists reports whether committed content is already present.
	Exists() (bool, error)
	// Create opens the destination for writing, replacing prior content on
	// Commit. Committing also removes a diagnostic an earlier run left for the
	// same path.
	Create() (Writer, error)
}

// DiagnosticSuffix is appended to an output path to name the diagnostic
// written when producing that output failed.
const DiagnosticSuffix = ".exception.txt"

// staleDiagnostic returns the diagnostic path that committing p supersedes.
func staleDiagnostic(p string) (string, bool) {
	if strings.HasSuffix(p, DiagnosticSuffix) {
		return "", false
	}
	return p + DiagnosticSuffix, true
}

// Writer receives the content of a sink.
type Writer interface {
	io.Writer
	// Commit publishes everything written so far.
	Commit() error
	// Abort discards everything written so far. Safe to call after Commit.
	Abort()
}

// Factory creates sinks rooted at a single output location.
type Factory interface {
	NewSink(path string) (Sink, error)
	// Close finalizes the output location (e.g. writes the zip directory).
	Close() error
	String() string
}

// WriteAll creates s, writes data and commits it.
func WriteAll(s Sink, data []byte) error {
	w, err := s.Create()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return fmt.Errorf("write %s: %w", s.Path(), err)
	}
	return w.Commit()
}

// Open selects a factory for the output location: "s3://bucket/prefix" opens
// an object-store factory, a ".zip" suffix opens a zip archive, anything else
// is treated as a directory.
func Open(ctx context.Context, output string, cont bool, objects ObjectConfig) (Factory, error) {
	switch {
	case output == "":
		return nil, usage.New("an output location is required")
	case strings.HasPrefix(output, "s3://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(output, "s3://"))
		if bucket == "" {
			return nil, usage.Newf("output %q has no bucket", output)
		}
		objects.Bucket = bucket
		objects.Prefix = prefix
		return OpenObjectStore(ctx, objects)
	case strings.HasSuffix(strings.ToLower(output), ".zip"):
		return OpenZip(output, cont)
	default:
		return OpenDir(output, cont)
	}
}

func splitBucket(s string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(s, "/")
	return bucket, strings.Trim(prefix, "/")
}

// cleanPath normalizes a sink path and rejects paths escaping the root.
func cleanPath(p string) (string, error) {
	c := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	c = strings.TrimPrefix(c, "/")
	if c == "" || c == "." {
		return "", fmt.Errorf("invalid sink path %q", p)
	}
	return c, nil
}
