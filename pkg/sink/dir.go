package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/dumper/pkg/usage"
)

// Dir writes each sink as a file below a root directory.
type Dir struct {
	root string
}

// OpenDir prepares root as an output directory. An existing non-empty
// directory is refused unless cont is set; nothing is ever deleted.
func OpenDir(root string, cont bool) (*Dir, error) {
	info, err := os.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, usage.Newf("cannot write to %s: exists and is not a directory", root)
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read output directory: %w", err)
		}
		if len(entries) > 0 && !cont {
			return nil, usage.Newf("refusing to write to non-empty directory %s without --continue", root)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	default:
		return nil, fmt.Errorf("stat output directory: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) NewSink(p string) (Sink, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return &dirSink{rel: clean, abs: filepath.Join(d.root, filepath.FromSlash(clean))}, nil
}

func (d *Dir) Close() error { return nil }

func (d *Dir) String() string { return "directory " + d.root }

type dirSink struct {
	rel string
	abs string
}

func (s *dirSink) Path() string { return s.rel }

func (s *dirSink) Exists() (bool, error) {
	_, err := os.Stat(s.abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *dirSink) Create() (Writer, error) {
	if err := os.MkdirAll(filepath.Dir(s.abs), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", s.rel, err)
	}
	f, err := os.CreateTemp(filepath.Dir(s.abs), "."+filepath.Base(s.abs)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", s.rel, err)
	}
	return &fileWriter{f: f, target: s.abs}, nil
}

// fileWriter writes to a temporary file that is renamed onto target on Commit.
type fileWriter struct {
	f      *os.File
	target string
	done   bool
}

func (w *fileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fileWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.target); err != nil {
		os.Remove(w.f.Name())
		return fmt.Errorf("commit %s: %w", w.target, err)
	}
	if diag, ok := staleDiagnostic(w.target); ok {
		if err := os.Remove(diag); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", diag, err)
		}
	}
	return nil
}

func (w *fileWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.f.Name())
}
