package sink

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zip"
)

// Zip writes every sink as an entry of a single zip archive. The archive is
// assembled in a temporary file next to the target and renamed into place on
// Close.
type Zip struct {
	mu      sync.Mutex
	path    string
	tmp     *os.File
	zw      *zip.Writer
	written map[string]bool
	// previous holds the archive being continued; its entries are copied on
	// Close unless this run replaced them.
	previous *zip.ReadCloser
	carried  map[string]bool
	closed   bool
}

// OpenZip creates the archive at path. With cont set, entries of an existing
// archive are reported as existing and carried over unless rewritten.
func OpenZip(path string, cont bool) (*Zip, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("cannot overwrite directory %s with a zip file", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	z := &Zip{
		path:    path,
		tmp:     tmp,
		zw:      zip.NewWriter(tmp),
		written: make(map[string]bool),
		carried: make(map[string]bool),
	}
	if cont {
		if err := z.carryOver(path); err != nil {
			z.discard()
			return nil, err
		}
	}
	return z, nil
}

func (z *Zip) carryOver(path string) error {
	r, err := zip.OpenReader(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open existing archive: %w", err)
	}
	z.previous = r
	for _, f := range r.File {
		z.carried[f.Name] = true
	}
	return nil
}

// copyCarried appends the previous archive's entries that were not replaced.
func (z *Zip) copyCarried() error {
	if z.previous == nil {
		return nil
	}
	for _, f := range z.previous.File {
		if !z.carried[f.Name] {
			continue
		}
		if err := z.copyEntry(f); err != nil {
			return fmt.Errorf("copy %s from existing archive: %w", f.Name, err)
		}
	}
	return nil
}

func (z *Zip) closePrevious() {
	if z.previous != nil {
		z.previous.Close()
		z.previous = nil
	}
}

func (z *Zip) copyEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     f.Name,
		Method:   zip.Deflate,
		Modified: f.Modified,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	return err
}

func (z *Zip) NewSink(p string) (Sink, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return &zipSink{z: z, name: clean}, nil
}

// Close writes the central directory and moves the archive into place.
func (z *Zip) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	z.closed = true
	err := z.copyCarried()
	z.closePrevious()
	if err != nil {
		z.tmp.Close()
		os.Remove(z.tmp.Name())
		return err
	}
	if err := z.zw.Close(); err != nil {
		z.tmp.Close()
		os.Remove(z.tmp.Name())
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := z.tmp.Close(); err != nil {
		os.Remove(z.tmp.Name())
		return err
	}
	if err := os.Rename(z.tmp.Name(), z.path); err != nil {
		os.Remove(z.tmp.Name())
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func (z *Zip) String() string { return "zip " + z.path }

func (z *Zip) discard() {
	z.closed = true
	z.closePrevious()
	z.tmp.Close()
	os.Remove(z.tmp.Name())
}

func (z *Zip) has(name string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.written[name] || z.carried[name]
}

// writeEntry appends a complete entry. Entries are buffered by their writers
// so concurrent sinks never interleave inside the archive. A carried-over
// entry of the same name is replaced; an entry written earlier in this run
// cannot be, since the archive is append-only.
func (z *Zip) writeEntry(name string, data []byte) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return fmt.Errorf("archive %s already closed", z.path)
	}
	if z.written[name] {
		return fmt.Errorf("entry %s already written", name)
	}
	w, err := z.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	z.written[name] = true
	delete(z.carried, name)
	if diag, ok := staleDiagnostic(name); ok {
		delete(z.carried, diag)
	}
	return nil
}

type zipSink struct {
	z    *Zip
	name string
}

func (s *zipSink) Path() string { return s.name }

func (s *zipSink) Exists() (bool, error) { return s.z.has(s.name), nil }

func (s *zipSink) Create() (Writer, error) {
	return &bufferWriter{commit: func(b []byte) error { return s.z.writeEntry(s.name, b) }}, nil
}

// bufferWriter accumulates content in memory and hands it over on Commit.
type bufferWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
	done   bool
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write after commit")
	}
	return w.buf.Write(p)
}

func (w *bufferWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.commit(w.buf.Bytes())
}

func (w *bufferWriter) Abort() {
	w.done = true
	w.buf.Reset()
}
