package sink

import (
	"errors"
	"sort"
	"sync"
)

// Memory keeps committed sinks in memory. It backs tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
	// FailCreate, when set, makes Create fail for the matching path.
	FailCreate func(path string) bool
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

func (m *Memory) NewSink(p string) (Sink, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return &memorySink{m: m, name: clean}, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) String() string { return "memory" }

// Put stores content directly, as if a previous run had committed it.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = append([]byte(nil), data...)
}

// Get returns committed content for path.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	return b, ok
}

// Paths lists committed paths in sorted order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

type memorySink struct {
	m    *Memory
	name string
}

func (s *memorySink) Path() string { return s.name }

func (s *memorySink) Exists() (bool, error) {
	_, ok := s.m.Get(s.name)
	return ok, nil
}

func (s *memorySink) Create() (Writer, error) {
	if s.m.FailCreate != nil && s.m.FailCreate(s.name) {
		return nil, errors.New("memory sink: create refused for " + s.name)
	}
	return &bufferWriter{commit: func(b []byte) error {
		s.m.Put(s.name, b)
		if diag, ok := staleDiagnostic(s.name); ok {
			s.m.mu.Lock()
			delete(s.m.files, diag)
			s.m.mu.Unlock()
		}
		return nil
	}}, nil
}
