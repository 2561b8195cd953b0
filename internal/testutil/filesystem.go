package testutil

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"hsaj-go/internal/hsaj"
)

// MockFilesystem is an in-memory hsaj.Filesystem. Directories are implicit:
// MkdirAll only records the call.
type MockFilesystem struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]bool
	failMoves map[string]error // keyed by source path
	moves     int
}

// NewMockFilesystem creates an empty mock filesystem.
func NewMockFilesystem() *MockFilesystem {
	return &MockFilesystem{
		files:     make(map[string][]byte),
		dirs:      make(map[string]bool),
		failMoves: make(map[string]error),
	}
}

// AddFile places a file at path.
func (m *MockFilesystem) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(path)] = content
}

// Remove deletes the file at path if present.
func (m *MockFilesystem) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, filepath.Clean(path))
}

// HasFile reports whether a file exists at path.
func (m *MockFilesystem) HasFile(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[filepath.Clean(path)]
	return ok
}

// Content returns the bytes stored at path.
func (m *MockFilesystem) Content(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[filepath.Clean(path)]
}

// Paths returns every file path, sorted.
func (m *MockFilesystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FailMove makes every move out of src fail with err.
func (m *MockFilesystem) FailMove(src string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failMoves[filepath.Clean(src)] = err
}

// MoveCount returns the number of successful moves.
func (m *MockFilesystem) MoveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moves
}

func (m *MockFilesystem) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	_, ok := m.files[path]
	return ok || m.dirs[path], nil
}

func (m *MockFilesystem) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for d := filepath.Clean(dir); d != "/" && d != "."; d = filepath.Dir(d) {
		m.dirs[d] = true
	}
	return nil
}

func (m *MockFilesystem) Move(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst = filepath.Clean(src), filepath.Clean(dst)

	if err, ok := m.failMoves[src]; ok {
		return err
	}
	content, ok := m.files[src]
	if !ok {
		return fmt.Errorf("mock move %s: file does not exist", src)
	}
	if _, ok := m.files[dst]; ok {
		return hsaj.ErrDestinationExists
	}
	delete(m.files, src)
	m.files[dst] = content
	m.moves++
	return nil
}

var _ hsaj.Filesystem = (*MockFilesystem)(nil)
