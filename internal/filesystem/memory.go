package filesystem

import (
	"fmt"
	iofs "io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Memory is an in-memory Filesystem.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte // Protected by mu
	fds   *descriptors[*strings.Builder]
}

// NewMemory creates a filesystem seeded with files, keyed by absolute path.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{
		files: make(map[string][]byte, len(files)),
		fds:   newDescriptors[*strings.Builder](),
	}
	for name, data := range files {
		m.files[Resolve("/", name)] = []byte(data)
	}
	return m
}

// Put stores a file, replacing any existing one.
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[Resolve("/", name)] = append([]byte(nil), data...)
}

// Get returns a copy of a file's contents.
func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[Resolve("/", name)]
	return append([]byte(nil), data...), ok
}

func (m *Memory) Open(name string, mode Mode) (int, error) {
	name = Resolve("/", name)

	m.mu.RLock()
	data, exists := m.files[name]
	m.mu.RUnlock()

	var w *strings.Builder
	switch mode {
	case ReadOnly:
		if !exists {
			return -1, fmt.Errorf("open %s: %w", name, iofs.ErrNotExist)
		}
	case Append:
		w = &strings.Builder{}
		w.Write(data)
	default:
		w = &strings.Builder{}
	}
	return m.fds.add(name, mode, w), nil
}

func (m *Memory) ReadAll(fd int) ([]byte, error) {
	desc, err := m.fds.get(fd)
	if err != nil {
		return nil, err
	}
	if desc.mode != ReadOnly {
		return nil, fmt.Errorf("read %s: %w", desc.name, iofs.ErrPermission)
	}
	data, ok := m.Get(desc.name)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", desc.name, iofs.ErrNotExist)
	}
	return data, nil
}

func (m *Memory) Write(fd int, data []byte) error {
	desc, err := m.fds.get(fd)
	if err != nil {
		return err
	}
	if desc.mode == ReadOnly {
		return fmt.Errorf("write %s: %w", desc.name, iofs.ErrPermission)
	}
	desc.file.Write(data)
	return nil
}

// Close releases fd. Written contents become visible on close.
func (m *Memory) Close(fd int) error {
	desc, err := m.fds.remove(fd)
	if err != nil {
		return err
	}
	if desc.mode != ReadOnly {
		m.Put(desc.name, []byte(desc.file.String()))
	}
	return nil
}

// Glob returns the stored paths matching a doublestar pattern.
func (m *Memory) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	pattern = strings.TrimPrefix(pattern, "/")

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []string
	for name := range m.files {
		if ok, _ := doublestar.Match(pattern, strings.TrimPrefix(name, "/")); ok {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
