package filesystem

import (
	"fmt"
	iofs "io/fs"
	"path"
	"sync"
)

// Mode selects how a descriptor is opened.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
	Append
)

// Filesystem is the descriptor-based storage contract.
type Filesystem interface {
	Open(name string, mode Mode) (int, error)
	ReadAll(fd int) ([]byte, error)
	Write(fd int, data []byte) error
	Close(fd int) error
	Glob(pattern string) ([]string, error)
}

// Resolve joins a relative name onto cwd and cleans the result.
func Resolve(cwd, name string) string {
	if name == "" {
		return ""
	}
	if !path.IsAbs(name) {
		if cwd == "" {
			cwd = "/"
		}
		name = path.Join(cwd, name)
	}
	return path.Clean(name)
}

// ReadFile opens name, reads all of it and closes it again.
func ReadFile(fsys Filesystem, name string) ([]byte, error) {
	fd, err := fsys.Open(name, ReadOnly)
	if err != nil {
		return nil, err
	}
	data, err := fsys.ReadAll(fd)
	if cerr := fsys.Close(fd); err == nil && cerr != nil {
		err = cerr
	}
	return data, err
}

// WriteFile replaces name's contents with data.
func WriteFile(fsys Filesystem, name string, data []byte) error {
	fd, err := fsys.Open(name, WriteOnly)
	if err != nil {
		return err
	}
	err = fsys.Write(fd, data)
	if cerr := fsys.Close(fd); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// descriptor is one open file.
type descriptor[T any] struct {
	name string
	mode Mode
	file T
}

// descriptors hands out small integers for open files.
type descriptors[T any] struct {
	mu   sync.Mutex
	next int
	open map[int]*descriptor[T] // Protected by mu
}

func newDescriptors[T any]() *descriptors[T] {
	return &descriptors[T]{next: 3, open: make(map[int]*descriptor[T])}
}

func (d *descriptors[T]) add(name string, mode Mode, file T) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	fd := d.next
	d.next++
	d.open[fd] = &descriptor[T]{name: name, mode: mode, file: file}
	return fd
}

func (d *descriptors[T]) get(fd int) (*descriptor[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.open[fd]
	if !ok {
		return nil, fmt.Errorf("descriptor %d: %w", fd, iofs.ErrClosed)
	}
	return desc, nil
}

func (d *descriptors[T]) remove(fd int) (*descriptor[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.open[fd]
	if !ok {
		return nil, fmt.Errorf("descriptor %d: %w", fd, iofs.ErrClosed)
	}
	delete(d.open, fd)
	return desc, nil
}
