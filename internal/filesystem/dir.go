package filesystem

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressed lists the suffixes Dir decompresses on read, in lookup order.
var compressed = []string{".gz", ".zst"}

// Dir is a Filesystem rooted at a host directory. Paths never escape root.
type Dir struct {
	root string
	fds  *descriptors[*os.File]
}

// NewDir serves root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	return &Dir{root: abs, fds: newDescriptors[*os.File]()}, nil
}

// Root returns the host directory being served.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) hostPath(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(Resolve("/", name)))
}

func (d *Dir) Open(name string, mode Mode) (int, error) {
	host := d.hostPath(name)

	var (
		f   *os.File
		err error
	)
	switch mode {
	case ReadOnly:
		f, err = os.Open(host)
		for _, ext := range compressed {
			if !errors.Is(err, iofs.ErrNotExist) {
				break
			}
			f, err = os.Open(host + ext)
		}
	default:
		if err = os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
			break
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if mode == Append {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err = os.OpenFile(host, flags, 0o644)
	}
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", name, err)
	}
	return d.fds.add(Resolve("/", name), mode, f), nil
}

func (d *Dir) ReadAll(fd int) ([]byte, error) {
	desc, err := d.fds.get(fd)
	if err != nil {
		return nil, err
	}
	if desc.mode != ReadOnly {
		return nil, fmt.Errorf("read %s: %w", desc.name, iofs.ErrPermission)
	}

	var r io.Reader = desc.file
	switch filepath.Ext(desc.file.Name()) {
	case ".gz":
		zr, err := gzip.NewReader(desc.file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", desc.name, err)
		}
		defer zr.Close()
		r = zr
	case ".zst":
		zr, err := zstd.NewReader(desc.file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", desc.name, err)
		}
		defer zr.Close()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", desc.name, err)
	}
	return data, nil
}

func (d *Dir) Write(fd int, data []byte) error {
	desc, err := d.fds.get(fd)
	if err != nil {
		return err
	}
	if desc.mode == ReadOnly {
		return fmt.Errorf("write %s: %w", desc.name, iofs.ErrPermission)
	}
	_, err = desc.file.Write(data)
	return err
}

func (d *Dir) Close(fd int) error {
	desc, err := d.fds.remove(fd)
	if err != nil {
		return err
	}
	return desc.file.Close()
}

// Glob walks root and returns the paths matching a doublestar pattern.
// Compressed files are reported under their uncompressed name.
func (d *Dir) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	pattern = strings.TrimPrefix(pattern, "/")

	var (
		mu      sync.Mutex
		matches []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, d.root, func(p string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, ext := range compressed {
			rel = strings.TrimSuffix(rel, ext)
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			mu.Lock()
			matches = append(matches, "/"+rel)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	sort.Strings(matches)
	return matches, nil
}
