package process

import (
	"errors"
	iofs "io/fs"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/protocol"
)

// Loader fetches a program's source.
type Loader interface {
	Load(path string) ([]byte, error)
}

// FSLoader reads programs through the filesystem collaborator. Paths for
// which builtin reports true need no source.
type FSLoader struct {
	fs      filesystem.Filesystem
	builtin func(path string) bool
}

// NewFSLoader creates a loader. builtin may be nil.
func NewFSLoader(fs filesystem.Filesystem, builtin func(string) bool) *FSLoader {
	return &FSLoader{fs: fs, builtin: builtin}
}

func (l *FSLoader) Load(path string) ([]byte, error) {
	if l.builtin != nil && l.builtin(path) {
		return nil, nil
	}

	fd, err := l.fs.Open(path, filesystem.ReadOnly)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, protocol.ErrProgramNotFound.Withf("program %s not found", path)
	}
	if err != nil {
		return nil, protocol.External(err)
	}
	data, err := l.fs.ReadAll(fd)
	if cerr := l.fs.Close(fd); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, protocol.External(err)
	}

	if !isText(data) {
		return nil, protocol.Invalid("program %s is %s, not text", path, mimetype.Detect(data).String())
	}
	return data, nil
}

func isText(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
