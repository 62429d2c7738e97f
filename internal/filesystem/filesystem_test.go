package filesystem

import (
	"bytes"
	iofs "io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		cwd, name, want string
	}{
		{"/home", "prog.js", "/home/prog.js"},
		{"/home", "/bin/cat", "/bin/cat"},
		{"", "prog.js", "/prog.js"},
		{"/a/b", "../c.js", "/a/c.js"},
		{"/", "../../etc", "/etc"},
		{"/x", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.cwd+"|"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.cwd, tt.name))
		})
	}
}

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory(map[string]string{"/bin/hello.js": "output('hi')"})

	data, err := ReadFile(m, "/bin/hello.js")
	require.NoError(t, err)
	assert.Equal(t, "output('hi')", string(data))

	_, err = ReadFile(m, "/bin/missing.js")
	assert.ErrorIs(t, err, iofs.ErrNotExist)

	require.NoError(t, WriteFile(m, "/tmp/out.txt", []byte("one")))
	fd, err := m.Open("/tmp/out.txt", Append)
	require.NoError(t, err)
	require.NoError(t, m.Write(fd, []byte(" two")))
	require.NoError(t, m.Close(fd))

	got, ok := m.Get("/tmp/out.txt")
	require.True(t, ok)
	assert.Equal(t, "one two", string(got))

	assert.ErrorIs(t, m.Close(fd), iofs.ErrClosed)
}

func TestMemoryGlob(t *testing.T) {
	m := NewMemory(map[string]string{
		"/bin/cat.js":      "",
		"/bin/sh.js":       "",
		"/usr/bin/grep.js": "",
		"/etc/motd":        "",
	})

	got, err := m.Glob("/**/*.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/cat.js", "/bin/sh.js", "/usr/bin/grep.js"}, got)

	_, err = m.Glob("[")
	assert.Error(t, err)
}

func TestDirReadsCompressedPrograms(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "plain.js"), []byte("plain"), 0o644))

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("gzipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "gz.js.gz"), gz.Bytes(), 0o644))

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll([]byte("zstandard"), nil)
	require.NoError(t, enc.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "zs.js.zst"), zs, 0o644))

	d, err := NewDir(root)
	require.NoError(t, err)

	tests := map[string]string{
		"/bin/plain.js": "plain",
		"/bin/gz.js":    "gzipped",
		"/bin/zs.js":    "zstandard",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := ReadFile(d, name)
			require.NoError(t, err)
			assert.Equal(t, want, string(data))
		})
	}

	_, err = ReadFile(d, "/bin/none.js")
	assert.ErrorIs(t, err, iofs.ErrNotExist)

	got, err := d.Glob("bin/*.js")
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/gz.js", "/bin/plain.js", "/bin/zs.js"}, got)
}

func TestDirWriteStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root)
	require.NoError(t, err)

	require.NoError(t, WriteFile(d, "../../escape.txt", []byte("x")))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}
