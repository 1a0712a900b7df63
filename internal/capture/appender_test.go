package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAppenderAppends(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewFileAppenderFs(fs)

	require.NoError(t, a.Append("out.pcap", []byte("abc")))
	require.NoError(t, a.Append("out.pcap", []byte("def")))

	data, err := afero.ReadFile(fs, "out.pcap")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestFileAppenderCreatesDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewFileAppenderFs(fs)

	require.NoError(t, a.Append(filepath.Join("proc-1234", "tls.pcap"), []byte{1, 2, 3}))

	data, err := afero.ReadFile(fs, filepath.Join("proc-1234", "tls.pcap"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestFileAppenderBasePathRejectsEscape(t *testing.T) {
	base := afero.NewBasePathFs(afero.NewMemMapFs(), "/captures")
	a := NewFileAppenderFs(base)

	require.NoError(t, a.Append("ok.pcap", []byte("x")))
	assert.Error(t, a.Append("../escape.pcap", []byte("x")))
}

func TestNewFileAppenderOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "captures")

	a, err := NewFileAppender(dir)
	require.NoError(t, err)

	require.NoError(t, a.Append("disk.pcap", []byte("12")))
	require.NoError(t, a.Append("disk.pcap", []byte("34")))

	data, err := os.ReadFile(filepath.Join(dir, "disk.pcap"))
	require.NoError(t, err)
	assert.Equal(t, "1234", string(data))
}

type failingAppender struct{ err error }

func (f failingAppender) Append(string, []byte) error { return f.err }

func TestAppendWriterTracksOutcome(t *testing.T) {
	w := &appendWriter{name: "x", appender: newMemAppender()}

	n, err := w.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, w.appended)

	w.appender = failingAppender{err: errDiskFull}
	_, err = w.Write([]byte("ef"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, w.appended)
	assert.ErrorIs(t, w.cause(assert.AnError), errDiskFull)

	w.reset()
	assert.Equal(t, 0, w.appended)
	assert.Equal(t, assert.AnError, w.cause(assert.AnError))
}
