package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Appender persists bytes at the end of a named capture file, creating the
// file if it does not exist. Append either writes all of p or fails.
// Implementations must not retain p after returning.
type Appender interface {
	Append(name string, p []byte) error
}

// FileAppender appends to files on an afero filesystem. Every call opens,
// writes and closes the file, so no descriptors stay open between writes.
type FileAppender struct {
	fs afero.Fs
}

// NewFileAppender roots capture files at dir on the host filesystem.
// Identifiers resolving outside dir are rejected.
func NewFileAppender(dir string) (*FileAppender, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create capture directory %q: %w", dir, err)
	}
	return NewFileAppenderFs(afero.NewBasePathFs(osFs, dir)), nil
}

// NewFileAppenderFs appends to files on fs as-is.
func NewFileAppenderFs(fs afero.Fs) *FileAppender {
	return &FileAppender{fs: fs}
}

// Append implements Appender.
func (a *FileAppender) Append(name string, p []byte) error {
	if dir := filepath.Dir(name); dir != "." && dir != string(filepath.Separator) {
		if err := a.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory for %q: %w", name, err)
		}
	}

	f, err := a.fs.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	n, err := f.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("append %d bytes to %q: %w", len(p), name, err)
	}
	return nil
}

// appendWriter turns one capture file of an Appender into the io.Writer
// pcapgo encodes into. It remembers the outcome of the appends issued since
// the last reset so the orchestrator can tell how far a failed write got.
type appendWriter struct {
	name     string
	appender Appender

	appended int   // successful appends since reset
	err      error // first failed append since reset
}

func (w *appendWriter) Write(p []byte) (int, error) {
	if err := w.appender.Append(w.name, p); err != nil {
		if w.err == nil {
			w.err = err
		}
		return 0, err
	}
	w.appended++
	return len(p), nil
}

func (w *appendWriter) reset() {
	w.appended = 0
	w.err = nil
}

// cause prefers the appender's own error over pcapgo's re-formatted one,
// which drops the wrap chain.
func (w *appendWriter) cause(err error) error {
	if w.err != nil {
		return w.err
	}
	return err
}
