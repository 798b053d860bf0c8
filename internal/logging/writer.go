package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// logFile is a log file shared by several writers.
type logFile struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

func (f *logFile) write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return os.ErrClosed
	}
	_, err := f.file.Write(p)
	return err
}

func (f *logFile) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.file.Close()
}

// TeeWriter copies everything written to it into a log file and, if set, a
// primary writer.
type TeeWriter struct {
	primary io.Writer
	log     *logFile
}

// Write writes to the log file first, then the primary writer. Writes after
// the log is closed still reach the primary writer.
func (t *TeeWriter) Write(p []byte) (int, error) {
	if err := t.log.write(p); err != nil && !errors.Is(err, os.ErrClosed) {
		return 0, fmt.Errorf("write to log file: %w", err)
	}
	if t.primary != nil {
		return t.primary.Write(p)
	}
	return len(p), nil
}

// OutputWriters holds stdout and stderr writers feeding one combined log
// file, in the order the bytes arrive.
type OutputWriters struct {
	Stdout *TeeWriter
	Stderr *TeeWriter

	path string
	log  *logFile
}

// NewOutputWriters opens logPath for appending and returns writers that tee
// into it. stdout and stderr may be nil.
func NewOutputWriters(logPath string, stdout, stderr io.Writer) (*OutputWriters, error) {
	//nolint:gosec // G302/G304: logPath comes from PathManager; 0644 keeps logs readable by tail tools
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open browser log: %w", err)
	}

	log := &logFile{file: file}
	return &OutputWriters{
		Stdout: &TeeWriter{primary: stdout, log: log},
		Stderr: &TeeWriter{primary: stderr, log: log},
		path:   logPath,
		log:    log,
	}, nil
}

// Path returns the log file path.
func (o *OutputWriters) Path() string {
	return o.path
}

// Close closes the log file. It is safe to call more than once.
func (o *OutputWriters) Close() error {
	if err := o.log.close(); err != nil {
		return fmt.Errorf("close browser log: %w", err)
	}
	return nil
}
