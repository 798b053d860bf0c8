package logging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultTailLines is the default number of lines to read when tailing.
const DefaultTailLines = 100

// DefaultFollowInterval is how often Follow polls for new output.
const DefaultFollowInterval = 250 * time.Millisecond

// Reader reads instance browser logs.
type Reader struct {
	paths *PathManager
}

// NewReader creates a new Reader with the given PathManager.
func NewReader(paths *PathManager) *Reader {
	return &Reader{paths: paths}
}

// ReadAll reads every line of an instance's log.
func (r *Reader) ReadAll(instanceID string) ([]string, error) {
	return tail(r.paths.BrowserLogPath(instanceID), 0)
}

// ReadLastN reads the last n lines of an instance's log.
// If n <= 0, uses DefaultTailLines.
func (r *Reader) ReadLastN(instanceID string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	return tail(r.paths.BrowserLogPath(instanceID), n)
}

// Follow prints the last n lines (none if n is 0) and then streams lines as
// they are appended, like `tail -n N -f`. It blocks until ctx is cancelled.
func (r *Reader) Follow(ctx context.Context, instanceID string, out io.Writer, n int, interval time.Duration) error {
	path := r.paths.BrowserLogPath(instanceID)
	if interval <= 0 {
		interval = DefaultFollowInterval
	}

	file, err := os.Open(path) //nolint:gosec // G304: path comes from PathManager
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }() //nolint:errcheck // read-only file

	if n > 0 {
		lines, err := lastLines(file, n)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(out, line); err != nil {
				return fmt.Errorf("write history: %w", err)
			}
		}
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := drain(reader, out); err != nil {
				return err
			}
		}
	}
}

// drain copies every complete or partial line currently available.
func drain(reader *bufio.Reader, out io.Writer) error {
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := out.Write(line); werr != nil {
				return fmt.Errorf("write output: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}
	}
}

// tail returns the last n lines of the file at path, or all lines if n is 0.
func tail(path string, n int) ([]string, error) {
	file, err := os.Open(path) //nolint:gosec // G304: path comes from PathManager
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = file.Close() }() //nolint:errcheck // read-only file

	return lastLines(file, n)
}

// lastLines scans r keeping a ring of the last n lines. n == 0 keeps all.
func lastLines(r io.Reader, n int) ([]string, error) {
	var ring []string
	next := 0
	total := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		total++
		if n == 0 || len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[next] = scanner.Text()
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}

	if n == 0 || total <= n {
		return ring, nil
	}
	ordered := make([]string, 0, n)
	ordered = append(ordered, ring[next:]...)
	return append(ordered, ring[:next]...), nil
}
