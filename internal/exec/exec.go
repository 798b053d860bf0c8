// Package exec provides an abstraction over running external commands and
// supervising long-lived child processes such as browsers.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors for process supervision.
var (
	// ErrLaunch is returned when an executable is missing or fails to start.
	ErrLaunch = errors.New("launch failed")

	// ErrWaitTimeout is returned by Process.Wait when the process is still
	// running after the timeout.
	ErrWaitTimeout = errors.New("timed out waiting for process exit")
)

// LaunchError describes a failed process start.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunch, e.Err}
}

// Result holds the output from a completed command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// RunOptions configures command execution.
type RunOptions struct {
	Name   string    // Command name or path (required)
	Args   []string  // Command arguments
	Dir    string    // Working directory (empty = current)
	Env    []string  // Additional environment variables (KEY=VALUE format)
	Stdin  io.Reader // Stdin source (nil = no input)
	Stdout io.Writer // If set, streams stdout here instead of capturing
	Stderr io.Writer // If set, streams stderr here instead of capturing
}

// StartOptions configures a supervised, long-lived process.
type StartOptions struct {
	Name   string    // Executable name or path (required)
	Args   []string  // Exact argument list, passed through unchanged
	Dir    string    // Working directory (empty = current)
	Env    []string  // Additional environment variables (KEY=VALUE format)
	Stdout io.Writer // Receives stdout (nil = discarded)
	Stderr io.Writer // Receives stderr (nil = discarded)
}

// Process is a handle to a running child process. The handle exclusively
// owns the OS process; nothing else should signal or reap it.
type Process interface {
	// Pid returns the OS process identifier.
	Pid() int

	// IsAlive reports whether the process has not yet exited.
	IsAlive() bool

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// Wait blocks until the process exits or timeout elapses. A timeout <= 0
	// waits indefinitely. Returns ErrWaitTimeout if the process is still
	// running, otherwise the exit error (nil on clean exit).
	Wait(timeout time.Duration) error

	// Terminate sends a graceful termination signal.
	Terminate() error

	// Kill forcibly stops the process.
	Kill() error
}

// Executor runs external commands.
type Executor interface {
	// Run executes a command and returns its output.
	// If Stdout/Stderr writers are set in opts, output streams there and
	// Result.Stdout/Stderr will be nil.
	// Returns os/exec.ExitError on non-zero exit (use errors.As to extract).
	Run(ctx context.Context, opts *RunOptions) (*Result, error)

	// Start launches a long-lived process and returns its handle. The
	// process is not tied to ctx; it runs until terminated or killed.
	// Returns a *LaunchError if the executable is missing or fails to start.
	// Start never retries.
	Start(ctx context.Context, opts *StartOptions) (Process, error)

	// Attach returns a handle to an already running process that this
	// executor did not start. Wait on an attached process polls liveness.
	Attach(pid int) (Process, error)

	// LookPath searches for an executable in PATH.
	// Returns the full path if found, or an error if not.
	LookPath(name string) (string, error)
}
