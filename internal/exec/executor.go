package exec

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
)

type executor struct{}

// New returns a new Executor that uses os/exec.
func New() Executor {
	return &executor{}
}

func (e *executor) Run(ctx context.Context, opts *RunOptions) (*Result, error) {
	// G204: This is intentional - we're an executor that runs user-specified commands.
	// The caller is responsible for validating the command and arguments.
	cmd := exec.CommandContext(ctx, opts.Name, opts.Args...) //nolint:gosec // Intentional subprocess execution

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = &stdoutBuf
	}

	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()

	result := &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	if opts.Stdout == nil {
		result.Stdout = stdoutBuf.Bytes()
	}
	if opts.Stderr == nil {
		result.Stderr = stderrBuf.Bytes()
	}

	return result, err
}

func (e *executor) Start(ctx context.Context, opts *StartOptions) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Path: opts.Name, Err: err}
	}

	path, err := exec.LookPath(opts.Name)
	if err != nil {
		return nil, &LaunchError{Path: opts.Name, Err: err}
	}

	// The browser must outlive the launching call, so ctx is not attached.
	cmd := exec.Command(path, opts.Args...) //nolint:gosec // Intentional subprocess execution
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stdout = writerOrDiscard(opts.Stdout)
	cmd.Stderr = writerOrDiscard(opts.Stderr)
	killAfterParent(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	return newProcess(cmd), nil
}

func (e *executor) Attach(pid int) (Process, error) {
	p, err := attach(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
