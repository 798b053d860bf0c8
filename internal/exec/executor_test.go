package exec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Run(t *testing.T) {
	e := New()

	t.Run("captures stdout", func(t *testing.T) {
		result, err := e.Run(context.Background(), &RunOptions{
			Name: "echo",
			Args: []string{"Chromium 120.0.6099.71"},
		})

		require.NoError(t, err)
		assert.Equal(t, "Chromium 120.0.6099.71\n", string(result.Stdout))
		assert.Empty(t, result.Stderr)
		assert.Equal(t, 0, result.ExitCode)
	})

	t.Run("captures exit code on failure", func(t *testing.T) {
		result, err := e.Run(context.Background(), &RunOptions{
			Name: "sh",
			Args: []string{"-c", "exit 42"},
		})

		require.Error(t, err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 42, result.ExitCode)
	})

	t.Run("streams to provided stderr writer", func(t *testing.T) {
		var buf bytes.Buffer
		result, err := e.Run(context.Background(), &RunOptions{
			Name:   "sh",
			Args:   []string{"-c", "echo error >&2"},
			Stderr: &buf,
		})

		require.NoError(t, err)
		assert.Nil(t, result.Stderr, "Stderr should be nil when streaming")
		assert.Equal(t, "error\n", buf.String())
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := e.Run(ctx, &RunOptions{
			Name: "sleep",
			Args: []string{"10"},
		})

		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "signal: killed"),
			"expected context deadline or killed signal, got: %v", err)
	})
}

func TestExecutor_Start(t *testing.T) {
	e := New()

	t.Run("passes exact arguments and captures output", func(t *testing.T) {
		var out bytes.Buffer
		p, err := e.Start(context.Background(), &StartOptions{
			Name:   "sh",
			Args:   []string{"-c", `printf '%s|' "$@"`, "sh", "--remote-debugging-port=9222", "--user-data-dir=/tmp/a b"},
			Stdout: &out,
		})
		require.NoError(t, err)

		require.NoError(t, p.Wait(5*time.Second))
		assert.False(t, p.IsAlive())
		assert.Equal(t, "--remote-debugging-port=9222|--user-data-dir=/tmp/a b|", out.String())
	})

	t.Run("passes environment variables", func(t *testing.T) {
		var out bytes.Buffer
		p, err := e.Start(context.Background(), &StartOptions{
			Name:   "sh",
			Args:   []string{"-c", "echo $TEST_VAR"},
			Env:    []string{"TEST_VAR=hello_env"},
			Stdout: &out,
		})
		require.NoError(t, err)

		require.NoError(t, p.Wait(5*time.Second))
		assert.Equal(t, "hello_env\n", out.String())
	})

	t.Run("missing executable is a launch error", func(t *testing.T) {
		_, err := e.Start(context.Background(), &StartOptions{Name: "nonexistent_browser_12345"})

		require.ErrorIs(t, err, ErrLaunch)
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, "nonexistent_browser_12345", launchErr.Path)
	})

	t.Run("cancelled context refuses to launch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Start(ctx, &StartOptions{Name: "sleep", Args: []string{"10"}})

		require.ErrorIs(t, err, ErrLaunch)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("process outlives the launching context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p, err := e.Start(ctx, &StartOptions{Name: "sleep", Args: []string{"10"}})
		require.NoError(t, err)
		cancel()

		assert.ErrorIs(t, p.Wait(100*time.Millisecond), ErrWaitTimeout)
		assert.True(t, p.IsAlive())

		require.NoError(t, p.Kill())
		<-p.Done()
		assert.False(t, p.IsAlive())
	})
}

func TestExecutor_Attach(t *testing.T) {
	e := New()

	t.Run("tracks a foreign process", func(t *testing.T) {
		cmd := exec.Command("sleep", "10")
		require.NoError(t, cmd.Start())
		reaped := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(reaped)
		}()

		p, err := e.Attach(cmd.Process.Pid)
		require.NoError(t, err)
		assert.Equal(t, cmd.Process.Pid, p.Pid())
		assert.True(t, p.IsAlive())

		require.NoError(t, p.Terminate())
		<-reaped
		require.NoError(t, p.Wait(2*time.Second))
		assert.False(t, p.IsAlive())
	})

	t.Run("rejects invalid pid", func(t *testing.T) {
		_, err := e.Attach(0)
		require.Error(t, err)
	})
}

func TestExecutor_LookPath(t *testing.T) {
	e := New()

	t.Run("finds existing command", func(t *testing.T) {
		path, err := e.LookPath("sh")

		require.NoError(t, err)
		assert.NotEmpty(t, path)
	})

	t.Run("returns error for nonexistent command", func(t *testing.T) {
		_, err := e.LookPath("nonexistent_command_12345")

		require.Error(t, err)
		var execErr *exec.Error
		assert.ErrorAs(t, err, &execErr)
	})
}
