// Package instance supervises browser instances: each one owns a debugging
// port, a throwaway profile directory, a browser process and a session
// channel, and the Manager bounds how many run at once.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/discovery"
	"github.com/jmgilman/periscope/internal/exec"
	"github.com/jmgilman/periscope/internal/logging"
	"github.com/jmgilman/periscope/internal/slogger"
)

// State is the lifecycle state of an instance.
type State string

// Instance states.
const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

func (s State) catalogStatus() catalog.Status {
	switch s {
	case StateRunning:
		return catalog.StatusRunning
	case StateStopping, StateStopped:
		return catalog.StatusStopping
	case StateFailed:
		return catalog.StatusFailed
	default:
		return catalog.StatusStarting
	}
}

// Instance is one supervised browser. All methods are safe for concurrent
// use.
type Instance struct {
	id     string
	cfg    Config
	deps   *deps
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	port       int
	profileDir string
	proc       exec.Process
	output     *logging.OutputWriters
	target     *discovery.Target
	channel    *cdp.Channel
	entry      *catalog.Entry
	startedAt  time.Time
	failure    error
	active     bool
	cancel     context.CancelFunc
	startDone  chan struct{}
	stopped    chan struct{}

	sessionMu sync.Mutex
}

func newInstance(id string, cfg Config, d *deps, logger *slog.Logger) *Instance {
	return &Instance{
		id:        id,
		cfg:       cfg.withDefaults(),
		deps:      d,
		logger:    logger.With("instance", id),
		state:     StateStarting,
		startDone: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// ID returns the instance identifier.
func (i *Instance) ID() string {
	return i.id
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Port returns the debugging port, or 0 when none is held.
func (i *Instance) Port() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.port
}

// Pid returns the browser process id, or 0 when no process is held.
func (i *Instance) Pid() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.proc == nil {
		return 0
	}
	return i.proc.Pid()
}

// ProfileDir returns the profile directory, or "" when none is held.
func (i *Instance) ProfileDir() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.profileDir
}

// LogPath returns the browser output log, or "" when output is not captured.
func (i *Instance) LogPath() string {
	if i.deps.logs == nil {
		return ""
	}
	return i.deps.logs.BrowserLogPath(i.id)
}

// StartedAt returns when the instance became running.
func (i *Instance) StartedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startedAt
}

// Target returns the page target the session channel attaches to.
func (i *Instance) Target() *discovery.Target {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.target == nil {
		return nil
	}
	t := *i.target
	return &t
}

// Err returns why the instance failed, or nil.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failure
}

// Targets lists the browser's current targets.
func (i *Instance) Targets(ctx context.Context) ([]discovery.Target, error) {
	port, err := i.runningPort()
	if err != nil {
		return nil, err
	}
	return i.deps.discovery.Targets(ctx, port)
}

// Version returns the browser's version information.
func (i *Instance) Version(ctx context.Context) (*discovery.Version, error) {
	port, err := i.runningPort()
	if err != nil {
		return nil, err
	}
	return i.deps.discovery.Version(ctx, port)
}

func (i *Instance) runningPort() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateRunning {
		return 0, &NotRunningError{ID: i.id, State: i.state}
	}
	return i.port, nil
}

// Start launches the browser and opens the session channel. Any failure
// releases everything acquired so far and leaves the instance Failed.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.state != StateStarting || i.cancel != nil {
		i.mu.Unlock()
		return errAlreadyStarted
	}
	startCtx, cancel := context.WithTimeout(ctx, i.cfg.StartupTimeout)
	i.cancel = cancel
	i.mu.Unlock()

	defer close(i.startDone)
	defer cancel()

	began := time.Now()
	if err := i.start(startCtx); err != nil {
		i.logger.Warn("instance failed to start", "error", err)
		i.mu.Lock()
		i.state = StateFailed
		i.failure = err
		i.mu.Unlock()

		// Rollback must finish even though startCtx may be done.
		rollbackCtx := slogger.WithLogger(context.WithoutCancel(ctx), i.logger)
		if tdErr := i.teardown(rollbackCtx); tdErr != nil {
			i.logger.Warn("rollback incomplete", "error", tdErr)
		}
		i.deps.metrics.InstanceStartFailed()
		return err
	}

	i.mu.Lock()
	i.state = StateRunning
	i.startedAt = time.Now()
	i.active = true
	proc := i.proc
	channel := i.channel
	i.mu.Unlock()

	i.deps.metrics.InstanceStarted(time.Since(began))
	i.updateCatalog(ctx)
	i.logger.Info("instance running", "port", i.Port(), "pid", proc.Pid(), "elapsed", time.Since(began).Round(time.Millisecond))

	go i.watchProcess(proc)
	go i.watchChannel(channel)
	return nil
}

func (i *Instance) start(ctx context.Context) error {
	port, err := i.deps.ports.Allocate()
	if err != nil {
		return fmt.Errorf("allocate port: %w", err)
	}
	i.mu.Lock()
	i.port = port
	i.mu.Unlock()

	profileDir, err := i.deps.profiles.Create(i.id)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	i.mu.Lock()
	i.profileDir = profileDir
	i.mu.Unlock()

	executable := i.cfg.Executable
	if executable == "" {
		if executable, err = FindExecutable(i.deps.launcher.LookPath); err != nil {
			return err
		}
	}

	opts := &exec.StartOptions{
		Name: executable,
		Args: launchArgs(i.cfg, port, profileDir),
		Env:  i.cfg.Env,
	}
	if i.deps.logs != nil {
		if err := i.openOutput(opts); err != nil {
			return err
		}
	}

	i.addCatalog(ctx, executable)

	i.logger.Debug("launching browser", "executable", executable, "args", opts.Args)
	proc, err := i.deps.launcher.Start(ctx, opts)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.proc = proc
	i.mu.Unlock()
	i.updateCatalog(ctx)

	target, err := i.waitReady(ctx, proc, port)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.target = target
	i.mu.Unlock()

	channel, err := i.dial(ctx, target)
	if err != nil {
		return &StartupError{ID: i.id, Stage: "connect", Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: err}
	}
	i.mu.Lock()
	i.channel = channel
	i.mu.Unlock()
	return nil
}

func (i *Instance) openOutput(opts *exec.StartOptions) error {
	logPath, err := i.deps.logs.EnsureBrowserLog(i.id)
	if err != nil {
		return err
	}
	output, err := logging.NewOutputWriters(logPath, nil, nil)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.output = output
	i.mu.Unlock()

	opts.Stdout = output.Stdout
	opts.Stderr = output.Stderr
	return nil
}

// waitReady polls discovery until a target appears, the process exits or
// ctx expires.
func (i *Instance) waitReady(ctx context.Context, proc exec.Process, port int) (*discovery.Target, error) {
	readyCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		select {
		case <-proc.Done():
			cancel(ErrProcessExited)
		case <-readyCtx.Done():
		}
	}()

	target, err := i.deps.discovery.WaitReady(readyCtx, port, i.cfg.PollInterval)
	if err == nil {
		return target, nil
	}

	if errors.Is(context.Cause(readyCtx), ErrProcessExited) {
		exitErr := proc.Wait(0)
		if exitErr == nil {
			return nil, &StartupError{ID: i.id, Stage: "discovery", Err: ErrProcessExited}
		}
		return nil, &StartupError{ID: i.id, Stage: "discovery", Err: fmt.Errorf("%w: %w", ErrProcessExited, exitErr)}
	}
	return nil, &StartupError{
		ID:      i.id,
		Stage:   "discovery",
		Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}

func (i *Instance) dial(ctx context.Context, target *discovery.Target) (*cdp.Channel, error) {
	opts := i.cfg.Session
	opts.Logger = i.logger
	opts.Metrics = i.deps.metrics
	return i.deps.dial(ctx, target.WebSocketDebuggerURL, opts)
}

// Session returns the open session channel, dialing a new one if the
// previous channel was closed by its user. It fails with ErrNotRunning
// unless the instance is Running.
func (i *Instance) Session(ctx context.Context) (*cdp.Channel, error) {
	i.sessionMu.Lock()
	defer i.sessionMu.Unlock()

	i.mu.Lock()
	if i.state != StateRunning {
		state := i.state
		i.mu.Unlock()
		return nil, &NotRunningError{ID: i.id, State: state}
	}
	if i.channel != nil && i.channel.State() == cdp.StateOpen {
		ch := i.channel
		i.mu.Unlock()
		return ch, nil
	}
	target := *i.target
	i.mu.Unlock()

	channel, err := i.dial(ctx, &target)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	if i.state != StateRunning {
		state := i.state
		i.mu.Unlock()
		_ = channel.Close() //nolint:errcheck // best-effort cleanup
		return nil, &NotRunningError{ID: i.id, State: state}
	}
	i.channel = channel
	i.mu.Unlock()

	go i.watchChannel(channel)
	return channel, nil
}

// watchProcess fails the instance if the browser exits while running.
func (i *Instance) watchProcess(proc exec.Process) {
	select {
	case <-proc.Done():
		i.fail(fmt.Errorf("%w: %v", ErrProcessExited, proc.Wait(0)))
	case <-i.stopped:
	}
}

// watchChannel fails the instance if the channel breaks. A channel closed by
// its user is not a failure.
func (i *Instance) watchChannel(ch *cdp.Channel) {
	select {
	case <-ch.Done():
		if err := ch.Err(); err != nil {
			i.fail(fmt.Errorf("session channel lost: %w", err))
		}
	case <-i.stopped:
	}
}

func (i *Instance) fail(reason error) {
	i.mu.Lock()
	if i.state != StateRunning {
		i.mu.Unlock()
		return
	}
	i.state = StateFailed
	i.failure = reason
	wasActive := i.active
	i.active = false
	i.mu.Unlock()

	if wasActive {
		i.deps.metrics.InstanceStopped()
	}
	i.logger.Warn("instance failed", "error", reason)
	i.updateCatalog(slogger.WithLogger(context.Background(), i.logger))
}

// Stop tears the instance down: session channel, then browser process,
// then profile directory, then port. Every step runs even if an earlier one
// fails. Stop is idempotent and works from any state; stopping an instance
// that is still starting cancels the start first.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	if i.state == StateStarting && i.cancel != nil {
		cancel := i.cancel
		i.mu.Unlock()
		cancel()
		select {
		case <-i.startDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		i.mu.Lock()
	}

	switch i.state {
	case StateStopped:
		i.mu.Unlock()
		return nil
	case StateStopping:
		i.mu.Unlock()
		select {
		case <-i.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	i.state = StateStopping
	wasActive := i.active
	i.active = false
	i.mu.Unlock()

	i.logger.Info("stopping instance")
	err := i.teardown(slogger.WithLogger(ctx, i.logger))
	if wasActive {
		i.deps.metrics.InstanceStopped()
	}

	i.mu.Lock()
	i.state = StateStopped
	close(i.stopped)
	i.mu.Unlock()
	return err
}

// teardown releases every resource still held. Each step's failure is
// logged and joined; later steps still run. Released resources are cleared
// so a second teardown is a no-op.
func (i *Instance) teardown(ctx context.Context) error {
	i.mu.Lock()
	channel, proc, output := i.channel, i.proc, i.output
	profileDir, port, entry := i.profileDir, i.port, i.entry
	i.channel, i.proc, i.output = nil, nil, nil
	i.profileDir, i.port, i.entry = "", 0, nil
	i.mu.Unlock()

	var errs []error
	step := func(name string, err error) {
		if err == nil {
			return
		}
		i.deps.metrics.TeardownFailed()
		i.logger.Warn("teardown step failed", "step", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if channel != nil {
		step("close session", channel.Close())
	}
	if proc != nil {
		step("stop browser", exec.Shutdown(proc, i.cfg.StopGrace))
	}
	if profileDir != "" {
		step("remove profile", i.deps.profiles.Destroy(ctx, profileDir))
	}
	if port != 0 {
		i.deps.ports.Release(port)
	}
	if output != nil {
		step("close log", output.Close())
	}
	if entry != nil && i.deps.catalog != nil {
		if err := i.deps.catalog.Remove(context.WithoutCancel(ctx), entry.ID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
			step("remove catalog entry", err)
		}
	}

	return errors.Join(errs...)
}

func (i *Instance) addCatalog(ctx context.Context, executable string) {
	if i.deps.catalog == nil {
		return
	}

	i.mu.Lock()
	entry := &catalog.Entry{
		ID:         i.id,
		OwnerPID:   os.Getpid(),
		Port:       i.port,
		ProfileDir: i.profileDir,
		Executable: executable,
		LogPath:    i.LogPath(),
		CreatedAt:  time.Now(),
		Status:     catalog.StatusStarting,
	}
	i.mu.Unlock()

	if err := i.deps.catalog.Add(ctx, *entry); err != nil {
		i.logger.Warn("failed to record instance in catalog", "error", err)
		return
	}
	i.mu.Lock()
	i.entry = entry
	i.mu.Unlock()
}

func (i *Instance) updateCatalog(ctx context.Context) {
	if i.deps.catalog == nil {
		return
	}

	i.mu.Lock()
	if i.entry == nil {
		i.mu.Unlock()
		return
	}
	if i.proc != nil {
		i.entry.Pid = i.proc.Pid()
	}
	i.entry.Status = i.state.catalogStatus()
	entry := *i.entry
	i.mu.Unlock()

	if err := i.deps.catalog.Update(ctx, entry); err != nil {
		i.logger.Warn("failed to update catalog entry", "error", err)
	}
}
