package exec

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// attachPollInterval is how often an attached process is checked for exit.
const attachPollInterval = 50 * time.Millisecond

// childProcess is a Process started by this executor.
type childProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func newProcess(cmd *exec.Cmd) *childProcess {
	p := &childProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p
}

func (p *childProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *childProcess) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *childProcess) Done() <-chan struct{} {
	return p.done
}

func (p *childProcess) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-p.done
		return p.waitErr
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.waitErr
	case <-timer.C:
		return ErrWaitTimeout
	}
}

func (p *childProcess) Terminate() error {
	return ignoreDone(p.cmd.Process.Signal(syscall.SIGTERM))
}

func (p *childProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

// attachedProcess is a Process this executor did not start. It cannot be
// reaped, so liveness is probed with signal 0.
type attachedProcess struct {
	proc     *os.Process
	done     chan struct{}
	doneOnce sync.Once
}

func attach(pid int) (*attachedProcess, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}

	p := &attachedProcess{proc: proc, done: make(chan struct{})}
	if !p.probe() {
		p.markDone()
	}
	return p, nil
}

func (p *attachedProcess) Pid() int {
	return p.proc.Pid
}

func (p *attachedProcess) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	if p.probe() {
		return true
	}
	p.markDone()
	return false
}

func (p *attachedProcess) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *attachedProcess) Done() <-chan struct{} {
	return p.done
}

func (p *attachedProcess) Wait(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(attachPollInterval)
	defer ticker.Stop()

	for {
		if !p.IsAlive() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return ErrWaitTimeout
		}
	}
}

func (p *attachedProcess) Terminate() error {
	return ignoreDone(p.proc.Signal(syscall.SIGTERM))
}

func (p *attachedProcess) Kill() error {
	return ignoreDone(p.proc.Kill())
}

// probe reports whether the pid still refers to a live process.
func (p *attachedProcess) probe() bool {
	err := p.proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to someone else.
	return err == nil || errors.Is(err, syscall.EPERM)
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
