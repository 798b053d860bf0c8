package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmgilman/periscope/internal/cdp/cdptest"
	"github.com/jmgilman/periscope/internal/exec"
)

// fakeProcess stands in for a browser process. Terminate and Kill make it
// exit, taking its debugging endpoint down with it.
type fakeProcess struct {
	pid  int
	srv  *cdptest.Server
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	exitErr    error
	terminated bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait(timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitErr
	case <-deadline:
		return exec.ErrWaitTimeout
	}
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// exit simulates the process ending, for example by crashing.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		if p.srv != nil {
			p.srv.Close()
		}
		close(p.done)
	})
}

// fakeLauncher "launches" a browser by serving a fake debugging endpoint
// on the port named in the arguments.
type fakeLauncher struct {
	mu       sync.Mutex
	starts   []exec.StartOptions
	procs    []*fakeProcess
	nextPid  int
	startErr error
	noServer bool // Endpoint never becomes ready
	exitNow  bool // Process exits immediately after launch
	handlers map[string]cdptest.Handler
	hold     chan struct{} // Start blocks until closed, ignoring cancellation
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		nextPid: 4000,
		handlers: map[string]cdptest.Handler{
			"Runtime.evaluate": func(r *cdptest.Responder, _ cdptest.Request) {
				r.Result(map[string]any{"result": map[string]any{"type": "number", "value": 2}})
			},
		},
	}
}

func (l *fakeLauncher) Start(_ context.Context, opts *exec.StartOptions) (exec.Process, error) {
	l.mu.Lock()
	l.starts = append(l.starts, *opts)
	hold := l.hold
	l.mu.Unlock()
	if hold != nil {
		<-hold
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, &exec.LaunchError{Path: opts.Name, Err: l.startErr}
	}

	l.nextPid++
	proc := newFakeProcess(l.nextPid)
	l.procs = append(l.procs, proc)

	switch {
	case l.exitNow:
		proc.exit(errors.New("exit status 21"))
	case !l.noServer:
		port := argValue(opts.Args, "remote-debugging-port")
		srv, err := cdptest.NewServerAt("127.0.0.1:" + port)
		if err != nil {
			return nil, &exec.LaunchError{Path: opts.Name, Err: err}
		}
		for method, h := range l.handlers {
			srv.Handle(method, h)
		}
		proc.srv = srv
	}
	return proc, nil
}

func (l *fakeLauncher) LookPath(name string) (string, error) {
	if name == "chromium" {
		return "/usr/bin/chromium", nil
	}
	return "", fmt.Errorf("%s: not found", name)
}

func (l *fakeLauncher) Starts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts)
}

func (l *fakeLauncher) LastStart() exec.StartOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts[len(l.starts)-1]
}

func (l *fakeLauncher) Process(pid int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.procs {
		if p.pid == pid {
			return p
		}
	}
	return nil
}

func (l *fakeLauncher) LastProcess() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

// argValue returns the value of --name=value in args.
func argValue(args []string, name string) string {
	prefix := "--" + name + "="
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, prefix); ok {
			return v
		}
	}
	return ""
}
