// Package port hands out local debugging ports to browser instances.
//
// An Allocator guarantees that no two ports it has handed out and not yet
// released are equal. Each candidate is probed by binding it on the loopback
// interface before it is returned, so a port that another process already
// holds is skipped.
package port

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
)

// DefaultProbeAttempts is the number of candidates tried before giving up.
const DefaultProbeAttempts = 32

// loopbackHost is the interface every probe binds.
const loopbackHost = "127.0.0.1"

// Sentinel errors for port operations.
var (
	// ErrResourceExhausted is returned when no free port could be bound
	// within the configured number of probe attempts.
	ErrResourceExhausted = errors.New("no free debugging port available")

	// ErrInvalidRange is returned when the configured range is malformed.
	ErrInvalidRange = errors.New("invalid port range")
)

// Config configures an Allocator.
type Config struct {
	// Min and Max bound the candidate range (inclusive). When both are zero
	// the kernel picks an ephemeral port for every probe.
	Min int
	Max int

	// ProbeAttempts bounds the number of candidates tried per Allocate call.
	// Defaults to DefaultProbeAttempts.
	ProbeAttempts int
}

// listenFunc binds a TCP listener; swapped in tests.
type listenFunc func(network, address string) (net.Listener, error)

// Allocator hands out free local ports.
type Allocator struct {
	cfg    Config
	listen listenFunc

	mu     sync.Mutex
	inUse  map[int]struct{}
	cursor int
}

// NewAllocator creates an Allocator from cfg.
func NewAllocator(cfg Config) (*Allocator, error) {
	if cfg.Min < 0 || cfg.Max < 0 || cfg.Max > 65535 {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, cfg.Min, cfg.Max)
	}
	if (cfg.Min == 0) != (cfg.Max == 0) || cfg.Min > cfg.Max {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, cfg.Min, cfg.Max)
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = DefaultProbeAttempts
	}

	return &Allocator{
		cfg:    cfg,
		listen: net.Listen,
		inUse:  make(map[int]struct{}),
		cursor: cfg.Min,
	}, nil
}

// Allocate returns a port that is bindable right now and not held by any
// other caller of this Allocator.
func (a *Allocator) Allocate() (int, error) {
	var lastErr error

	for range a.cfg.ProbeAttempts {
		candidate := a.nextCandidate()
		if candidate != 0 && a.held(candidate) {
			continue
		}

		// Probe outside the lock; only map mutation is serialized.
		port, err := a.probe(candidate)
		if err != nil {
			lastErr = err
			continue
		}

		if a.reserve(port) {
			return port, nil
		}
	}

	if lastErr != nil {
		return 0, fmt.Errorf("%w after %d attempts: %v", ErrResourceExhausted, a.cfg.ProbeAttempts, lastErr)
	}
	return 0, fmt.Errorf("%w after %d attempts", ErrResourceExhausted, a.cfg.ProbeAttempts)
}

// Release returns port to the pool. Releasing a port that is not held is a
// no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.inUse, port)
	a.mu.Unlock()
}

// InUse returns the currently held ports in ascending order.
func (a *Allocator) InUse() []int {
	a.mu.Lock()
	ports := make([]int, 0, len(a.inUse))
	for p := range a.inUse {
		ports = append(ports, p)
	}
	a.mu.Unlock()

	sort.Ints(ports)
	return ports
}

// nextCandidate returns the next port to probe, or 0 to let the kernel pick.
func (a *Allocator) nextCandidate() int {
	if a.cfg.Min == 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.cursor
	a.cursor++
	if a.cursor > a.cfg.Max {
		a.cursor = a.cfg.Min
	}
	return p
}

func (a *Allocator) held(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.inUse[port]
	return ok
}

// reserve records port as held. It reports false if another caller won the
// race for the same port.
func (a *Allocator) reserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.inUse[port]; ok {
		return false
	}
	a.inUse[port] = struct{}{}
	return true
}

// probe binds candidate on the loopback interface and immediately releases
// it, returning the bound port number.
func (a *Allocator) probe(candidate int) (int, error) {
	ln, err := a.listen("tcp", net.JoinHostPort(loopbackHost, strconv.Itoa(candidate)))
	if err != nil {
		return 0, fmt.Errorf("bind port %d: %w", candidate, err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %s", ln.Addr())
	}
	return addr.Port, nil
}
