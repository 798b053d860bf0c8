package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/discovery"
	"github.com/jmgilman/periscope/internal/exec"
	"github.com/jmgilman/periscope/internal/logging"
	"github.com/jmgilman/periscope/internal/metrics"
	"github.com/jmgilman/periscope/internal/names"
	"github.com/jmgilman/periscope/internal/slogger"
)

// portAllocator is the internal interface for debugging port allocation.
type portAllocator interface {
	Allocate() (int, error)
	Release(port int)
}

// profileStore is the internal interface for profile directories.
type profileStore interface {
	Create(hint string) (string, error)
	Destroy(ctx context.Context, path string) error
}

// launcher is the internal interface for starting browser processes.
type launcher interface {
	Start(ctx context.Context, opts *exec.StartOptions) (exec.Process, error)
	LookPath(name string) (string, error)
}

// discoverer is the internal interface for the discovery endpoint.
type discoverer interface {
	Targets(ctx context.Context, port int) ([]discovery.Target, error)
	Version(ctx context.Context, port int) (*discovery.Version, error)
	WaitReady(ctx context.Context, port int, interval time.Duration) (*discovery.Target, error)
}

// catalogStore is the internal interface for recording live instances.
type catalogStore interface {
	Add(ctx context.Context, entry catalog.Entry) error
	Update(ctx context.Context, entry catalog.Entry) error
	Remove(ctx context.Context, id string) error
}

// DialFunc opens a session channel to a control URL.
type DialFunc func(ctx context.Context, url string, opts cdp.Options) (*cdp.Channel, error)

// Deps are the collaborators shared by every instance of a Manager.
type Deps struct {
	Ports     portAllocator // Required
	Profiles  profileStore  // Required
	Launcher  launcher      // Required
	Discovery discoverer    // Required
	Dial      DialFunc      // Defaults to cdp.Dial
	Catalog   catalogStore  // Optional; records instances for reaping
	Logs      *logging.PathManager
	Metrics   *metrics.Metrics
}

type deps struct {
	ports     portAllocator
	profiles  profileStore
	launcher  launcher
	discovery discoverer
	dial      DialFunc
	catalog   catalogStore
	logs      *logging.PathManager
	metrics   *metrics.Metrics
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	MaxInstances int // Upper bound on live instances (0 = unlimited)
}

// Manager owns the set of live instances.
type Manager struct {
	deps   *deps
	max    int
	logger *slog.Logger

	mu        sync.Mutex
	instances map[string]*Instance
	created   map[string]time.Time
}

// NewManager creates a new instance manager.
func NewManager(d Deps, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if d.Dial == nil {
		d.Dial = cdp.Dial
	}
	if logger == nil {
		logger = slogger.Discard()
	}
	return &Manager{
		deps: &deps{
			ports:     d.Ports,
			profiles:  d.Profiles,
			launcher:  d.Launcher,
			discovery: d.Discovery,
			dial:      d.Dial,
			catalog:   d.Catalog,
			logs:      d.Logs,
			metrics:   d.Metrics,
		},
		max:       cfg.MaxInstances,
		logger:    logger,
		instances: make(map[string]*Instance),
		created:   make(map[string]time.Time),
	}
}

// Create starts a new instance. An empty id generates one. It fails with
// ErrCapacityExceeded when the limit is reached and ErrAlreadyExists when
// the id is live; in both cases nothing is launched. If the start fails the
// id is freed again and the start error is returned.
func (m *Manager) Create(ctx context.Context, id string, cfg Config) (*Instance, error) {
	if id != "" {
		if err := names.Validate(id); err != nil {
			return nil, err
		}
	}

	inst, err := m.reserve(id, cfg)
	if err != nil {
		return nil, err
	}

	if err := inst.Start(ctx); err != nil {
		m.remove(inst)
		return nil, err
	}
	return inst, nil
}

// reserve claims a slot and an id under the registry lock.
func (m *Manager) reserve(id string, cfg Config) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.instances) >= m.max {
		return nil, &CapacityError{Max: m.max}
	}

	if id == "" {
		generated, err := names.GenerateUnique(func(name string) bool {
			_, ok := m.instances[name]
			return ok
		}, 0)
		if err != nil {
			return nil, fmt.Errorf("generate instance id: %w", err)
		}
		id = generated
	} else if _, ok := m.instances[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	inst := newInstance(id, cfg, m.deps, m.logger)
	m.instances[id] = inst
	m.created[id] = time.Now()
	return inst, nil
}

func (m *Manager) remove(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[inst.id] == inst {
		delete(m.instances, inst.id)
		delete(m.created, inst.id)
	}
}

// Get returns a live instance by id.
func (m *Manager) Get(id string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst, nil
}

// List returns the live instances in creation order.
func (m *Manager) List() []*Instance {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(a, b int) bool {
		return m.created[out[a].id].Before(m.created[out[b].id])
	})
	return out
}

// Len returns the number of live instances.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// Close stops one instance and frees its id. The id is freed even if the
// teardown reports errors.
func (m *Manager) Close(ctx context.Context, id string) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	err = inst.Stop(ctx)
	m.remove(inst)
	return err
}

// CloseAll stops every instance concurrently and waits for all of them.
// Failures are collected into a *CloseAllError; one failure never prevents
// the other teardowns.
func (m *Manager) CloseAll(ctx context.Context) error {
	instances := m.List()
	if len(instances) == 0 {
		return nil
	}

	var mu sync.Mutex
	failures := make(map[string]error)

	// Errors are recorded per instance so the group never cancels siblings.
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		g.Go(func() error {
			if err := inst.Stop(gctx); err != nil {
				mu.Lock()
				failures[inst.id] = err
				mu.Unlock()
			}
			m.remove(inst)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	if len(failures) > 0 {
		err := &CloseAllError{Total: len(instances), Failures: failures}
		m.logger.Warn("some instances did not close cleanly", "error", err)
		return err
	}
	m.logger.Debug("closed all instances", "count", len(instances))
	return nil
}

// IsCapacity reports whether err is a capacity rejection.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
