package instance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/exec"
	"github.com/jmgilman/periscope/internal/logging"
	"github.com/jmgilman/periscope/internal/slogger"
)

// reapCatalog is the internal interface the reaper needs from the catalog.
type reapCatalog interface {
	List(ctx context.Context, filter catalog.ListFilter) ([]catalog.Entry, error)
	Remove(ctx context.Context, id string) error
}

// attacher is the internal interface for handles to processes started
// elsewhere.
type attacher interface {
	Attach(pid int) (exec.Process, error)
}

// ReaperDeps are the collaborators of a Reaper.
type ReaperDeps struct {
	Catalog  reapCatalog          // Required
	Attacher attacher             // Required
	Profiles profileStore         // Required
	Logs     *logging.PathManager // Optional
}

// Reaped is the outcome of reaping one catalog entry.
type Reaped struct {
	Entry catalog.Entry
	// Killed is true when a browser process was still running.
	Killed bool
	Err    error
}

// Reaper finds instances whose owning process has died and releases what
// they left behind: the browser process, the profile directory, the log
// directory and the catalog entry.
type Reaper struct {
	deps      ReaperDeps
	grace     time.Duration
	ownsPID   func(pid int, profileDir string) bool
	selfPID   int
	ownerDead func(pid int) bool
}

// NewReaper creates a Reaper. grace is the shutdown grace for orphaned
// browsers (0 uses DefaultStopGrace).
func NewReaper(d ReaperDeps, grace time.Duration) *Reaper {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	r := &Reaper{
		deps:    d,
		grace:   grace,
		ownsPID: browserUsesProfile,
		selfPID: os.Getpid(),
	}
	r.ownerDead = r.processGone
	return r
}

// Orphans returns the catalog entries whose owner process is gone.
func (r *Reaper) Orphans(ctx context.Context) ([]catalog.Entry, error) {
	entries, err := r.deps.Catalog.List(ctx, catalog.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	var orphans []catalog.Entry
	for _, e := range entries {
		if e.OwnerPID == r.selfPID {
			continue
		}
		if r.ownerDead(e.OwnerPID) {
			orphans = append(orphans, e)
		}
	}
	return orphans, nil
}

// Reap releases every orphaned instance. Each orphan is handled
// independently; the returned slice reports per-entry failures and the error
// is only set when the catalog could not be read.
func (r *Reaper) Reap(ctx context.Context) ([]Reaped, error) {
	orphans, err := r.Orphans(ctx)
	if err != nil {
		return nil, err
	}

	logger := slogger.L(ctx)
	results := make([]Reaped, 0, len(orphans))
	for _, e := range orphans {
		res := r.reapOne(ctx, logger.With("instance", e.ID), e)
		results = append(results, res)
	}
	return results, nil
}

func (r *Reaper) reapOne(ctx context.Context, logger *slog.Logger, e catalog.Entry) Reaped {
	res := Reaped{Entry: e}
	var errs []error

	if e.Pid > 0 && r.ownsPID(e.Pid, e.ProfileDir) {
		proc, err := r.deps.Attacher.Attach(e.Pid)
		if err == nil && proc.IsAlive() {
			logger.Info("stopping orphaned browser", "pid", e.Pid)
			res.Killed = true
			if err := exec.Shutdown(proc, r.grace); err != nil {
				errs = append(errs, fmt.Errorf("stop browser: %w", err))
			}
		}
	}

	if err := r.deps.Profiles.Destroy(ctx, e.ProfileDir); err != nil {
		errs = append(errs, fmt.Errorf("remove profile: %w", err))
	}
	if r.deps.Logs != nil {
		if err := r.deps.Logs.RemoveInstanceLogs(e.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove logs: %w", err))
		}
	}
	if err := r.deps.Catalog.Remove(ctx, e.ID); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		errs = append(errs, fmt.Errorf("remove catalog entry: %w", err))
	}

	res.Err = errors.Join(errs...)
	if res.Err != nil {
		logger.Warn("reap incomplete", "error", res.Err)
	}
	return res
}

func (r *Reaper) processGone(pid int) bool {
	if pid <= 0 {
		return true
	}
	proc, err := r.deps.Attacher.Attach(pid)
	if err != nil {
		return true
	}
	return !proc.IsAlive()
}

// browserUsesProfile guards against pid reuse: the pid must still belong to
// a browser started with the recorded profile directory. Without procfs the
// check is skipped.
func browserUsesProfile(pid int, profileDir string) bool {
	if runtime.GOOS != "linux" || profileDir == "" {
		return true
	}
	cmdline, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return false
	}
	for _, arg := range bytes.Split(cmdline, []byte{0}) {
		if string(arg) == "--user-data-dir="+profileDir {
			return true
		}
	}
	return false
}
