// Package catalog records the browser instances running on this machine so
// that instances orphaned by a crashed owner can be found and reaped.
package catalog

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for catalog operations.
var (
	ErrNotFound      = errors.New("entry not found")
	ErrAlreadyExists = errors.New("entry already exists")
	ErrLockTimeout   = errors.New("failed to acquire catalog lock")
)

// Status mirrors the instance lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusFailed   Status = "failed"
)

// Entry is a persisted record of one browser instance.
type Entry struct {
	ID         string    `json:"id"`
	OwnerPID   int       `json:"owner_pid"` // Process that launched the browser
	Pid        int       `json:"pid"`       // Browser process (0 until launched)
	Port       int       `json:"port"`      // Remote debugging port
	ProfileDir string    `json:"profile_dir"`
	Executable string    `json:"executable"`
	LogPath    string    `json:"log_path,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
}

// ListFilter filters catalog queries.
type ListFilter struct {
	OwnerPID int    // Filter by owning process (0 = all)
	Status   Status // Filter by status (empty = all)
}

// Store provides persistent storage for instance entries.
type Store interface {
	// Add creates a new entry.
	// Returns ErrAlreadyExists if an entry with the same ID or port exists.
	Add(ctx context.Context, entry Entry) error

	// Get retrieves an entry by ID.
	// Returns ErrNotFound if not found.
	Get(ctx context.Context, id string) (*Entry, error)

	// Update modifies an existing entry.
	// Returns ErrNotFound if not found.
	Update(ctx context.Context, entry Entry) error

	// Remove deletes an entry by ID.
	// Returns ErrNotFound if not found.
	Remove(ctx context.Context, id string) error

	// List returns all entries matching the filter, oldest first.
	List(ctx context.Context, filter ListFilter) ([]Entry, error)

	// Prune removes every entry for which keep returns false and returns the
	// removed entries. The whole operation holds the exclusive lock.
	Prune(ctx context.Context, keep func(Entry) bool) ([]Entry, error)
}
