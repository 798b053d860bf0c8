package instance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for instance operations.
var (
	ErrNotFound           = errors.New("instance not found")
	ErrAlreadyExists      = errors.New("instance already exists")
	ErrCapacityExceeded   = errors.New("instance capacity exceeded")
	ErrNotRunning         = errors.New("instance is not running")
	ErrStartupTimeout     = errors.New("browser did not become ready in time")
	ErrProcessExited      = errors.New("browser process exited")
	ErrExecutableNotFound = errors.New("no browser executable found")
	errAlreadyStarted     = errors.New("instance already started")
)

// NotRunningError describes an operation on an instance in the wrong state.
type NotRunningError struct {
	ID    string
	State State
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("instance %s is %s", e.ID, e.State)
}

func (e *NotRunningError) Unwrap() error {
	return ErrNotRunning
}

// CapacityError is returned by Manager.Create when the instance limit is
// reached.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("instance limit of %d reached", e.Max)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// StartupError describes a start that failed after the browser was launched.
// Every resource acquired for the instance has been released by the time it
// is returned.
type StartupError struct {
	ID      string
	Stage   string // "discovery" or "connect"
	Timeout bool
	Err     error
}

func (e *StartupError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("start %s: %s: %v: %v", e.ID, e.Stage, ErrStartupTimeout, e.Err)
	}
	return fmt.Sprintf("start %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *StartupError) Unwrap() []error {
	if e.Timeout {
		return []error{ErrStartupTimeout, e.Err}
	}
	return []error{e.Err}
}

// CloseAllError summarizes the instances whose teardown reported errors.
// Every instance was still torn down.
type CloseAllError struct {
	Total    int
	Failures map[string]error
}

func (e *CloseAllError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("%d of %d instances failed to close cleanly: %s",
		len(e.Failures), e.Total, strings.Join(parts, "; "))
}

func (e *CloseAllError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
