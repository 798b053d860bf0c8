// Package logging captures browser process output into per-instance log
// files and reads them back.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// BrowserLogName is the file name of an instance's browser output log.
const BrowserLogName = "browser.log"

// PathManager handles log file path construction and directory management.
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager with the given base directory,
// typically ~/.local/share/periscope/logs.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the base log directory.
func (p *PathManager) BaseDir() string {
	return p.baseDir
}

// InstanceDir returns <baseDir>/<instanceID>.
func (p *PathManager) InstanceDir(instanceID string) string {
	return filepath.Join(p.baseDir, instanceID)
}

// BrowserLogPath returns <baseDir>/<instanceID>/browser.log.
func (p *PathManager) BrowserLogPath(instanceID string) string {
	return filepath.Join(p.baseDir, instanceID, BrowserLogName)
}

// EnsureBrowserLog creates the instance log directory and returns the log
// file path.
func (p *PathManager) EnsureBrowserLog(instanceID string) (string, error) {
	if err := os.MkdirAll(p.InstanceDir(instanceID), 0o750); err != nil {
		return "", fmt.Errorf("create instance log directory: %w", err)
	}
	return p.BrowserLogPath(instanceID), nil
}

// LogExists reports whether the instance has a browser log.
func (p *PathManager) LogExists(instanceID string) bool {
	_, err := os.Stat(p.BrowserLogPath(instanceID))
	return err == nil
}

// RemoveInstanceLogs removes the instance log directory.
func (p *PathManager) RemoveInstanceLogs(instanceID string) error {
	if err := os.RemoveAll(p.InstanceDir(instanceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove instance logs: %w", err)
	}
	return nil
}

// ListInstances returns the IDs of instances that have a browser log, sorted.
func (p *PathManager) ListInstances() ([]string, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && p.LogExists(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
