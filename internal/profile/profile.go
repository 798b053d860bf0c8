// Package profile creates and destroys isolated, ephemeral browser
// user-data directories.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jmgilman/periscope/internal/slogger"
)

const (
	dirMode    = 0o700
	namePrefix = "periscope"
)

// ErrOutsideRoot is returned by Destroy for paths the store did not create.
var ErrOutsideRoot = errors.New("profile path outside store root")

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)

// Store manages profile directories under a single root.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root. An empty root uses the system
// temporary directory.
func NewStore(root string) *Store {
	if root == "" {
		root = os.TempDir()
	}
	return &Store{root: filepath.Clean(root)}
}

// Root returns the directory profiles are created under.
func (s *Store) Root() string {
	return s.root
}

// Create makes a fresh, empty, uniquely named profile directory. The hint
// (usually the instance ID) is embedded in the name to ease debugging.
func (s *Store) Create(hint string) (string, error) {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return "", fmt.Errorf("create profile root: %w", err)
	}

	pattern := namePrefix + "-"
	if h := sanitize(hint); h != "" {
		pattern += h + "-"
	}

	dir, err := os.MkdirTemp(s.root, pattern+"*")
	if err != nil {
		return "", fmt.Errorf("create profile directory: %w", err)
	}
	if err := os.Chmod(dir, dirMode); err != nil {
		_ = os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("chmod profile directory: %w", err)
	}

	return dir, nil
}

// Destroy recursively removes a profile directory. A missing or partially
// removed directory is not an error. Removal failures are logged as warnings
// and never returned; only a path outside the store root is refused.
func (s *Store) Destroy(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if !s.owns(path) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		slogger.L(ctx).Warn("failed to remove profile directory", "path", path, "error", err)
	}
	return nil
}

// owns reports whether path is a direct child of the root created by this
// store.
func (s *Store) owns(path string) bool {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != s.root {
		return false
	}
	return strings.HasPrefix(filepath.Base(clean), namePrefix+"-")
}

// sanitize converts a hint into a safe path component.
func sanitize(hint string) string {
	s := unsafeChars.ReplaceAllString(hint, "-")
	s = strings.Trim(s, "-")
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
