// Package names generates and validates browser instance identifiers.
package names

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/docker/pkg/namesgenerator"
)

// ErrInvalid is returned by Validate for identifiers that are not safe to use
// as file and directory names.
var ErrInvalid = errors.New("invalid instance id")

var validID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,62}$`)

// ExistsFn checks if a name already exists.
type ExistsFn func(name string) bool

// Generate returns a random adjective-surname name (e.g., "focused-turing").
func Generate() string {
	return strings.ReplaceAll(namesgenerator.GetRandomName(0), "_", "-")
}

// GenerateUnique returns a name that doesn't exist according to existsFn.
// Returns an error if unable to find a unique name after maxAttempts tries.
func GenerateUnique(existsFn ExistsFn, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = 100
	}

	for range maxAttempts {
		name := Generate()
		if !existsFn(name) {
			return name, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique name after %d attempts", maxAttempts)
}

// Validate checks a caller-supplied identifier. IDs name log directories,
// so they are limited to 63 path-safe characters.
func Validate(id string) error {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	return nil
}
