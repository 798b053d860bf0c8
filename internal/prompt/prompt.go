// Package prompt provides user interaction primitives using charmbracelet/huh.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrCanceled is returned when the user cancels a prompt.
var ErrCanceled = errors.New("canceled by user")

// Prompter abstracts user interaction for testability.
type Prompter interface {
	// Print outputs text to the user.
	Print(message string)

	// Confirm prompts for yes/no confirmation.
	Confirm(title, description string) (bool, error)
}

// HuhPrompter implements Prompter using charmbracelet/huh for interactive forms.
type HuhPrompter struct {
	out io.Writer
}

// New creates a new HuhPrompter printing to stdout.
func New() *HuhPrompter {
	return &HuhPrompter{out: os.Stdout}
}

// Interactive reports whether stdin is a terminal a prompt can read from.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Print outputs text to the user.
func (p *HuhPrompter) Print(message string) {
	_, _ = fmt.Fprintln(p.out, message) //nolint:errcheck // terminal output
}

// Confirm prompts for yes/no confirmation.
func (p *HuhPrompter) Confirm(title, description string) (bool, error) {
	var confirmed bool

	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed).
		Run()

	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrCanceled
		}
		return false, fmt.Errorf("confirm prompt: %w", err)
	}

	return confirmed, nil
}

// Static answers every confirmation with a fixed value. It backs --yes and
// non-interactive runs.
type Static struct {
	Out    io.Writer
	Answer bool
}

// Print outputs text to the user.
func (s Static) Print(message string) {
	if s.Out != nil {
		_, _ = fmt.Fprintln(s.Out, message) //nolint:errcheck // terminal output
	}
}

// Confirm returns the fixed answer without asking.
func (s Static) Confirm(string, string) (bool, error) {
	return s.Answer, nil
}
