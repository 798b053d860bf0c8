package exec

import (
	"errors"
	"fmt"
	"time"
)

// DefaultKillWait bounds how long Shutdown waits for a killed process to be
// reaped.
const DefaultKillWait = 5 * time.Second

// Shutdown stops p with the mandated sequence: a graceful termination
// signal, up to grace for the process to exit, then a forced kill. It never
// kills before attempting graceful termination. A process that has already
// exited is not an error.
func Shutdown(p Process, grace time.Duration) error {
	if p == nil || !p.IsAlive() {
		return nil
	}

	termErr := p.Terminate()
	if termErr == nil {
		if err := p.Wait(grace); !errors.Is(err, ErrWaitTimeout) {
			// Exited within the grace window; the exit status is expected
			// to reflect the signal and is not a failure.
			return nil
		}
	}

	if err := p.Kill(); err != nil {
		return errors.Join(termErr, fmt.Errorf("kill process %d: %w", p.Pid(), err))
	}
	if err := p.Wait(DefaultKillWait); errors.Is(err, ErrWaitTimeout) {
		return fmt.Errorf("process %d still running after kill: %w", p.Pid(), err)
	}
	return nil
}
