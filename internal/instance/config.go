package instance

import (
	"time"

	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/flags"
)

// Default lifecycle timings.
const (
	DefaultStartupTimeout = 30 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultStopGrace      = 5 * time.Second
	DefaultInitialURL     = "about:blank"
)

// Config describes how to launch and supervise one browser instance.
type Config struct {
	Executable   string      // Browser binary; found on PATH when empty
	Headless     bool        // Run without a visible window
	WindowWidth  int         // Initial window width (0 = browser default)
	WindowHeight int         // Initial window height (0 = browser default)
	InitialURL   string      // First page to open (default about:blank)
	Flags        flags.Flags // Extra flags, overriding the defaults
	Env          []string    // Additional environment (KEY=VALUE)

	StartupTimeout time.Duration // Bound on launch plus endpoint readiness
	PollInterval   time.Duration // Discovery polling interval
	StopGrace      time.Duration // Wait after terminate before kill

	Session cdp.Options // Session channel settings
}

func (c Config) withDefaults() Config {
	if c.InitialURL == "" {
		c.InitialURL = DefaultInitialURL
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}
