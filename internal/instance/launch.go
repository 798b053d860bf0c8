package instance

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jmgilman/periscope/internal/flags"
)

// defaultFlags quiet first-run UI and background work that would otherwise
// compete with automation.
var defaultFlags = flags.Flags{
	"no-first-run":                           true,
	"no-default-browser-check":               true,
	"disable-background-networking":          true,
	"disable-background-timer-throttling":    true,
	"disable-backgrounding-occluded-windows": true,
	"disable-breakpad":                       true,
	"disable-default-apps":                   true,
	"disable-dev-shm-usage":                  true,
	"disable-extensions":                     true,
	"disable-features":                       []string{"Translate", "MediaRouter", "OptimizationHints", "AcceptCHFrame"},
	"disable-hang-monitor":                   true,
	"disable-popup-blocking":                 true,
	"disable-prompt-on-repost":               true,
	"disable-renderer-backgrounding":         true,
	"metrics-recording-only":                 true,
	"password-store":                         "basic",
	"use-mock-keychain":                      true,
}

// reservedFlags are owned by the instance and dropped from configuration.
var reservedFlags = []string{"remote-debugging-port", "remote-debugging-address", "user-data-dir"}

// launchFlags builds the flag set for one launch. Flags owned by the
// instance (port and profile) cannot be overridden by configuration.
func launchFlags(cfg Config, port int, profileDir string, asRoot bool) flags.Flags {
	f := flags.Merge(defaultFlags, nil)

	if cfg.Headless {
		f["headless"] = true
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		f["window-size"] = fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)
	}
	// Chromium refuses to start as root with the sandbox enabled, unless
	// the user explicitly set "no-sandbox": false.
	if _, ok := cfg.Flags["no-sandbox"]; !ok && asRoot {
		f["no-sandbox"] = true
	}

	f = flags.Merge(f, flags.Without(cfg.Flags, reservedFlags...))
	f["remote-debugging-port"] = strconv.Itoa(port)
	f["remote-debugging-address"] = "127.0.0.1"
	f["user-data-dir"] = profileDir
	return f
}

// launchArgs renders the full argument list; the initial URL is positional
// so the browser opens a page target to attach to.
func launchArgs(cfg Config, port int, profileDir string) []string {
	args := flags.ToArgs(launchFlags(cfg, port, profileDir, os.Geteuid() == 0))
	return append(args, cfg.InitialURL)
}
