package instance

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/periscope/internal/flags"
)

func TestLaunchFlags(t *testing.T) {
	base := Config{InitialURL: "about:blank"}

	t.Run("fixed contract", func(t *testing.T) {
		f := launchFlags(base, 9333, "/tmp/periscope-a", false)

		assert.Equal(t, "9333", f["remote-debugging-port"])
		assert.Equal(t, "127.0.0.1", f["remote-debugging-address"])
		assert.Equal(t, "/tmp/periscope-a", f["user-data-dir"])
		assert.Equal(t, true, f["no-first-run"])
		assert.Equal(t, true, f["no-default-browser-check"])
		assert.NotContains(t, f, "headless")
		assert.NotContains(t, f, "window-size")
		assert.NotContains(t, f, "no-sandbox")
	})

	t.Run("headless and window size", func(t *testing.T) {
		cfg := base
		cfg.Headless = true
		cfg.WindowWidth = 1280
		cfg.WindowHeight = 720

		f := launchFlags(cfg, 9333, "/tmp/p", false)

		assert.Equal(t, true, f["headless"])
		assert.Equal(t, "1280,720", f["window-size"])
	})

	t.Run("window size needs both dimensions", func(t *testing.T) {
		cfg := base
		cfg.WindowWidth = 1280

		assert.NotContains(t, launchFlags(cfg, 9333, "/tmp/p", false), "window-size")
	})

	t.Run("root disables sandbox", func(t *testing.T) {
		assert.Equal(t, true, launchFlags(base, 9333, "/tmp/p", true)["no-sandbox"])

		cfg := base
		cfg.Flags = flags.Flags{"no-sandbox": false}
		assert.Equal(t, false, launchFlags(cfg, 9333, "/tmp/p", true)["no-sandbox"])
	})

	t.Run("configured flags override defaults", func(t *testing.T) {
		cfg := base
		cfg.Flags = flags.Flags{
			"disable-extensions": false,
			"lang":               "de-DE",
		}

		f := launchFlags(cfg, 9333, "/tmp/p", false)

		assert.Equal(t, false, f["disable-extensions"])
		assert.Equal(t, "de-DE", f["lang"])
	})

	t.Run("configured features extend the defaults", func(t *testing.T) {
		cfg := base
		cfg.Flags = flags.Flags{"disable-features": []string{"Translate", "PaintHolding"}}

		f := launchFlags(cfg, 9333, "/tmp/p", false)

		features, ok := f["disable-features"].([]string)
		require.True(t, ok)
		assert.Contains(t, features, "MediaRouter")
		assert.Contains(t, features, "PaintHolding")
		assert.Equal(t, 1, countOf(features, "Translate"))
		assert.Len(t, defaultFlags["disable-features"], 4)
	})

	t.Run("port and profile cannot be overridden", func(t *testing.T) {
		cfg := base
		cfg.Flags = flags.Flags{
			"remote-debugging-port": "1",
			"user-data-dir":         "/home/me/.config/chromium",
		}

		f := launchFlags(cfg, 9333, "/tmp/p", false)

		assert.Equal(t, "9333", f["remote-debugging-port"])
		assert.Equal(t, "/tmp/p", f["user-data-dir"])
	})

	t.Run("defaults are not mutated", func(t *testing.T) {
		cfg := base
		cfg.Flags = flags.Flags{"disable-extensions": false}
		launchFlags(cfg, 9333, "/tmp/p", false)

		assert.Equal(t, true, defaultFlags["disable-extensions"])
		assert.NotContains(t, defaultFlags, "user-data-dir")
	})
}

func countOf(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}

func TestLaunchArgs(t *testing.T) {
	cfg := Config{InitialURL: "https://example.com"}

	args := launchArgs(cfg, 9333, "/tmp/p")

	require.NotEmpty(t, args)
	assert.Equal(t, "https://example.com", args[len(args)-1], "initial URL is positional")
	assert.Contains(t, args, "--remote-debugging-port=9333")
	assert.Contains(t, args, "--user-data-dir=/tmp/p")
	assert.Contains(t, args, "--no-first-run")
}

func TestFindExecutable(t *testing.T) {
	t.Run("first candidate wins", func(t *testing.T) {
		var tried []string
		path, err := FindExecutable(func(name string) (string, error) {
			tried = append(tried, name)
			if name == "chromium" || name == "google-chrome" {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		})

		require.NoError(t, err)
		assert.Equal(t, "/usr/bin/chromium", path)
		assert.Equal(t, "chromium", tried[len(tried)-1])
	})

	t.Run("none found", func(t *testing.T) {
		_, err := FindExecutable(func(string) (string, error) {
			return "", errors.New("not found")
		})

		assert.ErrorIs(t, err, ErrExecutableNotFound)
	})
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, DefaultInitialURL, cfg.InitialURL)
	assert.Equal(t, DefaultStartupTimeout, cfg.StartupTimeout)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultStopGrace, cfg.StopGrace)
}
