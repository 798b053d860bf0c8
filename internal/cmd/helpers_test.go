package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/config"
	"github.com/jmgilman/periscope/internal/instance"
)

func TestParseWindowSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    int
		wantErr bool
	}{
		{in: "1280x720", w: 1280, h: 720},
		{in: "800X600", w: 800, h: 600},
		{in: "1024,768", w: 1024, h: 768},
		{in: " 640 x 480 ", w: 640, h: 480},
		{in: "1280", wantErr: true},
		{in: "axb", wantErr: true},
		{in: "0x720", wantErr: true},
		{in: "-1x720", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseWindowSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "", formatList(nil))
	assert.Equal(t, "a", formatList([]string{"a"}))
	assert.Equal(t, "a and b", formatList([]string{"a", "b"}))
	assert.Equal(t, "a, b, and c", formatList([]string{"a", "b", "c"}))
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()

	assert.Equal(t, "just now", formatTimeAgo(now))
	assert.Equal(t, "5m ago", formatTimeAgo(now.Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", formatTimeAgo(now.Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", formatTimeAgo(now.Add(-49*time.Hour)))
}

func TestFormatPid(t *testing.T) {
	assert.Equal(t, "-", formatPid(0))
	assert.Equal(t, "4242", formatPid(4242))
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addBrowserFlags(cmd)
	return cmd
}

func baseConfig() *config.Config {
	return &config.Config{
		Browser: config.BrowserConfig{
			Executable: "/usr/bin/chromium",
			Headless:   true,
			InitialURL: "about:blank",
			Flags:      map[string]any{"lang": "en", "mute-audio": true},
		},
		Instances: config.InstancesConfig{
			StartupTimeout: 30 * time.Second,
			PollInterval:   100 * time.Millisecond,
			StopGrace:      5 * time.Second,
		},
		Session: config.SessionConfig{
			CommandTimeout:   30 * time.Second,
			EventQueueSize:   256,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func TestInstanceConfig(t *testing.T) {
	t.Run("uses config values", func(t *testing.T) {
		ic, err := instanceConfig(testCommand(), baseConfig())
		require.NoError(t, err)

		assert.Equal(t, "/usr/bin/chromium", ic.Executable)
		assert.True(t, ic.Headless)
		assert.Equal(t, "about:blank", ic.InitialURL)
		assert.Equal(t, 30*time.Second, ic.StartupTimeout)
		assert.Equal(t, 5*time.Second, ic.StopGrace)
		assert.Equal(t, 256, ic.Session.EventQueueSize)

		assert.Equal(t, "en", ic.Flags["lang"])
	})

	t.Run("command line overrides config", func(t *testing.T) {
		cmd := testCommand()
		require.NoError(t, cmd.Flags().Parse([]string{
			"--browser", "/opt/chrome",
			"--headless=false",
			"--window-size", "800x600",
			"--flag=--lang=de",
			"--startup-timeout", "5s",
		}))

		ic, err := instanceConfig(cmd, baseConfig())
		require.NoError(t, err)

		assert.Equal(t, "/opt/chrome", ic.Executable)
		assert.False(t, ic.Headless)
		assert.Equal(t, 800, ic.WindowWidth)
		assert.Equal(t, 600, ic.WindowHeight)
		assert.Equal(t, 5*time.Second, ic.StartupTimeout)

		assert.Equal(t, "de", ic.Flags["lang"])
		assert.Equal(t, true, ic.Flags["mute-audio"])
	})

	t.Run("headless default does not override config", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Browser.Headless = false

		ic, err := instanceConfig(testCommand(), cfg)
		require.NoError(t, err)

		assert.False(t, ic.Headless)
	})

	t.Run("rejects bad window size", func(t *testing.T) {
		cmd := testCommand()
		require.NoError(t, cmd.Flags().Parse([]string{"--window-size", "wide"}))

		_, err := instanceConfig(cmd, baseConfig())

		assert.ErrorContains(t, err, "invalid window size")
	})
}

func TestErrorHint(t *testing.T) {
	err := errorHint(instance.ErrExecutableNotFound)
	assert.ErrorIs(t, err, instance.ErrExecutableNotFound)
	assert.Contains(t, err.Error(), "PERISCOPE_BROWSER")

	plain := errors.New("boom")
	assert.Equal(t, plain, errorHint(plain))
}

func TestPrintEvalResult(t *testing.T) {
	run := func(t *testing.T, raw string) (string, error) {
		t.Helper()
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		err := printEvalResult(cmd, cdp.Result(raw))
		return out.String(), err
	}

	t.Run("prints value as JSON", func(t *testing.T) {
		out, err := run(t, `{"result":{"type":"number","value":2}}`)
		require.NoError(t, err)
		assert.Equal(t, "2\n", out)
	})

	t.Run("prints strings quoted", func(t *testing.T) {
		out, err := run(t, `{"result":{"type":"string","value":"hi"}}`)
		require.NoError(t, err)
		assert.Equal(t, "\"hi\"\n", out)
	})

	t.Run("prints type when there is no value", func(t *testing.T) {
		out, err := run(t, `{"result":{"type":"undefined"}}`)
		require.NoError(t, err)
		assert.Equal(t, "undefined\n", out)
	})

	t.Run("exception is an error", func(t *testing.T) {
		_, err := run(t, `{"result":{"type":"object"},"exceptionDetails":{"text":"Uncaught","exception":{"description":"Error: boom"}}}`)
		assert.ErrorIs(t, err, ErrEvaluation)
		assert.ErrorContains(t, err, "Error: boom")
	})
}

func TestReportReaped(t *testing.T) {
	t.Run("all reaped", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)

		err := reportReaped(cmd, []instance.Reaped{
			{Entry: catalog.Entry{ID: "a"}},
			{Entry: catalog.Entry{ID: "b"}, Killed: true},
		})

		require.NoError(t, err)
		assert.Equal(t, "Reaped a and b\n", out.String())
	})

	t.Run("failures are returned", func(t *testing.T) {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)
		cause := errors.New("permission denied")

		err := reportReaped(cmd, []instance.Reaped{
			{Entry: catalog.Entry{ID: "a"}},
			{Entry: catalog.Entry{ID: "b"}, Err: cause},
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "could not fully reap b")
		assert.Equal(t, "Reaped a\n", out.String())
	})
}
