package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_CreatesDefaultIfMissing(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	loader, err := NewLoader()
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Check defaults
	assert.Empty(t, cfg.Browser.Executable)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "about:blank", cfg.Browser.InitialURL)
	assert.Equal(t, 4, cfg.Instances.Max)
	assert.Equal(t, 30*time.Second, cfg.Instances.StartupTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Instances.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Instances.StopGrace)
	assert.Equal(t, 32, cfg.Ports.ProbeAttempts)
	assert.Equal(t, 30*time.Second, cfg.Session.CommandTimeout)
	assert.Equal(t, 256, cfg.Session.EventQueueSize)
	assert.Empty(t, cfg.Storage.Profiles)
	assert.Equal(t, filepath.Join(tmpHome, DefaultDataDir, "catalog.json"), cfg.Storage.Catalog)
	assert.Equal(t, filepath.Join(tmpHome, DefaultDataDir, "logs"), cfg.Storage.Logs)

	// Verify file was created
	_, err = os.Stat(loader.Path())
	assert.NoError(t, err)
}

func TestLoader_Load_ReadsExistingConfig(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	// Create config manually
	configDir := filepath.Join(tmpHome, ".config", "periscope")
	require.NoError(t, os.MkdirAll(configDir, 0755))

	configContent := `
browser:
  executable: /opt/chromium/chrome
  headless: false
  window_width: 1280
  window_height: 720
  flags:
    lang: de-DE
    disable-gpu: true
  env:
    - TZ=UTC
instances:
  max: 2
  startup_timeout: 45s
ports:
  min: 9300
  max: 9399
storage:
  profiles: ~/custom/profiles
  catalog: ~/custom/catalog.json
  logs: ~/custom/logs
`
	require.NoError(t, os.WriteFile(
		filepath.Join(configDir, "config.yaml"),
		[]byte(configContent),
		0644,
	))

	loader, err := NewLoader()
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/opt/chromium/chrome", cfg.Browser.Executable)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1280, cfg.Browser.WindowWidth)
	assert.Equal(t, 720, cfg.Browser.WindowHeight)
	assert.Equal(t, "de-DE", cfg.Browser.Flags["lang"])
	assert.Equal(t, true, cfg.Browser.Flags["disable-gpu"])
	assert.Equal(t, []string{"TZ=UTC"}, cfg.Browser.Env)
	assert.Equal(t, 2, cfg.Instances.Max)
	assert.Equal(t, 45*time.Second, cfg.Instances.StartupTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Instances.PollInterval, "unset keys keep defaults")
	assert.Equal(t, 9300, cfg.Ports.Min)
	assert.Equal(t, 9399, cfg.Ports.Max)
	assert.Equal(t, filepath.Join(tmpHome, "custom", "profiles"), cfg.Storage.Profiles)
	assert.Equal(t, filepath.Join(tmpHome, "custom", "catalog.json"), cfg.Storage.Catalog)
	assert.Equal(t, filepath.Join(tmpHome, "custom", "logs"), cfg.Storage.Logs)
}

func TestLoader_Load_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  min: 9400\n  max: 9300\n"), 0644))

	loader, err := NewLoaderAt(path)
	require.NoError(t, err)

	_, err = loader.Load()

	assert.ErrorContains(t, err, "config validation failed")
}

func TestLoader_Load_EnvVarOverride(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("PERISCOPE_BROWSER", "/env/chrome")
	t.Setenv("PERISCOPE_HEADLESS", "false")
	t.Setenv("PERISCOPE_INSTANCES_MAX", "9")

	loader, err := NewLoader()
	require.NoError(t, err)

	cfg, err := loader.Load()
	require.NoError(t, err)

	// Env vars should override file defaults
	assert.Equal(t, "/env/chrome", cfg.Browser.Executable)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 9, cfg.Instances.Max)
}

func TestLoader_Path(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	loader, err := NewLoader()
	require.NoError(t, err)

	expected := filepath.Join(tmpHome, ".config", "periscope", "config.yaml")
	assert.Equal(t, expected, loader.Path())

	custom, err := NewLoaderAt("/etc/periscope.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/periscope.yaml", custom.Path())
}

func TestLoader_Get(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	loader, err := NewLoader()
	require.NoError(t, err)

	_, err = loader.Load()
	require.NoError(t, err)

	t.Run("valid key returns value", func(t *testing.T) {
		val, err := loader.Get("browser.initial_url")
		require.NoError(t, err)
		assert.Equal(t, "about:blank", val)
	})

	t.Run("invalid key returns error", func(t *testing.T) {
		_, err := loader.Get("invalid.key")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestLoader_Set(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	loader, err := NewLoader()
	require.NoError(t, err)

	_, err = loader.Load()
	require.NoError(t, err)

	t.Run("sets valid key", func(t *testing.T) {
		require.NoError(t, loader.Set("instances.max", "8"))

		val, err := loader.Get("instances.max")
		require.NoError(t, err)
		assert.Equal(t, "8", val)
	})

	t.Run("persists to disk", func(t *testing.T) {
		require.NoError(t, loader.Set("session.command_timeout", "1m"))

		reloaded, err := NewLoader()
		require.NoError(t, err)
		cfg, err := reloaded.Load()
		require.NoError(t, err)
		assert.Equal(t, time.Minute, cfg.Session.CommandTimeout)
	})

	t.Run("sets a browser flag", func(t *testing.T) {
		require.NoError(t, loader.Set("browser.flags.lang", "fr-FR"))

		val, err := loader.Get("browser.flags.lang")
		require.NoError(t, err)
		assert.Equal(t, "fr-FR", val)
	})

	t.Run("rejects invalid key", func(t *testing.T) {
		err := loader.Set("invalid.key", "value")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("rejects invalid value and keeps previous", func(t *testing.T) {
		err := loader.Set("instances.startup_timeout", "soon")
		assert.ErrorIs(t, err, ErrInvalidValue)

		err = loader.Set("session.event_queue_size", "0")
		assert.ErrorIs(t, err, ErrInvalidValue)

		val, err := loader.Get("session.event_queue_size")
		require.NoError(t, err)
		assert.EqualValues(t, 256, val)
	})
}

func validConfig() *Config {
	return &Config{
		Instances: InstancesConfig{StartupTimeout: time.Second, PollInterval: time.Millisecond},
		Session:   SessionConfig{CommandTimeout: time.Second, EventQueueSize: 1, HandshakeTimeout: time.Second},
		Storage:   StorageConfig{Catalog: "/tmp/catalog.json", Logs: "/tmp/logs"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "valid port range", mutate: func(c *Config) { c.Ports = PortsConfig{Min: 9000, Max: 9100} }},
		{name: "inverted port range", mutate: func(c *Config) { c.Ports = PortsConfig{Min: 9100, Max: 9000} }, wantErr: "Max"},
		{name: "port out of range", mutate: func(c *Config) { c.Ports = PortsConfig{Min: 1, Max: 70000} }, wantErr: "Max"},
		{name: "negative max instances", mutate: func(c *Config) { c.Instances.Max = -1 }, wantErr: "Max"},
		{name: "zero startup timeout", mutate: func(c *Config) { c.Instances.StartupTimeout = 0 }, wantErr: "StartupTimeout"},
		{name: "zero queue size", mutate: func(c *Config) { c.Session.EventQueueSize = 0 }, wantErr: "EventQueueSize"},
		{name: "negative window", mutate: func(c *Config) { c.Browser.WindowWidth = -1 }, wantErr: "WindowWidth"},
		{name: "missing catalog", mutate: func(c *Config) { c.Storage.Catalog = "" }, wantErr: "Catalog"},
		{name: "empty env entry", mutate: func(c *Config) { c.Browser.Env = []string{""} }, wantErr: "Env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"browser.executable is valid", "browser.executable", nil},
		{"instances.max is valid", "instances.max", nil},
		{"ports.probe_attempts is valid", "ports.probe_attempts", nil},
		{"session.command_timeout is valid", "session.command_timeout", nil},
		{"storage.catalog is valid", "storage.catalog", nil},
		{"section is valid", "browser", nil},
		{"browser.flags is valid", "browser.flags", nil},
		{"browser flag subkey is valid", "browser.flags.lang", nil},
		{"empty flag subkey returns error", "browser.flags.", ErrInvalidKey},
		{"unknown.key returns error", "unknown.key", ErrInvalidKey},
		{"empty key returns error", "", ErrInvalidKey},
		{"random key returns error", "foo", ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()

	assert.Contains(t, keys, "browser.headless")
	assert.Contains(t, keys, "storage.logs")
	assert.IsIncreasing(t, keys)
}

func TestLoader_expandPath(t *testing.T) {
	tmpHome := "/home/test"
	loader := &Loader{homeDir: tmpHome}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"expands ~/ prefix", "~/foo", filepath.Join(tmpHome, "foo")},
		{"expands ~ alone", "~", tmpHome},
		{"preserves absolute path", "/absolute/path", "/absolute/path"},
		{"preserves relative path", "relative/path", "relative/path"},
		{"preserves empty path", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := loader.expandPath(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
