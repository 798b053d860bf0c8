// Package config provides configuration management for periscope.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir  = ".config/periscope"
	DefaultConfigFile = "config.yaml"
	DefaultDataDir    = ".local/share/periscope"
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey   = errors.New("invalid configuration key")
	ErrInvalidValue = errors.New("invalid configuration value")
)

// mapKeys are keys whose values are free-form maps; any subkey is valid.
var mapKeys = []string{"browser.flags"}

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full periscope configuration.
type Config struct {
	Browser   BrowserConfig   `mapstructure:"browser"`
	Instances InstancesConfig `mapstructure:"instances"`
	Ports     PortsConfig     `mapstructure:"ports"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
}

// BrowserConfig holds how browsers are launched.
type BrowserConfig struct {
	Executable   string         `mapstructure:"executable"`
	Headless     bool           `mapstructure:"headless"`
	WindowWidth  int            `mapstructure:"window_width" validate:"gte=0"`
	WindowHeight int            `mapstructure:"window_height" validate:"gte=0"`
	InitialURL   string         `mapstructure:"initial_url"`
	Flags        map[string]any `mapstructure:"flags"`
	Env          []string       `mapstructure:"env" validate:"dive,required"`
}

// InstancesConfig holds instance lifecycle limits and timings.
type InstancesConfig struct {
	Max            int           `mapstructure:"max" validate:"gte=0"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	StopGrace      time.Duration `mapstructure:"stop_grace" validate:"gte=0"`
}

// PortsConfig holds the debugging port range. 0/0 lets the kernel choose.
type PortsConfig struct {
	Min           int `mapstructure:"min" validate:"gte=0,lte=65535"`
	Max           int `mapstructure:"max" validate:"gte=0,lte=65535,gtefield=Min"`
	ProbeAttempts int `mapstructure:"probe_attempts" validate:"gte=0"`
}

// SessionConfig holds session channel settings.
type SessionConfig struct {
	CommandTimeout   time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
	EventQueueSize   int           `mapstructure:"event_queue_size" validate:"gte=1"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
}

// StorageConfig holds storage location configuration.
type StorageConfig struct {
	Profiles string `mapstructure:"profiles"` // Empty = system temp dir
	Catalog  string `mapstructure:"catalog" validate:"required"`
	Logs     string `mapstructure:"logs" validate:"required"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Loader provides configuration loading and saving.
type Loader struct {
	v       *viper.Viper
	path    string
	homeDir string
}

// NewLoader creates a loader for ~/.config/periscope/config.yaml.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return newLoader(filepath.Join(home, DefaultConfigDir, DefaultConfigFile), home), nil
}

// NewLoaderAt creates a loader for an explicit config file path.
func NewLoaderAt(path string) (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return newLoader(path, home), nil
}

func newLoader(configPath, home string) *Loader {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("PERISCOPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Short aliases for the most common overrides.
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("browser.executable", "PERISCOPE_BROWSER")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("browser.headless", "PERISCOPE_HEADLESS")

	l := &Loader{
		v:       v,
		path:    configPath,
		homeDir: home,
	}

	// Set defaults before any config reading
	l.setDefaults()

	return l
}

// setDefaults sets all default configuration values using Viper.
func (l *Loader) setDefaults() {
	l.v.SetDefault("browser.executable", "")
	l.v.SetDefault("browser.headless", true)
	l.v.SetDefault("browser.window_width", 0)
	l.v.SetDefault("browser.window_height", 0)
	l.v.SetDefault("browser.initial_url", "about:blank")
	l.v.SetDefault("browser.flags", map[string]any{})
	l.v.SetDefault("browser.env", []string{})
	l.v.SetDefault("instances.max", 4)
	l.v.SetDefault("instances.startup_timeout", "30s")
	l.v.SetDefault("instances.poll_interval", "100ms")
	l.v.SetDefault("instances.stop_grace", "5s")
	l.v.SetDefault("ports.min", 0)
	l.v.SetDefault("ports.max", 0)
	l.v.SetDefault("ports.probe_attempts", 32)
	l.v.SetDefault("session.command_timeout", "30s")
	l.v.SetDefault("session.event_queue_size", 256)
	l.v.SetDefault("session.handshake_timeout", "10s")
	l.v.SetDefault("storage.profiles", "")
	l.v.SetDefault("storage.catalog", "~/"+DefaultDataDir+"/catalog.json")
	l.v.SetDefault("storage.logs", "~/"+DefaultDataDir+"/logs")
}

// Load reads the configuration file, creating defaults if it doesn't exist.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand paths
	cfg.Storage.Profiles = l.expandPath(cfg.Storage.Profiles)
	cfg.Storage.Catalog = l.expandPath(cfg.Storage.Catalog)
	cfg.Storage.Logs = l.expandPath(cfg.Storage.Logs)

	return &cfg, nil
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// Set sets a configuration value by dot-notation key and writes the file.
// The value is rejected, and the previous one kept, if the resulting
// configuration does not validate.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	prev := l.v.Get(key)
	l.v.Set(key, value)

	cfg, err := l.decode()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		l.v.Set(key, prev)
		return fmt.Errorf("%w: %s=%q: %w", ErrInvalidValue, key, value, err)
	}

	return l.v.WriteConfig()
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	// Check for exact match in derived valid keys
	if validKeys[key] {
		return nil
	}

	// Map-typed keys accept any subkey, e.g. browser.flags.lang
	for _, prefix := range mapKeys {
		if rest, ok := strings.CutPrefix(key, prefix+"."); ok && rest != "" {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// Keys returns every fixed configuration key, sorted.
func Keys() []string {
	out := make([]string, 0, len(validKeys))
	for k := range validKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		// Recurse into nested structs (but not maps)
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}
