// Package cmd implements the periscope CLI commands using Cobra.
// It provides commands for launching supervised browser instances,
// evaluating scripts in them, and cleaning up after crashed owners.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/config"
	"github.com/jmgilman/periscope/internal/discovery"
	"github.com/jmgilman/periscope/internal/exec"
	"github.com/jmgilman/periscope/internal/instance"
	"github.com/jmgilman/periscope/internal/logging"
	"github.com/jmgilman/periscope/internal/metrics"
	"github.com/jmgilman/periscope/internal/port"
	"github.com/jmgilman/periscope/internal/profile"
	"github.com/jmgilman/periscope/internal/slogger"
)

// Persistent flag values.
var (
	configPath string
	verbosity  int
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "periscope",
	Short: "Launch and drive browsers over the DevTools protocol",
	Long: `Periscope launches isolated browser instances, attaches a DevTools
protocol session to each, and tears them down cleanly.

Every instance gets its own debugging port and a throwaway profile directory.
Instances left behind by a crashed periscope process can be found with
'periscope ps' and cleaned up with 'periscope reap'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		ctx := slogger.WithLogger(cmd.Context(), logger)

		loader, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		mgr, reaper, store, err := initManager(cfg, logger, reg)
		if err != nil {
			return err
		}

		// Store dependencies in context for subcommands
		ctx = WithConfig(ctx, cfg)
		ctx = WithLoader(ctx, loader)
		ctx = WithManager(ctx, mgr)
		ctx = WithReaper(ctx, reaper)
		ctx = WithCatalog(ctx, store)
		ctx = WithRegistry(ctx, reg)
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/periscope/config.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", slogger.FormatText, "log format: text or json")
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	// Long-running commands get timestamps.
	timestamps := cmd.Name() == "launch"
	return slogger.New(slogger.Config{
		Verbosity:  verbosity,
		Format:     logFormat,
		Timestamps: timestamps,
	})
}

func newLoader() (*config.Loader, error) {
	if configPath != "" {
		return config.NewLoaderAt(configPath)
	}
	return config.NewLoader()
}

func loadConfig() (*config.Loader, *config.Config, error) {
	loader, err := newLoader()
	if err != nil {
		return nil, nil, fmt.Errorf("init config loader: %w", err)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return loader, cfg, nil
}

// initManager wires the instance manager and reaper from configuration.
func initManager(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*instance.Manager, *instance.Reaper, *catalog.FileStore, error) {
	ports, err := port.NewAllocator(port.Config{
		Min:           cfg.Ports.Min,
		Max:           cfg.Ports.Max,
		ProbeAttempts: cfg.Ports.ProbeAttempts,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configure ports: %w", err)
	}

	executor := exec.New()
	store := catalog.NewStore(cfg.Storage.Catalog)
	profiles := profile.NewStore(cfg.Storage.Profiles)
	logs := logging.NewPathManager(cfg.Storage.Logs)

	mgr := instance.NewManager(instance.Deps{
		Ports:     ports,
		Profiles:  profiles,
		Launcher:  executor,
		Discovery: discovery.NewClient(discovery.Config{}),
		Catalog:   store,
		Logs:      logs,
		Metrics:   metrics.New(reg),
	}, instance.ManagerConfig{MaxInstances: cfg.Instances.Max}, logger)

	reaper := instance.NewReaper(instance.ReaperDeps{
		Catalog:  store,
		Attacher: executor,
		Profiles: profiles,
		Logs:     logs,
	}, cfg.Instances.StopGrace)

	return mgr, reaper, store, nil
}

// errorHint adds a next step to well-known failures.
func errorHint(err error) error {
	switch {
	case errors.Is(err, instance.ErrExecutableNotFound):
		return fmt.Errorf("%w (set browser.executable or PERISCOPE_BROWSER)", err)
	case errors.Is(err, instance.ErrCapacityExceeded):
		return fmt.Errorf("%w (raise instances.max)", err)
	case errors.Is(err, port.ErrResourceExhausted):
		return fmt.Errorf("%w (widen ports.min/ports.max)", err)
	}
	return err
}

// formatList joins strings with commas and "and" before the last item.
func formatList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
