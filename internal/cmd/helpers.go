package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmgilman/periscope/internal/catalog"
	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/config"
	"github.com/jmgilman/periscope/internal/flags"
	"github.com/jmgilman/periscope/internal/instance"
)

func requireManager(ctx context.Context) (*instance.Manager, error) {
	mgr := ManagerFromContext(ctx)
	if mgr == nil {
		return nil, errors.New("instance manager not initialized")
	}
	return mgr, nil
}

func requireConfig(ctx context.Context) (*config.Config, error) {
	cfg := ConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func requireCatalog(ctx context.Context) (catalog.Store, error) {
	store := CatalogFromContext(ctx)
	if store == nil {
		return nil, errors.New("instance catalog not initialized")
	}
	return store, nil
}

// addBrowserFlags registers the launch overrides shared by launch and eval.
func addBrowserFlags(cmd *cobra.Command) {
	cmd.Flags().String("browser", "", "browser executable (overrides browser.executable)")
	cmd.Flags().Bool("headless", true, "run without a visible window (overrides browser.headless)")
	cmd.Flags().String("window-size", "", "initial window size as WIDTHxHEIGHT")
	cmd.Flags().StringArray("flag", nil, "extra browser flag, e.g. --flag=--lang=de (repeatable)")
	cmd.Flags().Duration("startup-timeout", 0, "bound on browser startup (overrides instances.startup_timeout)")
}

// instanceConfig builds the launch configuration: config file values with
// command-line overrides on top.
func instanceConfig(cmd *cobra.Command, cfg *config.Config) (instance.Config, error) {
	configFlags, err := flags.FromConfig(cfg.Browser.Flags)
	if err != nil {
		return instance.Config{}, fmt.Errorf("parse browser flags: %w", err)
	}

	ic := instance.Config{
		Executable:     cfg.Browser.Executable,
		Headless:       cfg.Browser.Headless,
		WindowWidth:    cfg.Browser.WindowWidth,
		WindowHeight:   cfg.Browser.WindowHeight,
		InitialURL:     cfg.Browser.InitialURL,
		Flags:          configFlags,
		Env:            cfg.Browser.Env,
		StartupTimeout: cfg.Instances.StartupTimeout,
		PollInterval:   cfg.Instances.PollInterval,
		StopGrace:      cfg.Instances.StopGrace,
		Session: cdp.Options{
			CommandTimeout:   cfg.Session.CommandTimeout,
			EventQueueSize:   cfg.Session.EventQueueSize,
			HandshakeTimeout: cfg.Session.HandshakeTimeout,
		},
	}

	if browser, _ := cmd.Flags().GetString("browser"); browser != "" {
		ic.Executable = browser
	}
	if cmd.Flags().Changed("headless") {
		ic.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if size, _ := cmd.Flags().GetString("window-size"); size != "" {
		w, h, err := parseWindowSize(size)
		if err != nil {
			return instance.Config{}, err
		}
		ic.WindowWidth, ic.WindowHeight = w, h
	}
	if extra, _ := cmd.Flags().GetStringArray("flag"); len(extra) > 0 {
		ic.Flags = flags.Merge(ic.Flags, flags.Parse(extra))
	}
	if timeout, _ := cmd.Flags().GetDuration("startup-timeout"); timeout > 0 {
		ic.StartupTimeout = timeout
	}

	return ic, nil
}

// parseWindowSize parses "1280x720" (or "1280,720").
func parseWindowSize(s string) (int, int, error) {
	sep := "x"
	if strings.Contains(s, ",") {
		sep = ","
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), sep)
	if !ok {
		return 0, 0, fmt.Errorf("invalid window size %q: want WIDTHxHEIGHT", s)
	}
	w, werr := strconv.Atoi(strings.TrimSpace(ws))
	h, herr := strconv.Atoi(strings.TrimSpace(hs))
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid window size %q: want WIDTHxHEIGHT", s)
	}
	return w, h, nil
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// formatTimeAgo formats a time as a human-readable relative time.
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
