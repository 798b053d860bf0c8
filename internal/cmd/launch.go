package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/instance"
	"github.com/jmgilman/periscope/internal/slogger"
	"github.com/jmgilman/periscope/internal/spinner"
)

// shutdownTimeout bounds teardown when the launch command exits.
const shutdownTimeout = 30 * time.Second

// healthInterval is how often launch checks its instances for crashes.
const healthInterval = time.Second

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch browser instances and keep them running",
	Long: `Launch one or more supervised browser instances and print their
DevTools endpoints. The instances run until periscope is interrupted, at
which point every instance is torn down: session, browser process, profile
directory and port.

If any instance crashes, periscope tears the rest down and exits non-zero.`,
	Example: `  # Launch a headless browser
  periscope launch

  # Launch two visible browsers at a fixed size
  periscope launch -c 2 --headless=false --window-size 1280x720

  # Pass extra browser flags and expose metrics
  periscope launch --flag=--lang=de --metrics-addr 127.0.0.1:9464`,
	Args: cobra.NoArgs,
	RunE: runLaunchCmd,
}

func runLaunchCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := requireConfig(ctx)
	if err != nil {
		return err
	}
	mgr, err := requireManager(ctx)
	if err != nil {
		return err
	}
	ic, err := instanceConfig(cmd, cfg)
	if err != nil {
		return err
	}

	id, _ := cmd.Flags().GetString("id")
	count, _ := cmd.Flags().GetInt("count")
	if count < 1 {
		return errors.New("--count must be at least 1")
	}
	if id != "" && count > 1 {
		return errors.New("--id cannot be combined with --count > 1")
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv, err := serveMetrics(ctx, addr)
		if err != nil {
			return err
		}
		defer srv.Close() //nolint:errcheck // best-effort cleanup
	}

	// Tear everything down on the way out, even if ctx is already canceled.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := mgr.CloseAll(closeCtx); err != nil {
			slogger.L(ctx).Error("teardown incomplete", "error", err)
		}
	}()

	instances := make([]*instance.Instance, 0, count)
	for range count {
		inst, err := createInstance(ctx, mgr, id, ic)
		if err != nil {
			return err
		}
		instances = append(instances, inst)
		printInstance(cmd.OutOrStdout(), inst)
	}

	return supervise(ctx, instances)
}

// createInstance starts one instance behind a spinner.
func createInstance(ctx context.Context, mgr *instance.Manager, id string, ic instance.Config) (*instance.Instance, error) {
	var inst *instance.Instance
	err := spinner.Run(os.Stderr, "Starting browser", func(status io.Writer) error {
		_, _ = fmt.Fprintln(status, "waiting for debugging endpoint") //nolint:errcheck // status line

		var err error
		inst, err = mgr.Create(ctx, id, ic)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", errorHint(err))
	}
	return inst, nil
}

func printInstance(w io.Writer, inst *instance.Instance) {
	target := inst.Target()
	//nolint:errcheck // terminal output
	fmt.Fprintf(w, "%s\tpid=%d\thttp://127.0.0.1:%d\t%s\n",
		inst.ID(), inst.Pid(), inst.Port(), target.WebSocketDebuggerURL)
}

// supervise blocks until ctx is done or an instance fails.
func supervise(ctx context.Context, instances []*instance.Instance) error {
	logger := slogger.L(ctx)
	logger.Info("instances running; press Ctrl+C to stop", "count", len(instances))

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			for _, inst := range instances {
				if inst.State() == instance.StateFailed {
					return fmt.Errorf("instance %s failed: %w", inst.ID(), inst.Err())
				}
			}
		}
	}
}

// serveMetrics exposes the Prometheus registry on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) (*http.Server, error) {
	reg := RegistryFromContext(ctx)
	if reg == nil {
		return nil, errors.New("metrics registry not initialized")
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.L(ctx).Warn("metrics server stopped", "error", err)
		}
	}()
	slogger.L(ctx).Info("serving metrics", "addr", l.Addr().String())
	return srv, nil
}

func init() {
	rootCmd.AddCommand(launchCmd)

	addBrowserFlags(launchCmd)
	launchCmd.Flags().String("id", "", "instance id (generated when empty)")
	launchCmd.Flags().IntP("count", "c", 1, "number of instances to launch")
	launchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
}
