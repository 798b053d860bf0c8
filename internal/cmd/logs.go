package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "View browser output for an instance",
	Long: `View the stdout and stderr captured from an instance's browser process.

Logs survive the instance, so the output of a browser that failed to start
can still be read. 'periscope reap' deletes logs of orphaned instances.`,
	Example: `  # View recent output (last 100 lines)
  periscope logs brave-turing

  # Follow output in real-time
  periscope logs brave-turing -f

  # Show the entire log
  periscope logs brave-turing --full`,
	Args: cobra.ExactArgs(1),
	RunE: runLogsCmd,
}

func runLogsCmd(cmd *cobra.Command, args []string) error {
	id := args[0]

	follow, err := cmd.Flags().GetBool("follow")
	if err != nil {
		return fmt.Errorf("get follow flag: %w", err)
	}
	lines, err := cmd.Flags().GetInt("lines")
	if err != nil {
		return fmt.Errorf("get lines flag: %w", err)
	}
	full, err := cmd.Flags().GetBool("full")
	if err != nil {
		return fmt.Errorf("get full flag: %w", err)
	}

	cfg, err := requireConfig(cmd.Context())
	if err != nil {
		return err
	}

	paths := logging.NewPathManager(cfg.Storage.Logs)
	if !paths.LogExists(id) {
		return fmt.Errorf("no log file found for instance %s", id)
	}

	return outputLogs(cmd.Context(), logging.NewReader(paths), id, follow, lines, full)
}

func outputLogs(ctx context.Context, reader *logging.Reader, id string, follow bool, lines int, full bool) error {
	if follow {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := reader.Follow(ctx, id, os.Stdout, lines, logging.DefaultFollowInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	var logLines []string
	var err error
	if full {
		logLines, err = reader.ReadAll(id)
	} else {
		logLines, err = reader.ReadLastN(id, lines)
	}
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}

	for _, line := range logLines {
		fmt.Println(line)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolP("follow", "f", false, "follow log output in real-time")
	logsCmd.Flags().IntP("lines", "n", logging.DefaultTailLines, "number of lines to show")
	logsCmd.Flags().Bool("full", false, "show the entire log")
}
