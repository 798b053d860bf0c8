package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/instance"
	"github.com/jmgilman/periscope/internal/prompt"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Clean up instances left behind by crashed processes",
	Long: `Find browser instances whose owning periscope process has exited and
release everything they hold: the browser process, its profile directory,
its logs and its catalog entry.

Instances owned by a running periscope process are never touched.`,
	Example: `  # Review and confirm
  periscope reap

  # Skip confirmation
  periscope reap --yes`,
	Args: cobra.NoArgs,
	RunE: runReapCmd,
}

func runReapCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("get yes flag: %w", err)
	}

	reaper := ReaperFromContext(ctx)
	if reaper == nil {
		return errors.New("reaper not initialized")
	}

	orphans, err := reaper.Orphans(ctx)
	if err != nil {
		return fmt.Errorf("find orphans: %w", err)
	}
	if len(orphans) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No orphaned instances.")
		return err
	}

	ids := make([]string, len(orphans))
	for i, e := range orphans {
		ids[i] = e.ID
	}

	var p prompt.Prompter = prompt.Static{Out: cmd.OutOrStdout(), Answer: true}
	if !yes {
		if !prompt.Interactive() {
			return errors.New("refusing to reap without confirmation (use --yes)")
		}
		p = prompt.New()
	}

	p.Print(fmt.Sprintf("Orphaned: %s", formatList(ids)))
	ok, err := p.Confirm(fmt.Sprintf("Reap %d instance(s)?", len(orphans)), "Browsers are stopped and their profiles deleted.")
	if err != nil {
		if errors.Is(err, prompt.ErrCanceled) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}

	results, err := reaper.Reap(ctx)
	if err != nil {
		return fmt.Errorf("reap: %w", err)
	}

	return reportReaped(cmd, results)
}

func reportReaped(cmd *cobra.Command, results []instance.Reaped) error {
	var reaped, failed []string
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Entry.ID)
			errs = append(errs, fmt.Errorf("%s: %w", r.Entry.ID, r.Err))
			continue
		}
		reaped = append(reaped, r.Entry.ID)
	}

	if len(reaped) > 0 {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Reaped %s\n", formatList(reaped)); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not fully reap %s: %w", formatList(failed), errors.Join(errs...))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(reapCmd)

	reapCmd.Flags().BoolP("yes", "y", false, "reap without asking for confirmation")
}
