package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/catalog"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List recorded browser instances",
	Long: `List the browser instances recorded in the catalog, across every
periscope process on this machine.

Instances whose owning periscope process is gone are marked as orphaned.
Clean them up with 'periscope reap'.`,
	Example: `  # List all instances
  periscope ps

  # List only orphaned instances
  periscope ps --orphaned`,
	Args: cobra.NoArgs,
	RunE: runPsCmd,
}

func runPsCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	orphanedOnly, err := cmd.Flags().GetBool("orphaned")
	if err != nil {
		return fmt.Errorf("get orphaned flag: %w", err)
	}

	store, err := requireCatalog(ctx)
	if err != nil {
		return err
	}
	reaper := ReaperFromContext(ctx)
	if reaper == nil {
		return errors.New("reaper not initialized")
	}

	entries, err := store.List(ctx, catalog.ListFilter{})
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	orphans, err := reaper.Orphans(ctx)
	if err != nil {
		return fmt.Errorf("find orphans: %w", err)
	}
	orphaned := make(map[string]bool, len(orphans))
	for _, e := range orphans {
		orphaned[e.ID] = true
	}

	if orphanedOnly {
		entries = orphans
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No instances found.")
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tSTATUS\tPORT\tPID\tOWNER\tCREATED"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		status := string(e.Status)
		if orphaned[e.ID] {
			status += " (orphaned)"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			e.ID,
			status,
			e.Port,
			formatPid(e.Pid),
			e.OwnerPID,
			formatTimeAgo(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("write instance: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

func formatPid(pid int) string {
	if pid == 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func init() {
	rootCmd.AddCommand(psCmd)

	psCmd.Flags().Bool("orphaned", false, "only list instances whose owner has exited")
}
