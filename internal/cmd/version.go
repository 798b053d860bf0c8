package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/exec"
	"github.com/jmgilman/periscope/internal/instance"
	"github.com/jmgilman/periscope/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long: `Display the version, commit, and build date of periscope.

With --browser, also resolve the configured browser executable and print
the version it reports.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "periscope %s\n", version.Version)
		fmt.Fprintf(out, "  commit: %s\n", version.Commit)
		fmt.Fprintf(out, "  built:  %s\n", version.Date)

		if browser, _ := cmd.Flags().GetBool("browser"); !browser {
			return nil
		}

		cfg, err := requireConfig(cmd.Context())
		if err != nil {
			return err
		}
		path, v, err := browserVersion(cmd.Context(), exec.New(), cfg.Browser.Executable)
		if err != nil {
			return errorHint(err)
		}
		fmt.Fprintf(out, "  browser: %s (%s)\n", v, path)
		return nil
	},
}

// browserVersion resolves the browser executable and asks it for its version.
func browserVersion(ctx context.Context, executor exec.Executor, configured string) (string, string, error) {
	path := configured
	if path == "" {
		found, err := instance.FindExecutable(executor.LookPath)
		if err != nil {
			return "", "", err
		}
		path = found
	}

	res, err := executor.Run(ctx, &exec.RunOptions{Name: path, Args: []string{"--version"}})
	if err != nil {
		return path, "", fmt.Errorf("query browser version: %w", err)
	}
	return path, strings.TrimSpace(string(res.Stdout)), nil
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().Bool("browser", false, "also print the browser version")
}
