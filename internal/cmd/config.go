package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/periscope/internal/config"
	"github.com/jmgilman/periscope/internal/slogger"
)

// ErrNoEditor is returned by --edit when $EDITOR is unset.
var ErrNoEditor = errors.New("EDITOR environment variable not set")

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View and modify configuration",
	Long: `View and modify periscope configuration.

With no arguments, displays all configuration.
With one argument, displays the value for the specified key.
With two arguments, sets the value for the specified key.

Values are validated before they are written; an invalid value leaves the
file unchanged.`,
	Example: `  # Show all config
  periscope config

  # Show value for a specific key
  periscope config browser.executable

  # Set a value
  periscope config instances.max 8

  # Print the config file location
  periscope config --path

  # Open config file in editor
  periscope config --edit`,
	Args: cobra.RangeArgs(0, 2),
	// Only the logger: a broken config file must still be fixable here.
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SetContext(slogger.WithLogger(cmd.Context(), newLogger(cmd)))
		return nil
	},
	RunE: runConfigCmd,
}

func runConfigCmd(cmd *cobra.Command, args []string) error {
	loader, err := newLoader()
	if err != nil {
		return fmt.Errorf("init config loader: %w", err)
	}

	if showPath, _ := cmd.Flags().GetBool("path"); showPath {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
		return err
	}
	if edit, _ := cmd.Flags().GetBool("edit"); edit {
		return runEdit(loader)
	}

	switch len(args) {
	case 0:
		return runShowAll(cmd, loader)
	case 1:
		return runShowKey(cmd, loader, args[0])
	default:
		return runSetKey(cmd, loader, args[0], args[1])
	}
}

func runEdit(loader *config.Loader) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return ErrNoEditor
	}

	// Load creates the file when missing. An existing file is opened even
	// when it no longer validates.
	if _, err := os.Stat(loader.Path()); errors.Is(err, os.ErrNotExist) {
		if _, err := loader.Load(); err != nil {
			return fmt.Errorf("create config: %w", err)
		}
	}

	editorCmd := exec.Command(editor, loader.Path()) //nolint:gosec // G204: editor chosen by the user
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	return editorCmd.Run()
}

func runShowAll(cmd *cobra.Command, loader *config.Loader) error {
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
	return err
}

func runShowKey(cmd *cobra.Command, loader *config.Loader, key string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}

	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	value, err := loader.Get(key)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch v := value.(type) {
	case nil:
		_, err = fmt.Fprintln(w)
	case string:
		_, err = fmt.Fprintln(w, v)
	case map[string]any, []any:
		out, merr := yaml.Marshal(v)
		if merr != nil {
			return fmt.Errorf("marshal value: %w", merr)
		}
		_, err = fmt.Fprint(w, string(out))
	default:
		_, err = fmt.Fprintln(w, v)
	}
	return err
}

func runSetKey(cmd *cobra.Command, loader *config.Loader, key, value string) error {
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := loader.Set(key, value); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
	return err
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().Bool("edit", false, "open config file in $EDITOR")
	configCmd.Flags().Bool("path", false, "print the config file location")
	configCmd.MarkFlagsMutuallyExclusive("edit", "path")
}
