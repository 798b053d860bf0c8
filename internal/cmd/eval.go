package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/periscope/internal/cdp"
	"github.com/jmgilman/periscope/internal/slogger"
)

// ErrEvaluation is returned when the expression throws.
var ErrEvaluation = errors.New("evaluation failed")

var evalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate JavaScript in a fresh browser",
	Long: `Launch a browser, optionally load a page, evaluate one JavaScript
expression and print its value as JSON. The browser is torn down before
periscope exits.`,
	Example: `  # Simple arithmetic
  periscope eval '1 + 1'

  # Read the title of a page
  periscope eval --url https://example.com 'document.title'

  # Await a promise
  periscope eval --await 'fetch("/").then(r => r.status)' --url https://example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runEvalCmd,
}

func runEvalCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	url, _ := cmd.Flags().GetString("url")
	await, _ := cmd.Flags().GetBool("await")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := mgr.CloseAll(closeCtx); err != nil {
			slogger.L(ctx).Error("teardown incomplete", "error", err)
		}
	}()

	inst, err := createInstance(ctx, mgr, "", ic)
	if err != nil {
		return err
	}

	ch, err := inst.Session(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	if url != "" {
		if err := navigate(ctx, ch, url, timeout); err != nil {
			return err
		}
	}

	res, err := ch.SendTimeout("Runtime.evaluate", map[string]any{
		"expression":    args[0],
		"returnByValue": true,
		"awaitPromise":  await,
	}, timeout)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	return printEvalResult(cmd, res)
}

// navigate loads url and waits for the page's load event.
func navigate(ctx context.Context, ch *cdp.Channel, url string, timeout time.Duration) error {
	sub := ch.Subscribe("Page.loadEventFired")
	defer sub.Unsubscribe()

	if _, err := ch.Send(ctx, "Page.enable", nil); err != nil {
		return fmt.Errorf("enable page events: %w", err)
	}

	res, err := ch.SendTimeout("Page.navigate", map[string]any{"url": url}, timeout)
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if errText := res.Get("errorText").String(); errText != "" {
		return fmt.Errorf("navigate to %s: %s", url, errText)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case _, ok := <-sub.Events():
		if !ok {
			return fmt.Errorf("navigate: %w", cdp.ErrChannelClosed)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("navigate to %s: page did not finish loading within %s", url, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printEvalResult(cmd *cobra.Command, res cdp.Result) error {
	if exc := res.Get("exceptionDetails"); exc.Exists() {
		msg := exc.Get("exception.description").String()
		if msg == "" {
			msg = exc.Get("text").String()
		}
		return fmt.Errorf("%w: %s", ErrEvaluation, msg)
	}

	value := res.Get("result.value")
	if !value.Exists() {
		// undefined, functions and symbols have no JSON value.
		_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Get("result.type").String())
		return err
	}

	out := []byte(value.Raw)
	if isTerminal(os.Stdout) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, out, "", "  "); err == nil {
			out = buf.Bytes()
		}
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func init() {
	rootCmd.AddCommand(evalCmd)

	addBrowserFlags(evalCmd)
	evalCmd.Flags().String("url", "", "page to load before evaluating")
	evalCmd.Flags().Bool("await", false, "await the result if it is a promise")
	evalCmd.Flags().Duration("timeout", 30*time.Second, "timeout for navigation and evaluation")
}
