package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the synthcap daemon",
	Long: `Stop the synthcap daemon gracefully.

This command sends daemon_shutdown over the Unix socket. If the socket does not
answer, SIGTERM is sent to the PID recorded in control.pid_file instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runStop(cmd.Context(), client, func() error {
			return daemon.StopByPIDFile(cfg.Control.PIDFile, cfg.Control.ShutdownTimeout)
		}, cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client ClientInterface, fallback func() error, out io.Writer) error {
	err := client.DaemonShutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Shutdown requested")
		return nil
	}

	fmt.Fprintf(out, "daemon_shutdown failed (%v), falling back to PID file\n", err)
	if ferr := fallback(); ferr != nil {
		if errors.Is(ferr, daemon.ErrNotRunning) {
			return ferr
		}
		return fmt.Errorf("failed to stop daemon: %w", ferr)
	}
	fmt.Fprintln(out, "✓ Daemon stopped")
	return nil
}
