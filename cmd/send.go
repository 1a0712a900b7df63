package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/command"
	"firestige.xyz/synthcap/internal/core"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one chunk to the running daemon",
	Long: `Send one chunk to the running daemon over its Unix socket.

Unlike write, the daemon keeps sequence numbers across calls, so repeated
sends to the same file form one TCP conversation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := sendFlags.chunk(cmd.Flags(), cmd.InOrStdin())
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		return runSend(cmd.Context(), client, c, cmd.OutOrStdout())
	},
}

var sendFlags chunkFlags

func init() {
	sendFlags.register(sendCmd.Flags())
}

func runSend(ctx context.Context, client ClientInterface, c core.Chunk, out io.Writer) error {
	res, err := client.CaptureWrite(ctx, command.WriteParams{
		File:      c.File,
		Payload:   c.Payload,
		Direction: c.Direction,
		SrcAddr:   c.SrcAddr,
		DstAddr:   c.DstAddr,
		SrcPort:   c.SrcPort,
		DstPort:   c.DstPort,
	})
	if err != nil {
		return fmt.Errorf("capture_write failed: %w", err)
	}
	fmt.Fprintf(out, "✓ %d bytes (%s) sent to %s\n", res.Bytes, c.Direction, res.File)
	return nil
}
