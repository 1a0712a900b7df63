package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/core"
	"firestige.xyz/synthcap/internal/daemon"
	"firestige.xyz/synthcap/internal/transcript"
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Append one chunk to a capture file directly",
	Long: `Append one chunk to a capture file without a running daemon.

The file is created under capture.output_dir. Sequence numbers start fresh in
every process, so use send or replay to build multi-chunk conversations.

Examples:
  synthcap write -f demo.pcap --data 'GET / HTTP/1.1' --src-port 50000 --dst-port 443
  printf 'HTTP/1.1 200 OK\r\n\r\n' | synthcap write -f demo.pcap -d received`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := writeFlags.chunk(cmd.Flags(), cmd.InOrStdin())
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w, err := daemon.NewWriter(cfg.Capture)
		if err != nil {
			return err
		}
		return runWrite(cmd.Context(), w, c, cmd.OutOrStdout())
	},
}

var writeFlags chunkFlags

func init() {
	writeFlags.register(writeCmd.Flags())
}

func runWrite(ctx context.Context, w transcript.ChunkWriter, c core.Chunk, out io.Writer) error {
	if err := w.Write(ctx, c); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %d bytes (%s) appended to %s\n", len(c.Payload), c.Direction, c.File)
	return nil
}
