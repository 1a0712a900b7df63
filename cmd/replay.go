package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/daemon"
	"firestige.xyz/synthcap/internal/transcript"
)

var replayCmd = &cobra.Command{
	Use:   "replay <transcript.yml>",
	Short: "Write a YAML transcript into capture files",
	Long: `Replay a recorded conversation into capture files under capture.output_dir.

A transcript lists chunks in the order they were intercepted:

  file: session.pcap          # default file for chunks naming none
  defaults:
    src_port: 50000
    dst_port: 443
  chunks:
    - direction: sent
      data: "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
    - direction: received
      src_port: 443
      dst_port: 50000
      hex: "48 54 54 50 2f 31 2e 31"

Chunks of one file are written in order; different files replay in parallel.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := transcript.Load(args[0])
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
		return runReplay(cmd.Context(), t, w, replayParallel, cmd.OutOrStdout())
	},
}

var replayParallel int

func init() {
	replayCmd.Flags().IntVarP(&replayParallel, "parallel", "j", 0,
		"maximum files written concurrently (0 = unlimited)")
}

func runReplay(ctx context.Context, t *transcript.Transcript, w transcript.ChunkWriter, parallel int, out io.Writer) error {
	results, err := t.Replay(ctx, w, parallel)
	for _, r := range results {
		if r.File == "" {
			continue
		}
		fmt.Fprintf(out, "%-40s %6d chunk(s) %10d byte(s)\n", r.File, r.Chunks, r.Bytes)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Replayed %d file(s)\n", len(results))
	return nil
}
