package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-file capture statistics",
	Long: `Query the synthcap daemon for every capture file it has written:
packets, payload bytes, current sequence numbers and last write time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return runStats(cmd.Context(), client, statsJSON, cmd.OutOrStdout())
	},
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print raw JSON")
}

func runStats(ctx context.Context, client ClientInterface, asJSON bool, out io.Writer) error {
	stats, err := client.CaptureStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stats: %w", err)
	}
	if asJSON {
		return printJSON(out, stats)
	}
	if len(stats.Sessions) == 0 {
		fmt.Fprintln(out, "No capture files written yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tPACKETS\tBYTES\tSEQ\tACK\tLAST WRITE")
	for _, s := range stats.Sessions {
		last := "-"
		if !s.LastWrite.IsZero() {
			last = s.LastWrite.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Name, s.Packets, s.PayloadBytes, s.Seq, s.Ack, last)
	}
	return tw.Flush()
}
