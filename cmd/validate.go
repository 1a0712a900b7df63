package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/transcript"
)

var validateCmd = &cobra.Command{
	Use:   "validate [transcript.yml...]",
	Short: "Validate the configuration and transcripts",
	Long: `Load the configuration (--config, env and defaults) and check it, then
decode every transcript given as argument without writing anything.

Examples:
  synthcap validate -c /etc/synthcap/synthcap.yml
  synthcap validate conv1.yml conv2.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args, cmd.OutOrStdout())
	},
}

func runValidate(transcripts []string, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("INVALID config: %w", err)
	}
	fmt.Fprintf(out, "VALID: config (output_dir %s, address_mode %s, seed_mode %s)\n",
		cfg.Capture.OutputDir, cfg.Capture.AddressMode, cfg.Capture.SeedMode)

	for _, path := range transcripts {
		t, err := transcript.Load(path)
		if err != nil {
			return fmt.Errorf("INVALID %s: %w", path, err)
		}
		fmt.Fprintf(out, "VALID: %s (%d chunk(s))\n", path, len(t.Chunks))
	}
	return nil
}
