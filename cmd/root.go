// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/synthcap/internal/command"
	"firestige.xyz/synthcap/internal/config"
)

var (
	// Global flags
	configFile string
	socketPath string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "synthcap",
	Short: "synthcap - turn intercepted application data into pcap captures",
	Long: `synthcap writes application-layer bytes intercepted inside a process
(for example plaintext recovered from a TLS session) into pcap files that
Wireshark and tcpdump open as ordinary IPv4/TCP captures.

Each chunk is wrapped in a synthetic IPv4/TCP packet whose sequence numbers
advance per file and per direction, so stream reassembly works.

Chunks arrive either through the daemon's Unix socket (serve, send), from a
single command line (write) or from a YAML transcript (replay).`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults and SYNTHCAP_* env)")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"daemon socket path (default: control.socket from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"timeout for daemon requests")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads --config, or defaults when the flag is empty.
func loadConfig() (*config.GlobalConfig, error) {
	return config.Load(configFile)
}

// resolveSocket prefers --socket over the configured control socket.
func resolveSocket() (string, error) {
	if socketPath != "" {
		return socketPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Control.Socket, nil
}
