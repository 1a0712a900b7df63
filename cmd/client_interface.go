package cmd

import (
	"context"

	"firestige.xyz/synthcap/internal/command"
)

// ClientInterface is the daemon API the control commands use.
type ClientInterface interface {
	CaptureWrite(ctx context.Context, params command.WriteParams) (*command.WriteResult, error)
	CaptureStats(ctx context.Context) (*command.StatsResult, error)
	DaemonStatus(ctx context.Context) (*command.StatusResult, error)
	DaemonShutdown(ctx context.Context) error
}

// newClient is replaced in tests.
var newClient = func() (ClientInterface, error) {
	path, err := resolveSocket()
	if err != nil {
		return nil, err
	}
	return command.NewUDSClient(path, timeout), nil
}
