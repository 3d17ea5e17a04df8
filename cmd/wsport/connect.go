package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/philsphicas/wsport/internal/console"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Relay stdin/stdout lines to the remote endpoint",
		Long: `Connect to the remote endpoint and relay line by line: each stdin line
is sent as one text message, and each message received (starting with
the greeting) is printed as one stdout line. Exits when stdin ends, the
remote endpoint closes, or on interrupt.

Example:
  echo hello | wsport connect --endpoint wss://echo.websocket.org --linger 2s`,
		Args: cobra.NoArgs,
		RunE: runConnect,
	}

	addRelayFlags(cmd)
	cmd.Flags().Duration("linger", 0, "keep receiving for this long after stdin ends")
	return cmd
}

func runConnect(cmd *cobra.Command, _ []string) error {
	rf, err := resolveRelayFlags(cmd)
	if err != nil {
		return err
	}
	linger, _ := cmd.Flags().GetDuration("linger")
	logger := commandLogger(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := console.Config{
		Endpoint:     rf.endpoint,
		DialTimeout:  rf.dialTimeout,
		PingInterval: rf.pingInterval,
		ReadLimit:    rf.readLimit,
		In:           cmd.InOrStdin(),
		Out:          cmd.OutOrStdout(),
		Linger:       linger,
		Logger:       logger,
	}
	if cfg.Metrics, err = resolveMetrics(ctx, cmd, logger); err != nil {
		return err
	}

	return console.Run(ctx, cfg)
}
