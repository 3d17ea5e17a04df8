package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/philsphicas/wsport/internal/gateway"
	"github.com/philsphicas/wsport/internal/relay"
	"github.com/spf13/cobra"
)

const defaultListenAddr = "127.0.0.1:8080"

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept a front-end websocket and relay it to the remote endpoint",
		Long: `Start a local websocket gateway. A front-end application connects to
ws://<listen><path>; each attached application gets its own connection to
the remote endpoint, receives the greeting first, and then exchanges text
messages with the remote endpoint unmodified. By default only one
application may be attached at a time.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	addRelayFlags(cmd)
	cmd.Flags().String("listen", "", "local address to listen on (default "+defaultListenAddr+")")
	cmd.Flags().String("path", gateway.DefaultPath, "websocket route")
	cmd.Flags().StringSlice("allow-origin", nil, "additional allowed Origin host patterns (e.g. localhost:*)")
	cmd.Flags().Int("max-sessions", 1, "max concurrently attached applications (-1 = unlimited)")
	return cmd
}

// resolveListen returns the gateway listen address from --listen, the
// WSPORT_LISTEN env var, or the default.
func resolveListen(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		return addr
	}
	if addr := os.Getenv("WSPORT_LISTEN"); addr != "" {
		return addr
	}
	return defaultListenAddr
}

func runServe(cmd *cobra.Command, _ []string) error {
	rf, err := resolveRelayFlags(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("path")
	origins, _ := cmd.Flags().GetStringSlice("allow-origin")
	maxSessions, _ := cmd.Flags().GetInt("max-sessions")
	if maxSessions == 0 || maxSessions < -1 {
		return fmt.Errorf("--max-sessions must be positive or -1, got %d", maxSessions)
	}
	logger := commandLogger(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := gateway.Config{
		Endpoint:       rf.endpoint,
		Path:           path,
		OriginPatterns: origins,
		MaxSessions:    maxSessions,
		DialTimeout:    rf.dialTimeout,
		PingInterval:   rf.pingInterval,
		ReadLimit:      rf.readLimit,
		Logger:         logger,
	}
	if cfg.Metrics, err = resolveMetrics(ctx, cmd, logger); err != nil {
		return err
	}

	addr := resolveListen(cmd)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	logger.Info("relaying", "endpoint", relay.RedactURL(rf.endpoint), "path", path)
	return gateway.New(cfg).Serve(ctx, ln)
}
