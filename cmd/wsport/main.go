package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). If no cgroup limit is detected, GOMEMLIMIT is
	// left at the Go default.
	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/philsphicas/wsport/internal/metrics"
	"github.com/philsphicas/wsport/internal/relay"
	"github.com/spf13/cobra"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "wsport",
		Short:        "Relay an application's message ports to a websocket endpoint",
		Long:         "Bridge an application to a single remote websocket endpoint, injecting a greeting message when the connection opens.",
		SilenceUsage: true,
	}

	// Global flags.
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address for Prometheus metrics server (e.g. :9090); disabled if empty")

	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// addRelayFlags adds the remote connection flags to a command.
func addRelayFlags(cmd *cobra.Command) {
	cmd.Flags().String("endpoint", "", "remote websocket endpoint (default "+relay.DefaultEndpoint+")")
	cmd.Flags().Duration("dial-timeout", 0, "timeout for establishing the remote connection (0 = 30s)")
	cmd.Flags().Duration("ping-interval", 0, "interval between keepalive pings to the remote endpoint (0 = disabled)")
	cmd.Flags().Int64("read-limit", 0, "max inbound message size in bytes (0 = library default, -1 = unlimited)")
}

// relayFlags holds the resolved remote connection settings.
type relayFlags struct {
	endpoint     string
	dialTimeout  time.Duration
	pingInterval time.Duration
	readLimit    int64
}

// resolveRelayFlags reads the flags added by addRelayFlags.
func resolveRelayFlags(cmd *cobra.Command) (relayFlags, error) {
	endpoint, err := resolveEndpoint(cmd)
	if err != nil {
		return relayFlags{}, err
	}
	rf := relayFlags{endpoint: endpoint}
	rf.dialTimeout, _ = cmd.Flags().GetDuration("dial-timeout")
	rf.pingInterval, _ = cmd.Flags().GetDuration("ping-interval")
	rf.readLimit, _ = cmd.Flags().GetInt64("read-limit")
	if rf.dialTimeout < 0 {
		return relayFlags{}, fmt.Errorf("--dial-timeout must be >= 0, got %s", rf.dialTimeout)
	}
	if rf.pingInterval < 0 {
		return relayFlags{}, fmt.Errorf("--ping-interval must be >= 0, got %s", rf.pingInterval)
	}
	return rf, nil
}

// resolveEndpoint returns the normalized remote endpoint.
//
// Resolution order:
//  1. --endpoint flag
//  2. WSPORT_ENDPOINT env var
//  3. relay.DefaultEndpoint
func resolveEndpoint(cmd *cobra.Command) (string, error) {
	ep, _ := cmd.Flags().GetString("endpoint")
	if ep == "" {
		ep = os.Getenv("WSPORT_ENDPOINT")
	}
	if ep == "" {
		ep = relay.DefaultEndpoint
	}
	endpoint, err := relay.ParseEndpoint(ep)
	if err != nil {
		return "", fmt.Errorf("--endpoint: %w", err)
	}
	return endpoint, nil
}

// resolveMetrics creates a Metrics instance and starts the HTTP server if
// --metrics-addr or WSPORT_METRICS_ADDR is set. Returns nil if metrics are
// disabled. The provided context controls the server's lifetime; when
// cancelled the server shuts down gracefully.
func resolveMetrics(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (*metrics.Metrics, error) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = os.Getenv("WSPORT_METRICS_ADDR")
	}
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, ln, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// commandLogger builds the logger from the --log-level persistent flag.
func commandLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	return newLogger(level)
}
