package relay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultEndpoint is the remote endpoint used when none is configured.
const DefaultEndpoint = "wss://echo.websocket.org"

// ParseEndpoint normalizes a user-supplied endpoint to a ws:// or wss:// URL.
//
// Accepted input formats:
//   - Bare host: "echo.websocket.org" → "wss://echo.websocket.org"
//   - Host, port and path: "localhost:8080/socket" → "wss://localhost:8080/socket"
//   - WebSocket URL: "ws://localhost:8080" → used as-is
//   - HTTP URL: "http://host/x" → "ws://host/x", "https://host" → "wss://host"
//
// Any other scheme, or a URL without a host, is rejected.
func ParseEndpoint(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("endpoint is empty")
	}
	if !strings.Contains(input, "://") {
		input = "wss://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		u.Scheme = strings.ToLower(u.Scheme)
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", RedactURL(input), u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", RedactURL(input))
	}
	return u.String(), nil
}

// RedactURL strips the query string and fragment from s so that tokens
// carried in endpoint URLs do not end up in logs.
func RedactURL(s string) string {
	if i := strings.IndexAny(s, "?#"); i != -1 {
		return s[:i] + "?REDACTED"
	}
	return s
}
