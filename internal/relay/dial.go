package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const defaultDialTimeout = 30 * time.Second

// Dial opens a websocket connection to endpoint. It makes exactly one
// attempt, bounded by timeout (0 means the 30s default).
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*websocket.Conn, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", RedactURL(endpoint), sanitizeErr(err, endpoint))
	}
	return ws, nil
}

// sanitizeErr removes the endpoint's query string from a dial error
// message. The original error is kept in the chain for errors.Is/As.
func sanitizeErr(err error, endpoint string) error {
	i := strings.IndexAny(endpoint, "?#")
	if i == -1 {
		return err
	}
	secret := endpoint[i:]
	s := err.Error()
	if !strings.Contains(s, secret) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(s, secret, "?REDACTED"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
