package relay

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

const pingTimeout = 10 * time.Second

// pingLoop sends a websocket ping every interval until ctx is done. The
// first failed ping is reported to onFail and ends the loop.
func pingLoop(ctx context.Context, ws *websocket.Conn, interval time.Duration, onFail func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					onFail(err)
				}
				return
			}
		}
	}
}
