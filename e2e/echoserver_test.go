//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/coder/websocket"
)

// echoServer is a websocket server that echoes every message back to the
// client, standing in for the remote endpoint.
type echoServer struct {
	srv   *httptest.Server
	conns atomic.Int64
}

// startEchoServer starts a websocket echo server on a random port. If
// closeAfter is positive the server closes each connection normally after
// echoing that many messages.
func startEchoServer(t *testing.T, closeAfter int) *echoServer {
	t.Helper()
	es := &echoServer{}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		es.conns.Add(1)
		es.serve(r.Context(), ws, closeAfter)
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *echoServer) serve(ctx context.Context, ws *websocket.Conn, closeAfter int) {
	for n := 0; closeAfter <= 0 || n < closeAfter; n++ {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if err := ws.Write(ctx, typ, data); err != nil {
			return
		}
	}
	_ = ws.Close(websocket.StatusNormalClosure, "done")
}

// URL returns the echo server's ws:// URL.
func (es *echoServer) URL() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

// ConnectionCount returns the number of websocket connections accepted.
func (es *echoServer) ConnectionCount() int64 {
	return es.conns.Load()
}
