package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestDial(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		srvPath := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			srvPath <- r.URL.Path
			ws, err := websocket.Accept(w, r, nil)
			if err != nil {
				return
			}
			defer ws.CloseNow()
			_, _, _ = ws.Read(r.Context())
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ws, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/socket", 0)
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer ws.CloseNow()

		if gotPath := <-srvPath; gotPath != "/socket" {
			t.Errorf("path = %q, want %q", gotPath, "/socket")
		}
	})

	t.Run("dial error for unreachable host", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := Dial(ctx, "ws://127.0.0.1:1", 0)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "dial ws://127.0.0.1:1") {
			t.Errorf("error %q does not name the endpoint", err.Error())
		}
	})

	t.Run("not a websocket endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
		if err == nil {
			t.Fatal("expected error for plain HTTP 404, got nil")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Dial(ctx, "ws://127.0.0.1:1", 0)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		// Accept the TCP connection but never answer the upgrade.
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		start := time.Now()
		_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), 100*time.Millisecond)
		if err == nil {
			t.Fatal("expected timeout error, got nil")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Logf("dial error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("dial took %v, want ~100ms", elapsed)
		}
	})
}

func TestSanitizeErr(t *testing.T) {
	endpoint := "wss://example.com/s?token=hunter2"
	base := errors.New(`failed to GET "` + endpoint + `": 401`)

	err := sanitizeErr(base, endpoint)
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("sanitized error leaks token: %v", err)
	}
	if !strings.Contains(err.Error(), "?REDACTED") {
		t.Errorf("sanitized error missing marker: %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("sanitized error should wrap the original")
	}

	plain := errors.New("connection refused")
	if got := sanitizeErr(plain, "ws://example.com"); got != plain {
		t.Errorf("sanitizeErr without query = %v, want original", got)
	}
}
