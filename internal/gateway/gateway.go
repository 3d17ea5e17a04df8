// Package gateway exposes the relay to a browser front-end.
//
// The gateway is a small HTTP server with a single websocket route. An
// application that connects to it becomes the application side of a fresh
// relay: its text frames are forwarded to the remote endpoint and the
// remote endpoint's frames (after the greeting) are written back to it.
// Only one application is attached at a time by default.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/philsphicas/wsport/internal/httpserve"
	"github.com/philsphicas/wsport/internal/metrics"
	"github.com/philsphicas/wsport/internal/ports"
	"github.com/philsphicas/wsport/internal/relay"
)

// DefaultPath is the websocket route used when Config.Path is empty.
const DefaultPath = "/ws"

// Config holds gateway configuration.
type Config struct {
	Endpoint string // remote websocket endpoint
	Path     string // websocket route; default DefaultPath
	// OriginPatterns lists additional allowed Origin hosts (see
	// websocket.AcceptOptions). Empty allows same-origin requests only.
	OriginPatterns []string
	MaxSessions    int // 0 = 1, <0 = unlimited
	DialTimeout    time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	Logger         *slog.Logger
	Metrics        *metrics.Metrics // optional; nil disables metrics
}

// Server accepts application websockets and relays each to the remote endpoint.
type Server struct {
	cfg Config
	sem *sessionSemaphore
	mux *http.ServeMux
}

// New creates a gateway Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 1
	}
	s := &Server{
		cfg: cfg,
		sem: newSessionSemaphore(cfg.MaxSessions),
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc(cfg.Path, s.handleSession)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve serves the gateway on ln until ctx is cancelled. Open sessions
// are ended when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	return httpserve.Serve(ctx, ln, s, "gateway", s.cfg.Logger)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	logger := s.cfg.Logger.With("remote", r.RemoteAddr)

	if !s.sem.tryAcquire() {
		logger.Warn("max sessions reached, rejecting application")
		s.cfg.Metrics.SessionRejected()
		http.Error(w, "an application session is already attached", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.release()

	app, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = app.CloseNow() }()
	if s.cfg.ReadLimit != 0 {
		app.SetReadLimit(s.cfg.ReadLimit)
	}

	sessionDone := s.cfg.Metrics.SessionStarted()
	defer sessionDone()

	logger.Info("application attached")
	err = s.session(r.Context(), app, logger)
	if err != nil {
		logger.Info("application detached", "error", err)
	} else {
		logger.Info("application detached")
	}
}

// session relays between app and a new relay until either side ends.
func (s *Server) session(ctx context.Context, app *websocket.Conn, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := relay.New(s.cfg.Metrics.Instrument(relay.Config{
		Endpoint:     s.cfg.Endpoint,
		DialTimeout:  s.cfg.DialTimeout,
		PingInterval: s.cfg.PingInterval,
		ReadLimit:    s.cfg.ReadLimit,
		Logger:       logger,
	}))

	pub := make(chan string)
	sub := make(chan string)

	// Application → pub. Reading starts before the remote dial completes so
	// that an application leaving early is noticed.
	go func() {
		defer close(pub)
		for {
			_, data, err := app.Read(ctx)
			if err != nil {
				logger.Debug("application read ended", "error", err)
				if r.State() == relay.StateConnecting {
					// Abandon the pending dial so the session slot is freed.
					cancel()
				}
				return
			}
			select {
			case pub <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()

	// sub → application. A write already in flight completes before the
	// close frame goes out.
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-sub:
				if err := app.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					logger.Debug("application write failed", "error", err)
					cancel()
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err := ports.Wire(ctx, r, pub, sub)
	close(stop)
	<-writerDone
	code, reason := closeStatus(err)
	_ = app.Close(code, reason)
	return err
}

// closeStatus maps the end of a session to the close status sent to the
// application.
func closeStatus(err error) (websocket.StatusCode, string) {
	var cerr *relay.ConnectionError
	switch {
	case err == nil:
		return websocket.StatusNormalClosure, ""
	case errors.As(err, &cerr):
		return websocket.StatusTryAgainLater, "remote unavailable"
	case errors.Is(err, relay.ErrRemoteClosed):
		return websocket.StatusGoingAway, "remote closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return websocket.StatusGoingAway, "shutting down"
	default:
		return websocket.StatusInternalError, "relay error"
	}
}
