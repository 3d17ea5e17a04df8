// Package relay bridges an application to a single remote websocket endpoint.
//
// A Relay owns one outbound connection. Text the application sends is
// written to the connection unmodified, and every frame the connection
// receives is handed to the application's handler unmodified. When the
// connection opens the relay first hands the handler a fixed greeting
// (see protocol.GreetingText), so the application always observes the
// greeting before any remote traffic.
//
// A Relay is single-use: it moves Connecting → Open → Closed and never
// reconnects. Callers that want a new connection construct a new Relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/philsphicas/wsport/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send when the connection is not Open.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrRemoteClosed is wrapped by the terminal error when the peer or the
	// network ended the connection.
	ErrRemoteClosed = errors.New("relay: remote closed")

	// ErrAlreadySubscribed is returned when a second handler is registered.
	ErrAlreadySubscribed = errors.New("relay: handler already registered")

	// ErrAlreadyStarted is returned by Start on a relay that was already
	// started or closed.
	ErrAlreadyStarted = errors.New("relay: already started")
)

// ConnectionError reports that the connection could not be established.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay: connect %s: %v", RedactURL(e.Endpoint), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// State is the lifecycle state of a Relay's connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Direction labels a frame for the OnFrame hook.
type Direction int

const (
	ToRemote Direction = iota
	FromRemote
)

func (d Direction) String() string {
	if d == ToRemote {
		return "to_remote"
	}
	return "from_remote"
}

// Handler receives inbound messages, one call at a time, in arrival order.
type Handler func(msg string)

// Config holds relay parameters.
type Config struct {
	Endpoint     string        // ws:// or wss:// URL, see ParseEndpoint
	DialTimeout  time.Duration // 0 = 30s
	PingInterval time.Duration // 0 = no keepalive pings
	ReadLimit    int64         // 0 = library default, <0 = unlimited
	Logger       *slog.Logger

	// OnDial is called after the dial attempt with its duration and result. Optional.
	OnDial func(d time.Duration, err error)
	// OnOpen is called when the connection becomes Open. Optional.
	OnOpen func()
	// OnClose is called once when the relay reaches Closed after a
	// successful Start, with the terminal error (nil for Close). Optional.
	OnClose func(err error)
	// OnFrame is called for every frame written or read. Optional.
	OnFrame func(dir Direction, size int)

	// Hooks must not call back into the Relay.
}

// Relay bridges one remote connection to one application handler.
type Relay struct {
	cfg    Config
	logger *slog.Logger
	state  atomic.Int32

	mu      sync.Mutex
	handler Handler
	started bool
	closing bool
	ws      *websocket.Conn
	cancel  context.CancelFunc

	finishOnce sync.Once
	done       chan struct{}
	err        error
}

// New returns a Relay in the Connecting state. Nothing is dialed until Start.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// OnMessage registers the handler for inbound messages. Only one handler
// is supported; a second call returns ErrAlreadySubscribed and leaves the
// first handler in place. Register before Start to receive the greeting.
func (r *Relay) OnMessage(h Handler) error {
	if h == nil {
		return errors.New("relay: nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return ErrAlreadySubscribed
	}
	r.handler = h
	return nil
}

// Start establishes the connection. There is no retry: on failure it
// returns a *ConnectionError and the relay is Closed for good. ctx bounds
// the dial and the lifetime of the connection.
//
// Close called while the dial is in flight aborts it. Start then returns
// ErrNotConnected, OnDial is not called and Err stays nil.
func (r *Relay) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.started || r.closing || r.State() == StateClosed {
		r.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	r.started = true
	r.cancel = cancel
	r.mu.Unlock()

	start := time.Now()
	ws, err := Dial(runCtx, r.cfg.Endpoint, r.cfg.DialTimeout)
	d := time.Since(start)

	// Hooks run under the lock so that OnDial and OnOpen always precede
	// OnClose and never report a dial that Close abandoned.
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		if ws != nil {
			_ = ws.CloseNow()
		}
		return ErrNotConnected
	}
	if r.cfg.OnDial != nil {
		r.cfg.OnDial(d, err)
	}
	if err != nil {
		r.mu.Unlock()
		cerr := &ConnectionError{Endpoint: r.cfg.Endpoint, Err: err}
		r.logger.Warn("connection failed", "error", cerr)
		r.finish(cerr)
		return cerr
	}
	if r.cfg.ReadLimit != 0 {
		ws.SetReadLimit(r.cfg.ReadLimit)
	}
	r.ws = ws
	r.state.Store(int32(StateOpen))
	if r.cfg.OnOpen != nil {
		r.cfg.OnOpen()
	}
	r.mu.Unlock()

	r.logger.Info("connection open", "endpoint", RedactURL(r.cfg.Endpoint))

	if r.cfg.PingInterval > 0 {
		go pingLoop(runCtx, ws, r.cfg.PingInterval, func(err error) {
			r.logger.Warn("ping failed, closing connection", "error", err)
			r.finish(fmt.Errorf("%w: ping: %w", ErrRemoteClosed, err))
		})
	}
	go r.readLoop(runCtx, ws)
	return nil
}

// Send writes payload to the remote endpoint as a single text frame.
// It returns ErrNotConnected unless the connection is Open.
func (r *Relay) Send(ctx context.Context, payload string) error {
	if r.State() != StateOpen {
		return ErrNotConnected
	}
	r.mu.Lock()
	ws := r.ws
	r.mu.Unlock()

	if err := ws.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		// A failed write leaves the connection unusable.
		if !r.isClosing() {
			r.finish(fmt.Errorf("%w: write: %w", ErrRemoteClosed, err))
		}
		if r.State() == StateClosed {
			return ErrNotConnected
		}
		return fmt.Errorf("write: %w", err)
	}
	if r.cfg.OnFrame != nil {
		r.cfg.OnFrame(ToRemote, len(payload))
	}
	return nil
}

// State returns the current connection state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Done is closed when the relay reaches Closed.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the reason the relay closed, or nil while it is still
// running or after a local Close.
func (r *Relay) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Close ends the connection with a normal closure. It is safe to call
// more than once and before Start.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	ws, cancel := r.ws, r.cancel
	r.mu.Unlock()

	if ws != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	r.finish(nil)
	return nil
}

func (r *Relay) readLoop(ctx context.Context, ws *websocket.Conn) {
	r.deliver(protocol.GreetingText())
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			r.finish(r.readErr(ctx, err))
			return
		}
		if r.cfg.OnFrame != nil {
			r.cfg.OnFrame(FromRemote, len(data))
		}
		if typ != websocket.MessageText {
			r.logger.Debug("forwarding binary frame as text", "size", len(data))
		}
		r.deliver(string(data))
	}
}

func (r *Relay) readErr(ctx context.Context, err error) error {
	if r.isClosing() {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrRemoteClosed, err)
}

func (r *Relay) deliver(msg string) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		r.logger.Debug("no handler registered, dropping message", "size", len(msg))
		return
	}
	h(msg)
}

func (r *Relay) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// finish moves the relay to Closed exactly once.
func (r *Relay) finish(err error) {
	r.finishOnce.Do(func() {
		r.mu.Lock()
		ws, cancel := r.ws, r.cancel
		opened := ws != nil
		r.mu.Unlock()

		r.state.Store(int32(StateClosed))
		r.err = err
		close(r.done)

		if cancel != nil {
			cancel()
		}
		if ws != nil {
			_ = ws.CloseNow()
		}
		if !opened {
			return
		}
		if err != nil {
			r.logger.Info("connection closed", "error", err)
		} else {
			r.logger.Info("connection closed")
		}
		if r.cfg.OnClose != nil {
			r.cfg.OnClose(err)
		}
	})
}
