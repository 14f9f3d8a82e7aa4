package marketstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultKeepaliveInterval is the period between keepalive frames while the
// connection is open.
const DefaultKeepaliveInterval = 15 * time.Second

// FrameHandler receives every inbound frame in arrival order. The connection
// performs no interpretation of the payload.
type FrameHandler func(raw []byte)

// ClosedHandler is invoked once when the connection is lost for any reason
// other than a deliberate Close.
type ClosedHandler func(err error)

// Conn is the capability surface the session needs from a socket: open,
// close, send, and inbound frame delivery. Implemented by WebSocketConn for
// production and by fakes in tests.
type Conn interface {
	// SetHandler installs the inbound frame and connection-lost callbacks.
	// Must be called before Open.
	SetHandler(onFrame FrameHandler, onClosed ClosedHandler)
	// Open establishes the socket. A failed open is terminal: the
	// connection does not retry internally.
	Open(ctx context.Context) error
	// Close tears the socket down. Closing an already-closed connection is
	// a no-op. The keepalive timer is cancelled as the first step.
	Close() error
	// Send writes one frame. Fails when the state is not Open.
	Send(payload []byte) error
	// State returns the current lifecycle state.
	State() ConnState
}

// WebSocketConn owns one websocket. While open, a background timer sends a
// keepalive frame at a fixed period; inbound frames are delivered through a
// single callback in arrival order.
type WebSocketConn struct {
	url              string
	dialer           *websocket.Dialer
	keepaliveEvery   time.Duration
	keepalivePayload []byte // nil means websocket-level ping
	log              *logger.Logger

	onFrame  FrameHandler
	onClosed ClosedHandler

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	stopPing chan struct{}

	// writeMu serializes writes: callers and the keepalive timer share the
	// socket, and gorilla permits only one concurrent writer.
	writeMu sync.Mutex
}

// WebSocketConnOption customizes a WebSocketConn.
type WebSocketConnOption func(*WebSocketConn)

// WithKeepaliveInterval overrides the keepalive period.
func WithKeepaliveInterval(d time.Duration) WebSocketConnOption {
	return func(c *WebSocketConn) {
		c.keepaliveEvery = d
	}
}

// WithKeepalivePayload sets an application-level keepalive frame. Without it
// the connection sends websocket-level pings.
func WithKeepalivePayload(payload []byte) WebSocketConnOption {
	return func(c *WebSocketConn) {
		c.keepalivePayload = payload
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) WebSocketConnOption {
	return func(c *WebSocketConn) {
		c.dialer = dialer
	}
}

// NewWebSocketConn creates a connection for the given endpoint. The
// connection is inert until Open is called.
func NewWebSocketConn(url string, log *logger.Logger, opts ...WebSocketConnOption) *WebSocketConn {
	conn := &WebSocketConn{
		url:              url,
		dialer:           websocket.DefaultDialer,
		keepaliveEvery:   DefaultKeepaliveInterval,
		keepalivePayload: nil,
		log:              log,
		onFrame:          nil,
		onClosed:         nil,
		mu:               sync.Mutex{},
		state:            StateDisconnected,
		ws:               nil,
		stopPing:         nil,
		writeMu:          sync.Mutex{},
	}

	for _, opt := range opts {
		opt(conn)
	}

	return conn
}

// SetHandler installs the inbound callbacks. Must be called before Open.
func (c *WebSocketConn) SetHandler(onFrame FrameHandler, onClosed ClosedHandler) {
	c.onFrame = onFrame
	c.onClosed = onClosed
}

// Open dials the endpoint and starts the read loop and keepalive timer.
// A handshake failure is terminal; the caller decides whether to retry.
func (c *WebSocketConn) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()

		return errors.Newf(errors.ErrCodeAlreadyOpen, "connection is %s", c.state)
	}

	c.state = StateConnecting
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		if resp != nil {
			return errors.Wrapf(errors.ErrCodeConnectionFailed, err, "handshake failed for %s (status %d)", c.url, resp.StatusCode)
		}

		return errors.Wrapf(errors.ErrCodeConnectionFailed, err, "handshake failed for %s", c.url)
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateOpen
	c.stopPing = make(chan struct{})
	c.mu.Unlock()

	c.log.Info("connection open",
		zap.String("url", c.url),
		zap.Duration("keepalive", c.keepaliveEvery),
	)

	go c.keepaliveLoop(c.stopPing)
	go c.readLoop(ws)

	return nil
}

// Close stops the keepalive timer, closes the socket, and marks the
// connection disconnected. Safe to call more than once.
func (c *WebSocketConn) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected || c.state == StateClosing {
		c.mu.Unlock()

		return nil
	}

	c.state = StateClosing

	// Keepalive must stop before the socket goes away.
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}

	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if ws != nil {
		if err := ws.Close(); err != nil {
			return errors.Wrap(errors.ErrCodeSendFailed, "failed to close websocket", err)
		}
	}

	return nil
}

// Send writes one text frame. Fails unless the connection is open.
func (c *WebSocketConn) Send(payload []byte) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if state != StateOpen || ws == nil {
		return errors.Newf(errors.ErrCodeNotConnected, "send attempted while %s", state)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(errors.ErrCodeSendFailed, "websocket write failed", err)
	}

	return nil
}

// State returns the current lifecycle state.
func (c *WebSocketConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// readLoop delivers inbound frames in arrival order until the socket fails
// or is closed.
func (c *WebSocketConn) readLoop(ws *websocket.Conn) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			deliberate := c.state == StateDisconnected || c.state == StateClosing
			if !deliberate {
				c.state = StateDisconnected
				c.ws = nil

				if c.stopPing != nil {
					close(c.stopPing)
					c.stopPing = nil
				}
			}
			c.mu.Unlock()

			if !deliberate && c.onClosed != nil {
				c.onClosed(errors.Wrap(errors.ErrCodeConnectionClosed, "connection lost", err))
			}

			return
		}

		if c.onFrame != nil {
			c.onFrame(msg)
		}
	}
}

// keepaliveLoop sends a keepalive frame every period until stopped.
func (c *WebSocketConn) keepaliveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.sendKeepalive(); err != nil {
				c.log.Warn("keepalive send failed", zap.Error(err))
			}
		}
	}
}

func (c *WebSocketConn) sendKeepalive() error {
	if c.keepalivePayload != nil {
		return c.Send(c.keepalivePayload)
	}

	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if state != StateOpen || ws == nil {
		return errors.Newf(errors.ErrCodeNotConnected, "keepalive attempted while %s", state)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Ensure WebSocketConn implements Conn.
var _ Conn = (*WebSocketConn)(nil)
