package marketstream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// ConnectionStatus is reported through the session's status callback.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Session callbacks. All of them fire on the connection's single read
// goroutine, so within one session they never run concurrently and events
// arrive in wire order. A nil callback drops its events.
type (
	PriceHandler   func(update types.PriceUpdate)
	CandleHandler  func(candle types.Candle)
	OrderHandler   func(update types.OrderUpdate)
	PayloadHandler func(raw []byte)
	ErrorHandler   func(err error)
	StatusHandler  func(status ConnectionStatus)
)

// Session is one streaming connection to a provider: a socket, a request
// correlator, a subscription registry and a candle synthesizer bound
// together. Sessions share no state; to stream from two providers, open two
// sessions.
type Session struct {
	id      string
	adapter ProviderAdapter
	log     *logger.Logger

	conn       Conn
	keepalive  time.Duration
	correlator *Correlator
	registry   *Registry
	synth      *Synthesizer

	cbMu     sync.Mutex
	onPrice  PriceHandler
	onCandle CandleHandler
	onOrder  OrderHandler
	onRaw    PayloadHandler
	onError  ErrorHandler
	onStatus StatusHandler
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithConn substitutes the transport. Used by tests to drive a session
// without a network.
func WithConn(conn Conn) SessionOption {
	return func(s *Session) {
		s.conn = conn
	}
}

// WithKeepalive overrides the keepalive cadence of the default transport.
// Ignored when WithConn supplies the transport.
func WithKeepalive(d time.Duration) SessionOption {
	return func(s *Session) {
		s.keepalive = d
	}
}

// NewSession creates a closed session for the given provider. history may be
// nil when no candle subscriptions will be made; subscribing to a candle
// channel without it fails with a configuration error.
func NewSession(adapter ProviderAdapter, history HistoryProvider, log *logger.Logger, opts ...SessionOption) *Session {
	session := &Session{
		id:         uuid.New().String(),
		adapter:    adapter,
		log:        log,
		conn:       nil,
		keepalive:  0,
		correlator: nil,
		registry:   nil,
		synth:      NewSynthesizer(history, log),
		cbMu:       sync.Mutex{},
		onPrice:    nil,
		onCandle:   nil,
		onOrder:    nil,
		onRaw:      nil,
		onError:    nil,
		onStatus:   nil,
	}

	for _, opt := range opts {
		opt(session)
	}

	if session.conn == nil {
		connOpts := []WebSocketConnOption{}
		if payload, ok := adapter.KeepalivePayload(); ok {
			connOpts = append(connOpts, WithKeepalivePayload(payload))
		}

		if session.keepalive > 0 {
			connOpts = append(connOpts, WithKeepaliveInterval(session.keepalive))
		}

		session.conn = NewWebSocketConn(adapter.URL(), log, connOpts...)
	}

	session.correlator = NewCorrelator(session.conn, log)
	session.registry = NewRegistry(adapter, session.correlator, session.conn, log)

	return session
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// OnPrice registers the price tick callback.
func (s *Session) OnPrice(handler PriceHandler) {
	s.cbMu.Lock()
	s.onPrice = handler
	s.cbMu.Unlock()
}

// OnCandle registers the candle callback. It receives both live snapshots of
// the current window and the final candle emitted when a window closes.
func (s *Session) OnCandle(handler CandleHandler) {
	s.cbMu.Lock()
	s.onCandle = handler
	s.cbMu.Unlock()
}

// OnOrderUpdate registers the account order update callback.
func (s *Session) OnOrderUpdate(handler OrderHandler) {
	s.cbMu.Lock()
	s.onOrder = handler
	s.cbMu.Unlock()
}

// OnPayload registers the catch-all callback for frames no active
// subscription consumes. Unmatched data is surfaced here, never dropped.
func (s *Session) OnPayload(handler PayloadHandler) {
	s.cbMu.Lock()
	s.onRaw = handler
	s.cbMu.Unlock()
}

// OnError registers the asynchronous error callback. It reports correlation
// mismatches and unexpected connection loss.
func (s *Session) OnError(handler ErrorHandler) {
	s.cbMu.Lock()
	s.onError = handler
	s.cbMu.Unlock()
}

// OnStatusChange registers the connection status callback.
func (s *Session) OnStatusChange(handler StatusHandler) {
	s.cbMu.Lock()
	s.onStatus = handler
	s.cbMu.Unlock()
}

// Open establishes the socket. A failed dial is terminal: the session does
// not retry on its own, the caller decides the retry policy.
func (s *Session) Open(ctx context.Context) error {
	s.conn.SetHandler(s.handleFrame, s.handleClosed)

	if err := s.conn.Open(ctx); err != nil {
		return err
	}

	s.log.Info("session opened",
		zap.String("session_id", s.id),
		zap.String("provider", s.adapter.Name()),
	)
	s.emitStatus(StatusConnected)

	return nil
}

// Close tears the session down: drops candle states, closes the socket and
// rejects every in-flight request. Idempotent.
func (s *Session) Close() error {
	s.synth.Clear()
	s.registry.Clear()

	err := s.conn.Close()
	s.correlator.FailAll(errors.New(errors.ErrCodeConnectionClosed, "session closed"))

	if err != nil {
		return err
	}

	s.log.Info("session closed", zap.String("session_id", s.id))

	return nil
}

// Connected reports whether the socket is currently open.
func (s *Session) Connected() bool {
	return s.conn.State() == StateOpen
}

// Subscriptions returns the currently active subscription identities.
func (s *Session) Subscriptions() []Subscription {
	return s.registry.Active()
}

// SubscribeTo activates a subscription. Candle subscriptions seed their
// synthesizer state from history before any wire command goes out; a seeding
// failure aborts the whole subscribe, leaving nothing half-registered. A
// repeat subscribe of an identity that is already active is a no-op and in
// particular does not re-seed.
func (s *Session) SubscribeTo(ctx context.Context, sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	if s.conn.State() != StateOpen {
		return errors.Newf(errors.ErrCodeNotConnected, "cannot subscribe to %s %s: session is not open", sub.Channel, sub.Symbol)
	}

	if s.registry.IsActive(sub) {
		return nil
	}

	if sub.Channel == ChannelCandle {
		if err := s.synth.Register(ctx, sub.Symbol, sub.Interval); err != nil {
			return err
		}
	}

	if err := s.registry.Subscribe(ctx, sub); err != nil {
		if sub.Channel == ChannelCandle {
			s.synth.Unregister(sub.Symbol, sub.Interval)
		}

		return err
	}

	return nil
}

// UnsubscribeFrom deactivates a subscription. Unknown identities are a
// no-op.
func (s *Session) UnsubscribeFrom(ctx context.Context, sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	if !s.registry.IsActive(sub) {
		return nil
	}

	if err := s.registry.Unsubscribe(ctx, sub); err != nil {
		return err
	}

	if sub.Channel == ChannelCandle {
		s.synth.Unregister(sub.Symbol, sub.Interval)
	}

	return nil
}

// SubscribeRaw sends a caller-built command, typically a pre-signed private
// channel subscribe. On acking providers it is correlated and the reply is
// returned; on fire-and-forget providers the zero Frame comes back as soon
// as the payload is written.
func (s *Session) SubscribeRaw(ctx context.Context, payload map[string]any) (Frame, error) {
	if s.conn.State() != StateOpen {
		return Frame{}, errors.New(errors.ErrCodeNotConnected, "cannot send raw command: session is not open")
	}

	if s.adapter.AcksSubscriptions() {
		return s.correlator.Send(ctx, payload)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode raw command", err)
	}

	if err := s.conn.Send(data); err != nil {
		return Frame{}, err
	}

	return Frame{}, nil
}

// handleFrame runs on the connection's read goroutine and is the session's
// single dispatch point: decode, correlate, route.
func (s *Session) handleFrame(raw []byte) {
	frames, err := s.adapter.Decode(raw)
	if err != nil {
		s.log.Warn("undecodable frame",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
		s.emitPayload(raw)

		return
	}

	for _, frame := range frames {
		s.routeFrame(frame)
	}
}

func (s *Session) routeFrame(frame Frame) {
	switch frame.Kind {
	case FrameReply:
		if err := s.correlator.HandleReply(frame); err != nil {
			s.emitError(err)
		}
	case FrameTrade:
		if !s.registry.Consumes(frame) {
			s.emitPayload(frame.Raw)

			return
		}

		for _, candle := range s.synth.Ingest(frame.Trade) {
			s.emitCandle(candle)
		}

		if !s.adapter.HasNativePriceFeed() && s.registry.WantsPrice(frame.Trade.Symbol) {
			s.emitPrice(types.PriceUpdate{
				Symbol: frame.Trade.Symbol,
				Price:  frame.Trade.Price,
				Time:   frame.Trade.Time,
			})
		}
	case FramePrice:
		if !s.registry.Consumes(frame) {
			s.emitPayload(frame.Raw)

			return
		}

		s.emitPrice(frame.Price)
	case FrameOrder:
		s.emitOrder(frame.Order)
	case FrameUnknown:
		s.emitPayload(frame.Raw)
	}
}

// handleClosed fires when the socket drops without a deliberate Close. The
// loss invalidates everything the session accumulated: subscriptions are gone
// on the provider side, and candle state would fabricate flat candles across
// the outage if it survived. A reopened session starts empty and re-seeds on
// the next candle subscribe.
func (s *Session) handleClosed(err error) {
	cause := errors.Wrap(errors.ErrCodeConnectionClosed, "connection lost", err)
	s.synth.Clear()
	s.registry.Clear()
	s.correlator.FailAll(cause)

	s.log.Warn("connection lost",
		zap.String("session_id", s.id),
		zap.Error(err),
	)
	s.emitError(cause)
	s.emitStatus(StatusDisconnected)
}

func (s *Session) emitPrice(update types.PriceUpdate) {
	s.cbMu.Lock()
	handler := s.onPrice
	s.cbMu.Unlock()

	if handler != nil {
		handler(update)
	}
}

func (s *Session) emitCandle(candle types.Candle) {
	s.cbMu.Lock()
	handler := s.onCandle
	s.cbMu.Unlock()

	if handler != nil {
		handler(candle)
	}
}

func (s *Session) emitOrder(update types.OrderUpdate) {
	s.cbMu.Lock()
	handler := s.onOrder
	s.cbMu.Unlock()

	if handler != nil {
		handler(update)
	}
}

func (s *Session) emitPayload(raw []byte) {
	s.cbMu.Lock()
	handler := s.onRaw
	s.cbMu.Unlock()

	if handler != nil {
		handler(raw)
	}
}

func (s *Session) emitError(err error) {
	s.cbMu.Lock()
	handler := s.onError
	s.cbMu.Unlock()

	if handler != nil {
		handler(err)
	}
}

func (s *Session) emitStatus(status ConnectionStatus) {
	s.cbMu.Lock()
	handler := s.onStatus
	s.cbMu.Unlock()

	if handler != nil {
		handler(status)
	}
}
