package marketstream

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// Registry tracks the set of active logical subscriptions for one session and
// dispatches the channel-specific wire commands. Subscribing an identity that
// is already active is a no-op; unsubscribing an identity that was never
// subscribed is also a no-op.
//
// Candle subscriptions for different intervals of the same symbol share one
// underlying trade channel on the wire: the first subscribe sends the
// command, the last unsubscribe sends the teardown.
type Registry struct {
	adapter    ProviderAdapter
	correlator *Correlator
	conn       Conn
	log        *logger.Logger

	mu     sync.Mutex
	active map[Subscription]struct{}
}

// NewRegistry creates a registry for the given adapter and transports.
func NewRegistry(adapter ProviderAdapter, correlator *Correlator, conn Conn, log *logger.Logger) *Registry {
	return &Registry{
		adapter:    adapter,
		correlator: correlator,
		conn:       conn,
		log:        log,
		mu:         sync.Mutex{},
		active:     make(map[Subscription]struct{}),
	}
}

// Subscribe activates the given identity. If it is already active the call
// resolves immediately without a wire send. Otherwise the channel-specific
// command is dispatched (correlated when the provider acks subscriptions,
// fire-and-forget when it does not) and the identity is inserted into the
// active set only once the dispatch succeeds.
func (r *Registry) Subscribe(ctx context.Context, sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	sub = sub.normalized()

	r.mu.Lock()
	if _, ok := r.active[sub]; ok {
		r.mu.Unlock()

		return nil
	}

	needsWire := r.needsWireCommandLocked(sub)
	r.mu.Unlock()

	if needsWire {
		payload, err := r.adapter.SubscribePayload(sub)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeSubscribeFailed, err, "failed to build subscribe command for %s %s", sub.Channel, sub.Symbol)
		}

		if err := r.dispatch(ctx, payload); err != nil {
			return errors.Wrapf(errors.ErrCodeSubscribeFailed, err, "subscribe dispatch failed for %s %s", sub.Channel, sub.Symbol)
		}
	}

	r.mu.Lock()
	r.active[sub] = struct{}{}
	r.mu.Unlock()

	r.log.Debug("subscription active",
		zap.String("channel", string(sub.Channel)),
		zap.String("symbol", sub.Symbol),
		zap.String("interval", sub.Interval.String()),
		zap.Bool("wire_command", needsWire),
	)

	return nil
}

// Unsubscribe deactivates the given identity. Unknown identities resolve as a
// no-op. The wire teardown is sent only when no other active subscription
// still needs the underlying channel.
func (r *Registry) Unsubscribe(ctx context.Context, sub Subscription) error {
	sub = sub.normalized()

	r.mu.Lock()
	if _, ok := r.active[sub]; !ok {
		r.mu.Unlock()

		return nil
	}

	delete(r.active, sub)
	stillNeeded := !r.needsWireCommandLocked(sub)
	r.mu.Unlock()

	if stillNeeded {
		return nil
	}

	payload, err := r.adapter.UnsubscribePayload(sub)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeUnsubscribeFailed, err, "failed to build unsubscribe command for %s %s", sub.Channel, sub.Symbol)
	}

	if err := r.dispatch(ctx, payload); err != nil {
		return errors.Wrapf(errors.ErrCodeUnsubscribeFailed, err, "unsubscribe dispatch failed for %s %s", sub.Channel, sub.Symbol)
	}

	return nil
}

// IsActive reports whether the identity is currently subscribed.
func (r *Registry) IsActive(sub Subscription) bool {
	sub = sub.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[sub]

	return ok
}

// Active returns a snapshot of the active identities.
func (r *Registry) Active() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.active))
	for sub := range r.active {
		subs = append(subs, sub)
	}

	return subs
}

// Clear empties the active set without wire commands. Used on teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.active = make(map[Subscription]struct{})
	r.mu.Unlock()
}

// Consumes reports whether some active subscription wants the given inbound
// frame. Frames nobody consumes are surfaced on the session's payload
// callback for observability rather than silently dropped.
func (r *Registry) Consumes(frame Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch frame.Kind {
	case FrameTrade:
		// A trade print feeds every candle subscription for its symbol,
		// and the price channel for providers without a native ticker.
		for sub := range r.active {
			if sub.Symbol == frame.Symbol {
				return true
			}
		}

		return false
	case FramePrice:
		_, ok := r.active[Subscription{Channel: ChannelPrice, Symbol: frame.Symbol, Interval: ""}]

		return ok
	case FrameOrder:
		// Account-stream events are pass-through; the caller subscribed
		// out of band with a signed payload.
		return true
	case FrameReply, FrameUnknown:
		return false
	default:
		return false
	}
}

// WantsPrice reports whether a price subscription is active for the symbol.
func (r *Registry) WantsPrice(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[Subscription{Channel: ChannelPrice, Symbol: symbol, Interval: ""}]

	return ok
}

// needsWireCommandLocked reports whether activating sub requires a wire
// command given the current active set. Candle intervals of one symbol share
// the provider's trade channel; the price channel is its own wire channel
// unless the provider feeds prices from trades too.
func (r *Registry) needsWireCommandLocked(sub Subscription) bool {
	if sub.Channel != ChannelCandle {
		return true
	}

	for other := range r.active {
		if other.Channel == ChannelCandle && other.Symbol == sub.Symbol && other != sub {
			return false
		}
	}

	return true
}

// dispatch sends the payload through the correlator when the provider acks
// subscriptions, or fire-and-forget otherwise.
func (r *Registry) dispatch(ctx context.Context, payload map[string]any) error {
	if r.adapter.AcksSubscriptions() {
		_, err := r.correlator.Send(ctx, payload)

		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "failed to encode command payload", err)
	}

	return r.conn.Send(data)
}
