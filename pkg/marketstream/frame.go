// Package marketstream implements a persistent duplex streaming session for
// real-time market data. A session multiplexes subscribe/unsubscribe commands
// and their asynchronous acknowledgements over a single socket, and
// synthesizes fixed-interval OHLCV candles from raw trade prints for
// providers that do not push native candle events.
package marketstream

import (
	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// Channel is a logical subscription category.
type Channel string

const (
	// ChannelPrice delivers per-symbol price ticks (newPrice events).
	ChannelPrice Channel = "price"
	// ChannelCandle delivers synthesized OHLCV candles built from the
	// provider's trade feed.
	ChannelCandle Channel = "candle"
)

// Subscription identifies one logical subscription. Two subscriptions are the
// same iff their (Channel, Symbol, Interval) tuples are equal; the registry
// treats a repeat subscribe of the same identity as a no-op.
type Subscription struct {
	Channel  Channel
	Symbol   string
	Interval types.Interval // only meaningful for ChannelCandle
}

// Validate checks the subscription identity for structural problems.
func (s Subscription) Validate() error {
	if s.Symbol == "" {
		return errors.New(errors.ErrCodeInvalidSymbol, "subscription symbol is empty")
	}

	switch s.Channel {
	case ChannelPrice:
		return nil
	case ChannelCandle:
		if !s.Interval.Valid() {
			return errors.Newf(errors.ErrCodeInvalidInterval, "unsupported candle interval: %q", s.Interval)
		}

		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidChannel, "unknown channel: %q", s.Channel)
	}
}

// normalized canonicalizes the identity. The interval is meaningful only for
// the candle channel; a price subscription carrying one would otherwise be
// stored under a tuple that frame routing and identity lookups never match.
func (s Subscription) normalized() Subscription {
	if s.Channel == ChannelPrice {
		s.Interval = ""
	}

	return s
}

// FrameKind classifies a decoded inbound frame.
type FrameKind int

const (
	// FrameUnknown marks frames the adapter could not classify. They are
	// surfaced on the session's payload callback, never dropped silently.
	FrameUnknown FrameKind = iota
	// FrameReply is a correlated acknowledgement bearing a request id.
	FrameReply
	// FrameTrade is a single trade print.
	FrameTrade
	// FramePrice is a native price tick.
	FramePrice
	// FrameOrder is an account-stream order update, passed through untouched.
	FrameOrder
)

// Frame is a provider-neutral view of one inbound wire frame. The adapter
// extracts only the fields the correlator and registry need; the raw payload
// is preserved for pass-through consumers.
type Frame struct {
	Kind FrameKind

	// Correlated replies.
	ID           int64
	ErrorCode    int // 0 means no provider error
	ErrorMessage string

	// Event routing.
	Symbol   string
	Interval types.Interval

	// Decoded event bodies, populated according to Kind.
	Trade types.Trade
	Price types.PriceUpdate
	Order types.OrderUpdate

	// Raw is the original wire payload.
	Raw []byte
}
