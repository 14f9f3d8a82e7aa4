package marketstream

import (
	"context"
	"time"

	"github.com/tradekit-lab/marketstream/internal/types"
)

// ProviderAdapter translates between the provider-neutral session machinery
// and one provider's wire protocol. Adapters are pure codecs: they never own
// a socket and never perform I/O.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "binance").
	Name() string
	// URL returns the websocket endpoint the connection should dial.
	URL() string
	// AcksSubscriptions reports whether the provider acknowledges
	// subscription commands with a correlated reply. When false the
	// registry dispatches subscribe/unsubscribe fire-and-forget.
	AcksSubscriptions() bool
	// HasNativePriceFeed reports whether the provider pushes its own price
	// tick events. When false the session derives price ticks from trade
	// prints; when true it must not, or price subscribers would receive
	// two interleaved tick streams for the same symbol.
	HasNativePriceFeed() bool
	// SubscribePayload builds the wire command that subscribes the given
	// identity. For acked providers the correlator merges the request id
	// into the payload before sending.
	SubscribePayload(sub Subscription) (map[string]any, error)
	// UnsubscribePayload builds the wire command that unsubscribes the
	// given identity.
	UnsubscribePayload(sub Subscription) (map[string]any, error)
	// KeepalivePayload returns the provider's application-level keepalive
	// frame. ok=false means the provider expects websocket-level pings
	// instead.
	KeepalivePayload() (payload []byte, ok bool)
	// Decode parses one raw inbound frame into zero or more provider-neutral
	// frames. Providers that batch events in arrays return several.
	Decode(raw []byte) ([]Frame, error)
}

// HistoryProvider fetches completed historical candles over REST. The candle
// synthesizer uses it to seed window boundaries and the previous close before
// live aggregation begins.
type HistoryProvider interface {
	// FetchHistory returns completed candles for the symbol and interval,
	// ordered oldest first, covering [from, to].
	FetchHistory(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]types.Candle, error)
}
