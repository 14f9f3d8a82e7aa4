package types

import (
	"time"
)

// Side identifies which side of the book a trade print executed against.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade represents a single trade print from a provider's trade feed.
// Trades are transient: they are consumed into candle state and not retained
// beyond the window that needs them.
type Trade struct {
	Symbol string
	Price  float64
	Size   float64
	Time   time.Time
	Side   Side
}

// Notional returns the quote-asset value of the print (price * size).
func (t Trade) Notional() float64 {
	return t.Price * t.Size
}

// Candle represents a fixed-interval OHLCV candlestick snapshot.
// Time is the window start and CloseAt the window end; the candle aggregates
// trades in [Time, CloseAt). IsClosed is false for the live "ticking" candle
// emitted after every trade and true exactly once per elapsed window.
type Candle struct {
	Symbol     string
	Interval   Interval
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int
	Time       time.Time
	CloseAt    time.Time
	IsClosed   bool
}

// IsFlat reports whether the candle was synthesized for a window with no
// trades, carrying the previous close forward with zero volume.
func (c Candle) IsFlat() bool {
	return c.TradeCount == 0 && c.Volume == 0 &&
		c.Open == c.High && c.High == c.Low && c.Low == c.Close
}

// PriceUpdate represents a single price tick from a provider's ticker channel.
type PriceUpdate struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// OrderUpdate is an account-stream event passed through the session untouched.
// Common fields are extracted by the provider adapter; Raw carries the full
// provider payload for callers that need more.
type OrderUpdate struct {
	OrderID  string
	Symbol   string
	Status   string
	Side     Side
	Price    float64
	Quantity float64
	Time     time.Time
	Raw      []byte
}
