package marketstream

import (
	"context"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// seedLookback is how far back the seeding fetch reaches. Wide enough to
// contain at least one completed window even right after a boundary.
const seedLookbackWindows = 3

// CandleState is the aggregation state of one (symbol, interval) pair. It is
// immutable: Advance returns a new state rather than mutating in place, so
// the transition logic can be unit-tested without timers or sockets.
type CandleState struct {
	Symbol      string
	Interval    types.Interval
	WindowStart time.Time
	WindowEnd   time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Trades      []types.Trade
	// PreviousClose carries the close of the prior window. It seeds the
	// open of a window with no trades yet and the flat candle synthesized
	// for a window that stays empty.
	PreviousClose optional.Option[float64]
}

// NewCandleState creates the state for the window immediately following the
// given completed seed candle.
func NewCandleState(seed types.Candle) CandleState {
	return CandleState{
		Symbol:        seed.Symbol,
		Interval:      seed.Interval,
		WindowStart:   seed.CloseAt,
		WindowEnd:     seed.CloseAt.Add(seed.Interval.Duration()),
		Open:          0,
		High:          0,
		Low:           0,
		Close:         0,
		Volume:        0,
		Trades:        nil,
		PreviousClose: optional.Some(seed.Close),
	}
}

// Advance ingests one trade print and returns the successor state together
// with the candles to emit, in order.
//
// A print older than the current window is a late or duplicate delivery and
// is ignored: a closed window is never reopened. A print at or past the
// window end finalizes the current window (synthesizing a flat carry-forward
// candle when it collected no trades) and rolls forward; a print that skips
// several windows emits one candle per elapsed window so downstream
// consumers see exactly one candle per interval tick. Finally the print is
// folded into the window it belongs to and a non-final snapshot of that live
// window is emitted.
func Advance(state CandleState, trade types.Trade) (CandleState, []types.Candle) {
	// A state with no window width can never roll forward; refusing it here
	// keeps the loop below finite for callers that build states by hand.
	if state.Interval.Duration() <= 0 {
		return state, nil
	}

	if trade.Time.Before(state.WindowStart) {
		return state, nil
	}

	var emitted []types.Candle

	for !trade.Time.Before(state.WindowEnd) {
		closed, next, ok := closeWindow(state)
		if ok {
			emitted = append(emitted, closed)
		}

		state = next
	}

	state = accumulate(state, trade)
	emitted = append(emitted, snapshot(state, false))

	return state, emitted
}

// closeWindow finalizes the current window and returns the rolled state.
// ok is false only when an empty window has no previous close to carry
// forward, in which case nothing can be emitted for it.
func closeWindow(state CandleState) (types.Candle, CandleState, bool) {
	var (
		closed types.Candle
		ok     bool
	)

	if len(state.Trades) > 0 {
		closed = snapshot(state, true)
		ok = true
	} else if prev, err := state.PreviousClose.Take(); err == nil {
		closed = types.Candle{
			Symbol:     state.Symbol,
			Interval:   state.Interval,
			Open:       prev,
			High:       prev,
			Low:        prev,
			Close:      prev,
			Volume:     0,
			TradeCount: 0,
			Time:       state.WindowStart,
			CloseAt:    state.WindowEnd,
			IsClosed:   true,
		}
		ok = true
	}

	next := CandleState{
		Symbol:        state.Symbol,
		Interval:      state.Interval,
		WindowStart:   state.WindowEnd,
		WindowEnd:     state.WindowEnd.Add(state.Interval.Duration()),
		Open:          0,
		High:          0,
		Low:           0,
		Close:         0,
		Volume:        0,
		Trades:        nil,
		PreviousClose: state.PreviousClose,
	}

	if ok {
		next.PreviousClose = optional.Some(closed.Close)
	}

	return closed, next, ok
}

// accumulate folds one in-window trade into the state.
func accumulate(state CandleState, trade types.Trade) CandleState {
	if len(state.Trades) == 0 {
		state.Open = trade.Price
		state.High = trade.Price
		state.Low = trade.Price
	} else {
		if trade.Price > state.High {
			state.High = trade.Price
		}

		if trade.Price < state.Low {
			state.Low = trade.Price
		}
	}

	state.Close = trade.Price
	// Volume is quote-asset notional, not raw base size.
	state.Volume += trade.Notional()
	state.Trades = append(state.Trades, trade)

	return state
}

// snapshot renders the state as a candle. Closed snapshots cover exactly
// [WindowStart, WindowEnd); non-final ones are the live "ticking" candle.
func snapshot(state CandleState, isClosed bool) types.Candle {
	open := state.Open
	if len(state.Trades) == 0 {
		open = state.PreviousClose.TakeOr(0)
	}

	return types.Candle{
		Symbol:     state.Symbol,
		Interval:   state.Interval,
		Open:       open,
		High:       state.High,
		Low:        state.Low,
		Close:      state.Close,
		Volume:     state.Volume,
		TradeCount: len(state.Trades),
		Time:       state.WindowStart,
		CloseAt:    state.WindowEnd,
		IsClosed:   isClosed,
	}
}

// candleKey identifies one synthesizer state.
type candleKey struct {
	symbol   string
	interval types.Interval
}

// Synthesizer owns the candle states of one session. Registration seeds a
// state from the provider's history endpoint; trade ingestion advances the
// matching states. Ingestion runs on the session's single dispatch timeline,
// so the states themselves need no locking; the map is guarded because
// registration happens on caller goroutines.
type Synthesizer struct {
	history HistoryProvider
	log     *logger.Logger

	mu     sync.Mutex
	states map[candleKey]CandleState
}

// NewSynthesizer creates a synthesizer seeding from the given history source.
func NewSynthesizer(history HistoryProvider, log *logger.Logger) *Synthesizer {
	return &Synthesizer{
		history: history,
		log:     log,
		mu:      sync.Mutex{},
		states:  make(map[candleKey]CandleState),
	}
}

// Register seeds and installs the state for (symbol, interval). The seed is
// the most recently completed historical window; it fixes the boundaries of
// the next window and supplies the carry-forward close. Any fetch failure
// aborts registration and leaves the state absent so a retry starts clean.
func (s *Synthesizer) Register(ctx context.Context, symbol string, interval types.Interval) error {
	if s.history == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "candle subscriptions require a history provider for seeding")
	}

	key := candleKey{symbol: symbol, interval: interval}

	s.mu.Lock()
	_, exists := s.states[key]
	s.mu.Unlock()

	if exists {
		return nil
	}

	seed, err := s.fetchSeed(ctx, symbol, interval)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		// Session closed while seeding; leave the state absent.
		return errors.Wrapf(errors.ErrCodeRequestCancelled, ctx.Err(), "seeding abandoned for %s %s", symbol, interval)
	}

	s.mu.Lock()
	if _, exists := s.states[key]; !exists {
		s.states[key] = NewCandleState(seed)
	}
	s.mu.Unlock()

	s.log.Info("candle state seeded",
		zap.String("symbol", symbol),
		zap.String("interval", interval.String()),
		zap.Time("window_start", seed.CloseAt),
		zap.Float64("previous_close", seed.Close),
	)

	return nil
}

// Unregister removes the state for (symbol, interval). Returns true when a
// state was present.
func (s *Synthesizer) Unregister(symbol string, interval types.Interval) bool {
	key := candleKey{symbol: symbol, interval: interval}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.states[key]
	delete(s.states, key)

	return ok
}

// Ingest advances every state registered for the trade's symbol and returns
// the candles to emit, in order.
func (s *Synthesizer) Ingest(trade types.Trade) []types.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var emitted []types.Candle

	for key, state := range s.states {
		if key.symbol != trade.Symbol {
			continue
		}

		next, candles := Advance(state, trade)
		s.states[key] = next
		emitted = append(emitted, candles...)
	}

	return emitted
}

// HasSymbol reports whether any state is registered for the symbol.
func (s *Synthesizer) HasSymbol(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.states {
		if key.symbol == symbol {
			return true
		}
	}

	return false
}

// Count returns the number of registered states.
func (s *Synthesizer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.states)
}

// Clear drops every state. Used on session teardown.
func (s *Synthesizer) Clear() {
	s.mu.Lock()
	s.states = make(map[candleKey]CandleState)
	s.mu.Unlock()
}

// fetchSeed returns the most recently completed window for (symbol, interval).
func (s *Synthesizer) fetchSeed(ctx context.Context, symbol string, interval types.Interval) (types.Candle, error) {
	now := time.Now().UTC()
	from := now.Add(-seedLookbackWindows * interval.Duration())

	candles, err := s.history.FetchHistory(ctx, symbol, interval, from, now)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeSeedFetchFailed, err, "history fetch failed for %s %s", symbol, interval)
	}

	// Walk backwards to the newest fully completed window.
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].CloseAt.After(now) {
			seed := candles[i]
			seed.Symbol = symbol
			seed.Interval = interval
			seed.IsClosed = true

			return seed, nil
		}
	}

	return types.Candle{}, errors.Newf(errors.ErrCodeSeedEmpty, "no completed candles for %s %s", symbol, interval)
}
