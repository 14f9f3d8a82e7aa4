package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/pkg/errors"
	"github.com/tradekit-lab/marketstream/pkg/marketstream"
)

const polygonStreamURL = "wss://socket.polygon.io/stocks"

// PolygonAdapter speaks the Polygon.io stocks websocket dialect. Polygon
// does not correlate subscribe commands: it acknowledges through untagged
// status events, so subscriptions are fire-and-forget. Authentication is a
// raw {"action":"auth"} command the caller sends after opening the session.
type PolygonAdapter struct {
	url string
}

// NewPolygonAdapter creates the Polygon codec.
func NewPolygonAdapter() *PolygonAdapter {
	return &PolygonAdapter{url: polygonStreamURL}
}

var _ marketstream.ProviderAdapter = (*PolygonAdapter)(nil)

func (a *PolygonAdapter) Name() string {
	return "polygon"
}

func (a *PolygonAdapter) URL() string {
	return a.url
}

func (a *PolygonAdapter) AcksSubscriptions() bool {
	return false
}

// HasNativePriceFeed is false: Polygon's trade feed is the only price
// source, so the session derives ticks from prints.
func (a *PolygonAdapter) HasNativePriceFeed() bool {
	return false
}

// AuthPayload builds the authentication command Polygon requires before it
// accepts subscriptions. Send it through the session's raw command path.
func (a *PolygonAdapter) AuthPayload(apiKey string) map[string]any {
	return map[string]any{
		"action": "auth",
		"params": apiKey,
	}
}

// SubscribePayload builds a subscribe command. Both channels ride the trade
// feed: candles are synthesized from prints and price ticks are derived from
// them.
func (a *PolygonAdapter) SubscribePayload(sub marketstream.Subscription) (map[string]any, error) {
	return map[string]any{
		"action": "subscribe",
		"params": "T." + strings.ToUpper(sub.Symbol),
	}, nil
}

func (a *PolygonAdapter) UnsubscribePayload(sub marketstream.Subscription) (map[string]any, error) {
	return map[string]any{
		"action": "unsubscribe",
		"params": "T." + strings.ToUpper(sub.Symbol),
	}, nil
}

func (a *PolygonAdapter) KeepalivePayload() ([]byte, bool) {
	return nil, false
}

type polygonEvent struct {
	Event     string  `json:"ev"`
	Symbol    string  `json:"sym"`
	Price     float64 `json:"p"`
	Size      float64 `json:"s"`
	Timestamp int64   `json:"t"`
}

// Decode classifies one inbound Polygon message. Polygon batches events into
// JSON arrays, so one websocket message can yield several frames.
func (a *PolygonAdapter) Decode(raw []byte) ([]marketstream.Frame, error) {
	var events []json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode polygon message", err)
	}

	frames := make([]marketstream.Frame, 0, len(events))

	for _, body := range events {
		var event polygonEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode polygon event", err)
		}

		if event.Event != "T" {
			// Status and auth acknowledgements pass through untyped.
			frames = append(frames, marketstream.Frame{Kind: marketstream.FrameUnknown, Raw: body})

			continue
		}

		frames = append(frames, marketstream.Frame{
			Kind:   marketstream.FrameTrade,
			Symbol: event.Symbol,
			Trade: types.Trade{
				Symbol: event.Symbol,
				Price:  event.Price,
				Size:   event.Size,
				Time:   time.UnixMilli(event.Timestamp).UTC(),
				Side:   types.SideBuy,
			},
			Raw: body,
		})
	}

	return frames, nil
}

// AggsIterator is the slice of the Polygon aggregates iterator the history
// client consumes.
type AggsIterator interface {
	Next() bool
	Item() models.Agg
	Err() error
}

// AggsClient abstracts the Polygon aggregates endpoint so history fetches
// can be faked in tests.
type AggsClient interface {
	ListAggs(ctx context.Context, params *models.ListAggsParams) AggsIterator
}

type polygonAggs struct {
	client *polygon.Client
}

func (p *polygonAggs) ListAggs(ctx context.Context, params *models.ListAggsParams) AggsIterator {
	return p.client.ListAggs(ctx, params)
}

// PolygonHistory fetches completed candles from the Polygon aggregates
// endpoint for seeding candle synthesis.
type PolygonHistory struct {
	client AggsClient
}

// NewPolygonHistory creates a history client over the Polygon REST API.
func NewPolygonHistory(apiKey string) (*PolygonHistory, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon history requires an api key")
	}

	return &PolygonHistory{client: &polygonAggs{client: polygon.New(apiKey)}}, nil
}

// NewPolygonHistoryWithClient creates a history client over a custom
// aggregates client. Used by tests.
func NewPolygonHistoryWithClient(client AggsClient) *PolygonHistory {
	return &PolygonHistory{client: client}
}

var _ marketstream.HistoryProvider = (*PolygonHistory)(nil)

// FetchHistory returns candles ordered oldest first. Polygon reports share
// volume, so the quote-asset turnover is reconstructed from the window VWAP.
func (h *PolygonHistory) FetchHistory(ctx context.Context, symbol string, interval types.Interval, from time.Time, to time.Time) ([]types.Candle, error) {
	multiplier, timespan, err := polygonTimespan(interval)
	if err != nil {
		return nil, err
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     strings.ToUpper(symbol),
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(from),
		To:         models.Millis(to),
	}.WithLimit(50000)

	iter := h.client.ListAggs(ctx, params)

	var candles []types.Candle

	for iter.Next() {
		agg := iter.Item()
		openTime := time.Time(agg.Timestamp).UTC()

		candles = append(candles, types.Candle{
			Symbol:     strings.ToUpper(symbol),
			Interval:   interval,
			Open:       agg.Open,
			High:       agg.High,
			Low:        agg.Low,
			Close:      agg.Close,
			Volume:     agg.VWAP * agg.Volume,
			TradeCount: int(agg.Transactions),
			Time:       openTime,
			CloseAt:    openTime.Add(interval.Duration()),
			IsClosed:   true,
		})
	}

	if iter.Err() != nil {
		return nil, errors.Wrapf(errors.ErrCodeSeedFetchFailed, iter.Err(), "failed to list polygon aggregates for %s", symbol)
	}

	return candles, nil
}

func polygonTimespan(interval types.Interval) (int, models.Timespan, error) {
	duration := interval.Duration()

	switch {
	case duration < time.Minute:
		return int(duration / time.Second), models.Second, nil
	case duration < time.Hour:
		return int(duration / time.Minute), models.Minute, nil
	case duration < 24*time.Hour:
		return int(duration / time.Hour), models.Hour, nil
	default:
		return int(duration / (24 * time.Hour)), models.Day, nil
	}
}
