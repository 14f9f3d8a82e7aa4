// Package adapter contains the provider-specific codecs and history clients
// that plug into a streaming session. Adapters are pure: they translate
// between subscription identities and wire payloads without touching the
// socket, which keeps every provider quirk testable off the network.
package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/pkg/errors"
	"github.com/tradekit-lab/marketstream/pkg/marketstream"
)

const binanceStreamURL = "wss://stream.binance.com:9443/ws"

// BinanceAdapter speaks the Binance spot websocket dialect. Binance
// acknowledges every SUBSCRIBE/UNSUBSCRIBE command with a correlated reply
// and answers socket-level pings itself, so no application keepalive payload
// is needed.
type BinanceAdapter struct {
	url string
}

// NewBinanceAdapter creates the Binance codec.
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{url: binanceStreamURL}
}

var _ marketstream.ProviderAdapter = (*BinanceAdapter)(nil)

func (a *BinanceAdapter) Name() string {
	return "binance"
}

func (a *BinanceAdapter) URL() string {
	return a.url
}

func (a *BinanceAdapter) AcksSubscriptions() bool {
	return true
}

// HasNativePriceFeed is true: price subscriptions ride the miniTicker
// stream, so the session must not also derive ticks from trade prints.
func (a *BinanceAdapter) HasNativePriceFeed() bool {
	return true
}

// SubscribePayload builds a SUBSCRIBE command. Candle subscriptions ride the
// raw trade stream; the session synthesizes candles from the prints.
func (a *BinanceAdapter) SubscribePayload(sub marketstream.Subscription) (map[string]any, error) {
	stream, err := binanceStreamName(sub)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{stream},
	}, nil
}

func (a *BinanceAdapter) UnsubscribePayload(sub marketstream.Subscription) (map[string]any, error) {
	stream, err := binanceStreamName(sub)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"method": "UNSUBSCRIBE",
		"params": []string{stream},
	}, nil
}

func (a *BinanceAdapter) KeepalivePayload() ([]byte, bool) {
	return nil, false
}

func binanceStreamName(sub marketstream.Subscription) (string, error) {
	symbol := strings.ToLower(sub.Symbol)

	switch sub.Channel {
	case marketstream.ChannelCandle:
		return symbol + "@trade", nil
	case marketstream.ChannelPrice:
		return symbol + "@miniTicker", nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidChannel, "binance has no stream for channel %q", sub.Channel)
	}
}

type binanceReply struct {
	ID    int64 `json:"id"`
	Error *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type binanceTradeEvent struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type binanceMiniTickerEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type binanceOrderEvent struct {
	Event           string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	Side            string `json:"S"`
	OrderID         int64  `json:"i"`
	Price           string `json:"p"`
	Quantity        string `json:"q"`
	ExecutionStatus string `json:"X"`
}

// Decode classifies one inbound Binance frame. Binance delivers one event
// per websocket message on the raw stream endpoint.
func (a *BinanceAdapter) Decode(raw []byte) ([]marketstream.Frame, error) {
	// EventTime must be declared even though the probe never reads it:
	// encoding/json matches tags case-insensitively, so without it the
	// numeric "E" key would land on the string-typed "e" field and fail.
	var probe struct {
		ID        json.RawMessage `json:"id"`
		Event     string          `json:"e"`
		EventTime int64           `json:"E"`
	}

	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode binance frame", err)
	}

	if len(probe.ID) > 0 && string(probe.ID) != "null" {
		return a.decodeReply(raw)
	}

	switch probe.Event {
	case "trade":
		return a.decodeTrade(raw)
	case "24hrMiniTicker":
		return a.decodeMiniTicker(raw)
	case "executionReport":
		return a.decodeOrder(raw)
	default:
		return []marketstream.Frame{{Kind: marketstream.FrameUnknown, Raw: raw}}, nil
	}
}

func (a *BinanceAdapter) decodeReply(raw []byte) ([]marketstream.Frame, error) {
	var reply binanceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode binance reply", err)
	}

	frame := marketstream.Frame{
		Kind: marketstream.FrameReply,
		ID:   reply.ID,
		Raw:  raw,
	}
	if reply.Error != nil {
		frame.ErrorCode = reply.Error.Code
		frame.ErrorMessage = reply.Error.Msg
	}

	return []marketstream.Frame{frame}, nil
}

func (a *BinanceAdapter) decodeTrade(raw []byte) ([]marketstream.Frame, error) {
	var event binanceTradeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode binance trade", err)
	}

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDecodeFailed, err, "invalid trade price %q", event.Price)
	}

	size, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDecodeFailed, err, "invalid trade quantity %q", event.Quantity)
	}

	// The buyer being the maker means the aggressor sold.
	side := types.SideBuy
	if event.IsBuyerMaker {
		side = types.SideSell
	}

	return []marketstream.Frame{{
		Kind:   marketstream.FrameTrade,
		Symbol: event.Symbol,
		Trade: types.Trade{
			Symbol: event.Symbol,
			Price:  price,
			Size:   size,
			Time:   time.UnixMilli(event.TradeTime).UTC(),
			Side:   side,
		},
		Raw: raw,
	}}, nil
}

func (a *BinanceAdapter) decodeMiniTicker(raw []byte) ([]marketstream.Frame, error) {
	var event binanceMiniTickerEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode binance mini ticker", err)
	}

	price, err := strconv.ParseFloat(event.Close, 64)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDecodeFailed, err, "invalid ticker price %q", event.Close)
	}

	return []marketstream.Frame{{
		Kind:   marketstream.FramePrice,
		Symbol: event.Symbol,
		Price: types.PriceUpdate{
			Symbol: event.Symbol,
			Price:  price,
			Time:   time.UnixMilli(event.EventTime).UTC(),
		},
		Raw: raw,
	}}, nil
}

func (a *BinanceAdapter) decodeOrder(raw []byte) ([]marketstream.Frame, error) {
	var event binanceOrderEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDecodeFailed, "failed to decode binance order update", err)
	}

	price, _ := strconv.ParseFloat(event.Price, 64)
	quantity, _ := strconv.ParseFloat(event.Quantity, 64)

	side := types.SideBuy
	if event.Side == "SELL" {
		side = types.SideSell
	}

	return []marketstream.Frame{{
		Kind:   marketstream.FrameOrder,
		Symbol: event.Symbol,
		Order: types.OrderUpdate{
			OrderID:  strconv.FormatInt(event.OrderID, 10),
			Symbol:   event.Symbol,
			Status:   event.ExecutionStatus,
			Side:     side,
			Price:    price,
			Quantity: quantity,
			Time:     time.UnixMilli(event.EventTime).UTC(),
			Raw:      raw,
		},
		Raw: raw,
	}}, nil
}

// KlineFetcher abstracts the Binance klines endpoint so history fetches can
// be faked in tests.
type KlineFetcher interface {
	Klines(ctx context.Context, symbol string, interval string, startMs int64, endMs int64, limit int) ([]*binance.Kline, error)
}

type binanceKlines struct {
	client *binance.Client
}

func (b *binanceKlines) Klines(ctx context.Context, symbol string, interval string, startMs int64, endMs int64, limit int) ([]*binance.Kline, error) {
	return b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMs).
		EndTime(endMs).
		Limit(limit).
		Do(ctx)
}

// BinanceHistory fetches completed candles from the Binance klines endpoint
// for seeding candle synthesis.
type BinanceHistory struct {
	fetcher KlineFetcher
}

// NewBinanceHistory creates a history client over the public klines
// endpoint. Keys are optional for public market data.
func NewBinanceHistory(apiKey string, secretKey string) *BinanceHistory {
	return &BinanceHistory{
		fetcher: &binanceKlines{client: binance.NewClient(apiKey, secretKey)},
	}
}

// NewBinanceHistoryWithFetcher creates a history client over a custom
// fetcher. Used by tests.
func NewBinanceHistoryWithFetcher(fetcher KlineFetcher) *BinanceHistory {
	return &BinanceHistory{fetcher: fetcher}
}

var _ marketstream.HistoryProvider = (*BinanceHistory)(nil)

// FetchHistory returns candles ordered oldest first. Volume is the
// quote-asset turnover of each window, matching the synthesized candles.
func (h *BinanceHistory) FetchHistory(ctx context.Context, symbol string, interval types.Interval, from time.Time, to time.Time) ([]types.Candle, error) {
	klines, err := h.fetcher.Klines(ctx, symbol, interval.String(), from.UnixMilli(), to.UnixMilli(), 1000)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeSeedFetchFailed, err, "failed to fetch binance klines for %s", symbol)
	}

	candles := make([]types.Candle, 0, len(klines))

	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		quoteVolume, _ := strconv.ParseFloat(k.QuoteAssetVolume, 64)

		openTime := time.UnixMilli(k.OpenTime).UTC()

		candles = append(candles, types.Candle{
			Symbol:     symbol,
			Interval:   interval,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closePrice,
			Volume:     quoteVolume,
			TradeCount: int(k.TradeNum),
			Time:       openTime,
			CloseAt:    openTime.Add(interval.Duration()),
			IsClosed:   true,
		})
	}

	return candles, nil
}
