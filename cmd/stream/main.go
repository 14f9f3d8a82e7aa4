package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tradekit-lab/marketstream/internal/logger"
	"github.com/tradekit-lab/marketstream/internal/types"
	"github.com/tradekit-lab/marketstream/internal/version"
	"github.com/tradekit-lab/marketstream/pkg/marketstream"
	"github.com/tradekit-lab/marketstream/pkg/marketstream/adapter"
)

// buildSession wires the provider adapter, history client and session for
// the given config.
func buildSession(config *marketstream.StreamConfig, lg *logger.Logger) (*marketstream.Session, *adapter.PolygonAdapter, error) {
	switch config.Provider {
	case "binance":
		history := adapter.NewBinanceHistory(config.ApiKey, "")
		session := marketstream.NewSession(adapter.NewBinanceAdapter(), history, lg,
			marketstream.WithKeepalive(config.KeepaliveInterval()))

		return session, nil, nil
	case "polygon":
		history, err := adapter.NewPolygonHistory(config.ApiKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create polygon history client: %w", err)
		}

		polygonAdapter := adapter.NewPolygonAdapter()
		session := marketstream.NewSession(polygonAdapter, history, lg,
			marketstream.WithKeepalive(config.KeepaliveInterval()))

		return session, polygonAdapter, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
}

// streamAction opens a session, subscribes per the flags and prints events
// until interrupted. The session itself never retries a failed dial; the
// retry policy lives here.
func streamAction(ctx context.Context, cmd *cli.Command) error {
	config := &marketstream.StreamConfig{
		Provider:         cmd.String("provider"),
		Symbols:          cmd.StringSlice("symbol"),
		Interval:         cmd.String("interval"),
		Channels:         cmd.StringSlice("channel"),
		ApiKey:           os.Getenv("POLYGON_API_KEY"),
		KeepaliveSeconds: 0,
	}
	if err := config.Validate(); err != nil {
		return err
	}

	interval, err := types.ParseInterval(config.Interval)
	if err != nil {
		return err
	}

	lg, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() { _ = lg.Sync() }()

	session, polygonAdapter, err := buildSession(config, lg)
	if err != nil {
		return err
	}

	session.OnPrice(func(update types.PriceUpdate) {
		log.Printf("price %s %.4f", update.Symbol, update.Price)
	})
	session.OnCandle(func(candle types.Candle) {
		marker := "live"
		if candle.IsClosed {
			marker = "closed"
		}

		log.Printf("candle %s %s %s o=%.4f h=%.4f l=%.4f c=%.4f v=%.4f n=%d",
			candle.Symbol, candle.Interval, marker,
			candle.Open, candle.High, candle.Low, candle.Close, candle.Volume, candle.TradeCount)
	})
	session.OnOrderUpdate(func(update types.OrderUpdate) {
		log.Printf("order %s %s %s", update.Symbol, update.OrderID, update.Status)
	})
	session.OnPayload(func(raw []byte) {
		log.Printf("payload %s", raw)
	})
	session.OnError(func(err error) {
		log.Printf("stream error: %v", err)
	})
	session.OnStatusChange(func(status marketstream.ConnectionStatus) {
		log.Printf("status: %s", status)
	})

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	openPolicy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), signalCtx)
	if err := backoff.Retry(func() error {
		return session.Open(signalCtx)
	}, openPolicy); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	defer func() { _ = session.Close() }()

	if polygonAdapter != nil {
		if _, err := session.SubscribeRaw(signalCtx, polygonAdapter.AuthPayload(config.ApiKey)); err != nil {
			return fmt.Errorf("polygon authentication failed: %w", err)
		}
		// Give the auth ack a moment; Polygon rejects subscribes sent
		// before authentication completes.
		time.Sleep(time.Second)
	}

	subscribeCtx, cancel := context.WithTimeout(signalCtx, 30*time.Second)
	defer cancel()

	for _, symbol := range config.Symbols {
		for _, channel := range config.ChannelList() {
			sub := marketstream.Subscription{
				Channel:  channel,
				Symbol:   symbol,
				Interval: interval,
			}
			if err := session.SubscribeTo(subscribeCtx, sub); err != nil {
				return fmt.Errorf("failed to subscribe to %s %s: %w", channel, symbol, err)
			}

			log.Printf("subscribed to %s %s", channel, symbol)
		}
	}

	<-signalCtx.Done()
	log.Println("shutting down")

	return nil
}

func main() {
	// Missing .env is fine; env vars may come from the environment itself.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "stream",
		Usage:   "Stream real-time prices and synthesized candles",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "provider",
				Aliases:  []string{"p"},
				Usage:    "Data provider to use (binance, polygon)",
				Value:    "binance",
				Required: false,
			},
			&cli.StringSliceFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Symbol to stream (repeatable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "interval",
				Aliases:  []string{"i"},
				Usage:    "Candle interval (e.g. 1m, 5m, 1h)",
				Value:    "1m",
				Required: false,
			},
			&cli.StringSliceFlag{
				Name:     "channel",
				Aliases:  []string{"c"},
				Usage:    "Channel to subscribe (price, candle; repeatable)",
				Required: false,
			},
		},
		Action: streamAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
