// Package alpaca serves quotes and bars from Alpaca's market data API through
// the official SDK. Alpaca carries no fundamentals, so only Quote and History
// are implemented.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

const Name = "alpaca"

type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

// dataClient is the part of *marketdata.Client used here.
type dataClient interface {
	GetSnapshot(symbol string, req marketdata.GetSnapshotRequest) (*marketdata.Snapshot, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

type Client struct {
	provider.Unsupported
	data   dataClient
	feed   marketdata.Feed
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newClient(data, cfg.Feed, logger)
}

func newClient(data dataClient, feed string, logger *zap.Logger) *Client {
	return &Client{data: data, feed: marketdata.Feed(feed), logger: logger.Named(Name)}
}

func (c *Client) Name() string { return Name }

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	if err := ctx.Err(); err != nil {
		return market.Quote{}, err
	}
	snap, err := c.data.GetSnapshot(symbol, marketdata.GetSnapshotRequest{Feed: c.feed})
	if err != nil {
		return market.Quote{}, fmt.Errorf("snapshot: %w", classify(err))
	}
	if snap == nil || (snap.LatestTrade == nil && snap.DailyBar == nil) {
		return market.Quote{}, provider.ErrNotFound
	}
	return snapshotQuote(symbol, snap), nil
}

// classify maps the SDK's API errors onto the provider sentinels. Alpaca
// answers an unknown or malformed symbol with 404 or 422.
func classify(err error) error {
	var apiErr *alpacaapi.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %v", provider.ErrNotFound, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
	default:
		return provider.NewHTTPError(apiErr.StatusCode, err)
	}
}

func snapshotQuote(symbol string, snap *marketdata.Snapshot) market.Quote {
	q := market.Quote{Symbol: symbol, Provider: Name}
	if bar := snap.DailyBar; bar != nil {
		q.Open = decimal.NewFromFloat(bar.Open)
		q.High = decimal.NewFromFloat(bar.High)
		q.Low = decimal.NewFromFloat(bar.Low)
		q.Price = decimal.NewFromFloat(bar.Close)
		q.Volume = int64(bar.Volume)
		q.Timestamp = bar.Timestamp.UTC()
	}
	if trade := snap.LatestTrade; trade != nil {
		q.Price = decimal.NewFromFloat(trade.Price)
		q.Timestamp = trade.Timestamp.UTC()
	}
	if prev := snap.PrevDailyBar; prev != nil {
		q.PreviousClose = decimal.NewFromFloat(prev.Close)
	}
	q.FillChange()
	return q
}

var timeFrames = map[market.Interval]marketdata.TimeFrame{
	market.Daily:   marketdata.OneDay,
	market.Weekly:  marketdata.NewTimeFrame(1, marketdata.Week),
	market.Monthly: marketdata.NewTimeFrame(1, marketdata.Month),
}

func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	tf, ok := timeFrames[interval]
	if !ok {
		return nil, provider.ErrNotSupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := c.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     from,
		End:       to,
		Feed:      c.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("bars: %w", classify(err))
	}
	c.logger.Debug("bars",
		zap.String("symbol", symbol),
		zap.String("timeframe", tf.String()),
		zap.Int("count", len(bars)))
	if len(bars) == 0 {
		return nil, provider.ErrNotFound
	}
	out := make([]market.PriceBar, 0, len(bars))
	for _, b := range bars {
		out = append(out, market.PriceBar{
			Date:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}
