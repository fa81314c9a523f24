// Package yahoo implements the Yahoo Finance provider. Yahoo needs no API key;
// quotes and charts come from the JSON endpoints and the company profile is
// scraped from the public profile page.
package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

const (
	Name           = "yahoo"
	DefaultBaseURL = "https://query1.finance.yahoo.com"
	DefaultWebURL  = "https://finance.yahoo.com"
)

type Config struct {
	BaseURL string
	WebURL  string
}

type Client struct {
	cfg   Config
	fetch *provider.Fetcher
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.WebURL == "" {
		cfg.WebURL = DefaultWebURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WebURL = strings.TrimRight(cfg.WebURL, "/")
	return &Client{cfg: cfg, fetch: provider.NewFetcher(Name, client, logger)}
}

func (c *Client) Name() string { return Name }

type quoteResponse struct {
	QuoteResponse struct {
		Result []struct {
			Symbol                     string  `json:"symbol"`
			RegularMarketPrice         float64 `json:"regularMarketPrice"`
			RegularMarketChange        float64 `json:"regularMarketChange"`
			RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
			RegularMarketOpen          float64 `json:"regularMarketOpen"`
			RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
			RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
			RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
			RegularMarketVolume        int64   `json:"regularMarketVolume"`
			RegularMarketTime          int64   `json:"regularMarketTime"`
			MarketCap                  float64 `json:"marketCap"`
			TrailingPE                 float64 `json:"trailingPE"`
			EPSTrailingTwelveMonths    float64 `json:"epsTrailingTwelveMonths"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"quoteResponse"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", c.cfg.BaseURL, url.QueryEscape(symbol))
	var res quoteResponse
	if err := c.fetch.GetJSON(ctx, u, nil, &res); err != nil {
		return market.Quote{}, err
	}
	if len(res.QuoteResponse.Result) == 0 {
		return market.Quote{}, provider.ErrNotFound
	}
	r := res.QuoteResponse.Result[0]
	q := market.Quote{
		Symbol:        r.Symbol,
		Price:         decimal.NewFromFloat(r.RegularMarketPrice),
		Change:        decimal.NewFromFloat(r.RegularMarketChange),
		ChangePercent: r.RegularMarketChangePercent,
		Open:          decimal.NewFromFloat(r.RegularMarketOpen),
		High:          decimal.NewFromFloat(r.RegularMarketDayHigh),
		Low:           decimal.NewFromFloat(r.RegularMarketDayLow),
		PreviousClose: decimal.NewFromFloat(r.RegularMarketPreviousClose),
		Volume:        r.RegularMarketVolume,
		MarketCap:     r.MarketCap,
		PE:            r.TrailingPE,
		EPS:           r.EPSTrailingTwelveMonths,
		Timestamp:     time.Unix(r.RegularMarketTime, 0).UTC(),
		Provider:      Name,
	}
	q.FillChange()
	return q, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
			Events struct {
				Dividends map[string]struct {
					Amount float64 `json:"amount"`
					Date   int64   `json:"date"`
				} `json:"dividends"`
			} `json:"events"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

var chartIntervals = map[market.Interval]string{
	market.Daily:   "1d",
	market.Weekly:  "1wk",
	market.Monthly: "1mo",
}

func (c *Client) chart(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) (chartResponse, error) {
	params := url.Values{
		"period1":  {fmt.Sprint(from.Unix())},
		"period2":  {fmt.Sprint(to.Unix())},
		"interval": {chartIntervals[interval]},
		"events":   {"div"},
	}
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.cfg.BaseURL, url.PathEscape(symbol), params.Encode())
	var res chartResponse
	if err := c.fetch.GetJSON(ctx, u, nil, &res); err != nil {
		return res, err
	}
	if res.Chart.Error != nil {
		return res, fmt.Errorf("%w: %s", provider.ErrNotFound, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 {
		return res, provider.ErrNotFound
	}
	return res, nil
}

func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	if _, ok := chartIntervals[interval]; !ok {
		return nil, provider.ErrNotSupported
	}
	res, err := c.chart(ctx, symbol, from, to, interval)
	if err != nil {
		return nil, err
	}
	r := res.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, provider.ErrNotFound
	}
	ind := r.Indicators.Quote[0]
	bars := make([]market.PriceBar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		last := at(ind.Close, i)
		if last == 0 {
			// Yahoo emits null rows for halted sessions.
			continue
		}
		bars = append(bars, market.PriceBar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   at(ind.Open, i),
			High:   at(ind.High, i),
			Low:    at(ind.Low, i),
			Close:  last,
			Volume: at(ind.Volume, i),
		})
	}
	return bars, nil
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

// Dividends reads the dividend events of a ten year monthly chart.
func (c *Client) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	to := time.Now().UTC()
	res, err := c.chart(ctx, symbol, to.AddDate(-10, 0, 0), to, market.Monthly)
	if err != nil {
		return nil, err
	}
	var divs []market.Dividend
	for _, d := range res.Chart.Result[0].Events.Dividends {
		divs = append(divs, market.Dividend{ExDate: time.Unix(d.Date, 0).UTC(), Amount: d.Amount})
	}
	sort.Slice(divs, func(i, j int) bool { return divs[i].ExDate.Before(divs[j].ExDate) })
	return divs, nil
}

func (c *Client) Financials(context.Context, string) (market.Financials, error) {
	return market.Financials{}, provider.ErrNotSupported
}
