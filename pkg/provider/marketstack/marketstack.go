// Package marketstack implements the Marketstack v2 end-of-day provider.
package marketstack

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

const (
	Name           = "marketstack"
	DefaultBaseURL = "https://api.marketstack.com/v2"

	pageLimit = 1000
	maxPages  = 10
)

type Config struct {
	APIKey  string
	BaseURL string
}

type Client struct {
	cfg   Config
	fetch *provider.Fetcher
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, fetch: provider.NewFetcher(Name, client, logger)}
}

func (c *Client) Name() string { return Name }

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
	Total  int `json:"total"`
}

type eodResponse struct {
	Pagination pagination `json:"pagination"`
	Data       []eodData  `json:"data"`
}

type eodData struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Dividend float64 `json:"dividend"`
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Date     string  `json:"date"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	params.Set("access_key", c.cfg.APIKey)
	return c.fetch.GetJSON(ctx, c.cfg.BaseURL+path+"?"+params.Encode(), nil, dst)
}

// Quote reads the two most recent end-of-day rows so the previous close is
// known.
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var res eodResponse
	if err := c.get(ctx, "/eod", url.Values{"symbols": {symbol}, "limit": {"2"}, "sort": {"DESC"}}, &res); err != nil {
		return market.Quote{}, err
	}
	if len(res.Data) == 0 {
		return market.Quote{}, provider.ErrNotFound
	}
	last := res.Data[0]
	q := market.Quote{
		Symbol:    last.Symbol,
		Price:     decimal.NewFromFloat(last.Close),
		Open:      decimal.NewFromFloat(last.Open),
		High:      decimal.NewFromFloat(last.High),
		Low:       decimal.NewFromFloat(last.Low),
		Volume:    int64(last.Volume),
		Timestamp: provider.Date(last.Date),
		Provider:  Name,
	}
	if len(res.Data) > 1 {
		q.PreviousClose = decimal.NewFromFloat(res.Data[1].Close)
	}
	q.FillChange()
	return q, nil
}

type tickerInfoResponse struct {
	Data struct {
		Name              string `json:"name"`
		Ticker            string `json:"ticker"`
		Sector            string `json:"sector"`
		Industry          string `json:"industry"`
		ExchangeCode      string `json:"exchange_code"`
		FullTimeEmployees string `json:"full_time_employees"`
	} `json:"data"`
}

func (c *Client) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	var res tickerInfoResponse
	if err := c.get(ctx, "/tickerinfo", url.Values{"ticker": {symbol}}, &res); err != nil {
		return market.Profile{}, err
	}
	if res.Data.Ticker == "" {
		return market.Profile{}, provider.ErrNotFound
	}
	return market.Profile{
		Symbol:    res.Data.Ticker,
		Name:      res.Data.Name,
		Exchange:  res.Data.ExchangeCode,
		Sector:    res.Data.Sector,
		Industry:  res.Data.Industry,
		Employees: int(provider.Number(res.Data.FullTimeEmployees)),
		Provider:  Name,
	}, nil
}

// History pages through the end-of-day endpoint. Marketstack only serves daily
// bars.
func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	if interval != market.Daily {
		return nil, provider.ErrNotSupported
	}
	var bars []market.PriceBar
	for page := 0; page < maxPages; page++ {
		params := url.Values{
			"symbols":   {symbol},
			"date_from": {from.Format(time.DateOnly)},
			"date_to":   {to.Format(time.DateOnly)},
			"limit":     {strconv.Itoa(pageLimit)},
			"offset":    {strconv.Itoa(page * pageLimit)},
		}
		var res eodResponse
		if err := c.get(ctx, "/eod", params, &res); err != nil {
			return nil, err
		}
		for _, d := range res.Data {
			bars = append(bars, market.PriceBar{
				Date:   provider.Date(d.Date),
				Open:   d.Open,
				High:   d.High,
				Low:    d.Low,
				Close:  d.Close,
				Volume: d.Volume,
			})
		}
		if len(res.Data) == 0 || res.Pagination.Offset+res.Pagination.Count >= res.Pagination.Total {
			break
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

type dividendsResponse struct {
	Data []struct {
		Date     string  `json:"date"`
		Dividend float64 `json:"dividend"`
	} `json:"data"`
}

func (c *Client) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	var res dividendsResponse
	if err := c.get(ctx, "/dividends", url.Values{"symbols": {symbol}, "limit": {strconv.Itoa(pageLimit)}}, &res); err != nil {
		return nil, err
	}
	divs := make([]market.Dividend, 0, len(res.Data))
	for _, d := range res.Data {
		if d.Dividend > 0 {
			divs = append(divs, market.Dividend{ExDate: provider.Date(d.Date), Amount: d.Dividend})
		}
	}
	sort.Slice(divs, func(i, j int) bool { return divs[i].ExDate.Before(divs[j].ExDate) })
	return divs, nil
}

func (c *Client) Financials(context.Context, string) (market.Financials, error) {
	return market.Financials{}, provider.ErrNotSupported
}
