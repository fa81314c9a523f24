// Package tiingo implements the Tiingo provider: IEX quotes, end-of-day prices
// and fundamentals statements.
package tiingo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

const (
	Name           = "tiingo"
	DefaultBaseURL = "https://api.tiingo.com"
)

type Config struct {
	APIKey  string
	BaseURL string
}

type Client struct {
	cfg   Config
	fetch *provider.Fetcher
	now   func() time.Time
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, fetch: provider.NewFetcher(Name, client, logger), now: time.Now}
}

func (c *Client) Name() string { return Name }

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.cfg.APIKey)
	return c.fetch.GetJSON(ctx, c.cfg.BaseURL+path+"?"+params.Encode(), nil, dst)
}

type iexQuote struct {
	Ticker    string   `json:"ticker"`
	Last      *float64 `json:"last"`
	TngoLast  *float64 `json:"tngoLast"`
	PrevClose float64  `json:"prevClose"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Volume    *float64 `json:"volume"`
	Timestamp string   `json:"timestamp"`
}

func ptr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Quote uses the IEX last price; outside market hours last is null and the
// previous close is used instead.
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var res []iexQuote
	if err := c.get(ctx, "/iex/"+url.PathEscape(strings.ToLower(symbol)), nil, &res); err != nil {
		return market.Quote{}, err
	}
	if len(res) == 0 {
		return market.Quote{}, provider.ErrNotFound
	}
	r := res[0]
	price := r.PrevClose
	switch {
	case r.Last != nil:
		price = *r.Last
	case r.TngoLast != nil:
		price = *r.TngoLast
	}
	q := market.Quote{
		Symbol:        strings.ToUpper(r.Ticker),
		Price:         decimal.NewFromFloat(price),
		PreviousClose: decimal.NewFromFloat(r.PrevClose),
		Open:          decimal.NewFromFloat(ptr(r.Open)),
		High:          decimal.NewFromFloat(ptr(r.High)),
		Low:           decimal.NewFromFloat(ptr(r.Low)),
		Volume:        int64(ptr(r.Volume)),
		Timestamp:     provider.Date(r.Timestamp),
		Provider:      Name,
	}
	q.FillChange()
	return q, nil
}

type meta struct {
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	ExchangeCode string `json:"exchangeCode"`
	Description  string `json:"description"`
}

func (c *Client) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	var m meta
	if err := c.get(ctx, "/tiingo/daily/"+url.PathEscape(strings.ToLower(symbol)), nil, &m); err != nil {
		return market.Profile{}, err
	}
	if m.Ticker == "" {
		return market.Profile{}, provider.ErrNotFound
	}
	return market.Profile{
		Symbol:      strings.ToUpper(m.Ticker),
		Name:        m.Name,
		Exchange:    m.ExchangeCode,
		Description: strings.TrimSpace(m.Description),
		Provider:    Name,
	}, nil
}

type dailyPrice struct {
	Date    string  `json:"date"`
	Open    float64 `json:"open"`
	High    float64 `json:"high"`
	Low     float64 `json:"low"`
	Close   float64 `json:"close"`
	Volume  float64 `json:"volume"`
	DivCash float64 `json:"divCash"`
}

func (c *Client) prices(ctx context.Context, symbol string, from, to time.Time, freq string) ([]dailyPrice, error) {
	params := url.Values{
		"startDate":    {from.Format(time.DateOnly)},
		"endDate":      {to.Format(time.DateOnly)},
		"resampleFreq": {freq},
	}
	var res []dailyPrice
	if err := c.get(ctx, "/tiingo/daily/"+url.PathEscape(strings.ToLower(symbol))+"/prices", params, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	switch interval {
	case market.Daily, market.Weekly, market.Monthly:
	default:
		return nil, provider.ErrNotSupported
	}
	rows, err := c.prices(ctx, symbol, from, to, string(interval))
	if err != nil {
		return nil, err
	}
	bars := make([]market.PriceBar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, market.PriceBar{
			Date:   provider.Date(r.Date),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}

// Dividends scans ten years of daily prices for cash distributions.
func (c *Client) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	to := c.now().UTC()
	rows, err := c.prices(ctx, symbol, to.AddDate(-10, 0, 0), to, "daily")
	if err != nil {
		return nil, err
	}
	var divs []market.Dividend
	for _, r := range rows {
		if r.DivCash > 0 {
			divs = append(divs, market.Dividend{ExDate: provider.Date(r.Date), Amount: r.DivCash})
		}
	}
	return divs, nil
}

type dataPoint struct {
	DataCode string  `json:"dataCode"`
	Value    float64 `json:"value"`
}

type statement struct {
	Date          string `json:"date"`
	Year          int    `json:"year"`
	Quarter       int    `json:"quarter"`
	StatementData struct {
		IncomeStatement []dataPoint `json:"incomeStatement"`
		BalanceSheet    []dataPoint `json:"balanceSheet"`
		CashFlow        []dataPoint `json:"cashFlow"`
		Overview        []dataPoint `json:"overview"`
	} `json:"statementData"`
}

// Financials reads the annual (quarter 0) fundamentals statements.
func (c *Client) Financials(ctx context.Context, symbol string) (market.Financials, error) {
	var res []statement
	path := fmt.Sprintf("/tiingo/fundamentals/%s/statements", url.PathEscape(strings.ToLower(symbol)))
	if err := c.get(ctx, path, nil, &res); err != nil {
		return market.Financials{}, err
	}

	f := market.Financials{Symbol: symbol, Provider: Name}
	for _, s := range res {
		if s.Quarter != 0 {
			continue
		}
		v := make(map[string]float64)
		for _, group := range [][]dataPoint{s.StatementData.IncomeStatement, s.StatementData.BalanceSheet, s.StatementData.CashFlow, s.StatementData.Overview} {
			for _, dp := range group {
				if _, ok := v[dp.DataCode]; !ok {
					v[dp.DataCode] = dp.Value
				}
			}
		}
		f.Annual = append(f.Annual, market.FinancialPeriod{
			FiscalYear:         s.Year,
			PeriodEnd:          provider.Date(s.Date),
			Revenue:            v["revenue"],
			NetIncome:          v["netinc"],
			EBITDA:             v["ebitda"],
			EPS:                v["eps"],
			OperatingCashFlow:  v["ncfo"],
			CapitalExpenditure: v["capex"],
			FreeCashFlowValue:  v["freeCashFlow"],
			TotalAssets:        v["totalAssets"],
			TotalLiabilities:   v["totalLiabilities"],
			ShareholderEquity:  v["equity"],
			TotalDebt:          v["debt"],
			Cash:               v["cashAndEq"],
			SharesOutstanding:  v["shareswa"],
			DividendsPaid:      v["payDiv"],
		})
	}
	if len(f.Annual) == 0 {
		return market.Financials{}, provider.ErrNotFound
	}
	f.SortAnnual()
	return f, nil
}
