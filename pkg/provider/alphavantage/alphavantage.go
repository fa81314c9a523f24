// Package alphavantage implements the Alpha Vantage market-data provider.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

const (
	Name           = "alphavantage"
	DefaultBaseURL = "https://www.alphavantage.co"
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

// envelope carries the messages Alpha Vantage returns with a 200 status when a
// call is rejected.
type envelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (e envelope) err() error {
	switch {
	case e.ErrorMessage != "":
		return fmt.Errorf("%w: %s", provider.ErrNotFound, e.ErrorMessage)
	case e.Note != "":
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, e.Note)
	case e.Information != "":
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, e.Information)
	}
	return nil
}

// query calls one Alpha Vantage function and decodes the body into dst.
func (c *Client) query(ctx context.Context, function string, params url.Values, dst any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("function", function)
	params.Set("apikey", c.cfg.APIKey)
	body, err := c.fetch.Get(ctx, c.cfg.BaseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if err := env.err(); err != nil {
			return err
		}
	}
	return provider.DecodeJSON(body, dst)
}

type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	var res globalQuoteResponse
	if err := c.query(ctx, "GLOBAL_QUOTE", url.Values{"symbol": {symbol}}, &res); err != nil {
		return market.Quote{}, err
	}
	gq := res.GlobalQuote
	if len(gq) == 0 || gq["05. price"] == "" {
		return market.Quote{}, provider.ErrNotFound
	}
	q := market.Quote{
		Symbol:        gq["01. symbol"],
		Open:          decimal.NewFromFloat(provider.Number(gq["02. open"])),
		High:          decimal.NewFromFloat(provider.Number(gq["03. high"])),
		Low:           decimal.NewFromFloat(provider.Number(gq["04. low"])),
		Price:         decimal.NewFromFloat(provider.Number(gq["05. price"])),
		Volume:        int64(provider.Number(gq["06. volume"])),
		Timestamp:     provider.Date(gq["07. latest trading day"]),
		PreviousClose: decimal.NewFromFloat(provider.Number(gq["08. previous close"])),
		Change:        decimal.NewFromFloat(provider.Number(gq["09. change"])),
		ChangePercent: provider.Number(gq["10. change percent"]),
		Provider:      Name,
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	q.FillChange()
	return q, nil
}

type overview struct {
	Symbol               string `json:"Symbol"`
	Name                 string `json:"Name"`
	Description          string `json:"Description"`
	Exchange             string `json:"Exchange"`
	Currency             string `json:"Currency"`
	Sector               string `json:"Sector"`
	Industry             string `json:"Industry"`
	FullTimeEmployees    string `json:"FullTimeEmployees"`
	MarketCapitalization string `json:"MarketCapitalization"`
	PERatio              string `json:"PERatio"`
	EPS                  string `json:"EPS"`
	Beta                 string `json:"Beta"`
	SharesOutstanding    string `json:"SharesOutstanding"`
}

func (c *Client) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	var ov overview
	if err := c.query(ctx, "OVERVIEW", url.Values{"symbol": {symbol}}, &ov); err != nil {
		return market.Profile{}, err
	}
	if ov.Symbol == "" {
		return market.Profile{}, provider.ErrNotFound
	}
	return market.Profile{
		Symbol:            ov.Symbol,
		Name:              ov.Name,
		Exchange:          ov.Exchange,
		Sector:            titleCase(ov.Sector),
		Industry:          titleCase(ov.Industry),
		Currency:          ov.Currency,
		Employees:         int(provider.Number(ov.FullTimeEmployees)),
		Description:       ov.Description,
		SharesOutstanding: provider.Number(ov.SharesOutstanding),
		Beta:              provider.Number(ov.Beta),
		Provider:          Name,
	}, nil
}

// Alpha Vantage reports sectors upper-cased ("TECHNOLOGY").
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var seriesFunctions = map[market.Interval]struct{ function, key string }{
	market.Daily:   {"TIME_SERIES_DAILY", "Time Series (Daily)"},
	market.Weekly:  {"TIME_SERIES_WEEKLY", "Weekly Time Series"},
	market.Monthly: {"TIME_SERIES_MONTHLY", "Monthly Time Series"},
}

func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	fn, ok := seriesFunctions[interval]
	if !ok {
		return nil, provider.ErrNotSupported
	}
	params := url.Values{"symbol": {symbol}}
	if interval == market.Daily && time.Since(from) > 140*24*time.Hour {
		params.Set("outputsize", "full")
	}
	var res map[string]json.RawMessage
	if err := c.query(ctx, fn.function, params, &res); err != nil {
		return nil, err
	}
	raw, ok := res[fn.key]
	if !ok {
		return nil, provider.ErrNotFound
	}
	var series map[string]map[string]string
	if err := provider.DecodeJSON(raw, &series); err != nil {
		return nil, err
	}

	bars := make([]market.PriceBar, 0, len(series))
	for day, v := range series {
		d := provider.Date(day)
		if d.IsZero() || d.Before(from) || d.After(to) {
			continue
		}
		bars = append(bars, market.PriceBar{
			Date:   d,
			Open:   provider.Number(v["1. open"]),
			High:   provider.Number(v["2. high"]),
			Low:    provider.Number(v["3. low"]),
			Close:  provider.Number(v["4. close"]),
			Volume: provider.Number(v["5. volume"]),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (c *Client) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	var res struct {
		Series map[string]map[string]string `json:"Monthly Adjusted Time Series"`
	}
	if err := c.query(ctx, "TIME_SERIES_MONTHLY_ADJUSTED", url.Values{"symbol": {symbol}}, &res); err != nil {
		return nil, err
	}
	if res.Series == nil {
		return nil, provider.ErrNotFound
	}
	var divs []market.Dividend
	for month, v := range res.Series {
		amount := provider.Number(v["7. dividend amount"])
		if amount <= 0 {
			continue
		}
		divs = append(divs, market.Dividend{ExDate: provider.Date(month), Amount: amount})
	}
	sort.Slice(divs, func(i, j int) bool { return divs[i].ExDate.Before(divs[j].ExDate) })
	return divs, nil
}

type statementResponse struct {
	Symbol        string              `json:"symbol"`
	AnnualReports []map[string]string `json:"annualReports"`
}

// Financials fetches the income statement, balance sheet and cash flow
// statement concurrently and merges them by fiscal period end.
func (c *Client) Financials(ctx context.Context, symbol string) (market.Financials, error) {
	var income, balance, cash statementResponse
	g, gctx := errgroup.WithContext(ctx)
	for fn, dst := range map[string]*statementResponse{
		"INCOME_STATEMENT": &income,
		"BALANCE_SHEET":    &balance,
		"CASH_FLOW":        &cash,
	} {
		g.Go(func() error {
			return c.query(gctx, fn, url.Values{"symbol": {symbol}}, dst)
		})
	}
	if err := g.Wait(); err != nil {
		return market.Financials{}, err
	}
	if len(income.AnnualReports) == 0 {
		return market.Financials{}, provider.ErrNotFound
	}

	periods := make(map[string]*market.FinancialPeriod)
	period := func(r map[string]string) *market.FinancialPeriod {
		end := r["fiscalDateEnding"]
		p, ok := periods[end]
		if !ok {
			d := provider.Date(end)
			p = &market.FinancialPeriod{FiscalYear: d.Year(), PeriodEnd: d}
			periods[end] = p
		}
		return p
	}
	for _, r := range income.AnnualReports {
		p := period(r)
		p.Revenue = provider.Number(r["totalRevenue"])
		p.NetIncome = provider.Number(r["netIncome"])
		p.EBITDA = provider.Number(r["ebitda"])
	}
	for _, r := range balance.AnnualReports {
		p := period(r)
		p.TotalAssets = provider.Number(r["totalAssets"])
		p.TotalLiabilities = provider.Number(r["totalLiabilities"])
		p.ShareholderEquity = provider.Number(r["totalShareholderEquity"])
		p.Cash = provider.Number(r["cashAndCashEquivalentsAtCarryingValue"])
		p.TotalDebt = provider.Number(r["shortLongTermDebtTotal"])
		if p.TotalDebt == 0 {
			p.TotalDebt = provider.Number(r["longTermDebt"]) + provider.Number(r["shortTermDebt"])
		}
		p.SharesOutstanding = provider.Number(r["commonStockSharesOutstanding"])
	}
	for _, r := range cash.AnnualReports {
		p := period(r)
		p.OperatingCashFlow = provider.Number(r["operatingCashflow"])
		p.CapitalExpenditure = provider.Number(r["capitalExpenditures"])
		p.DividendsPaid = provider.Number(r["dividendPayout"])
	}

	f := market.Financials{Symbol: symbol, Provider: Name}
	for _, p := range periods {
		if p.SharesOutstanding > 0 && p.EPS == 0 {
			p.EPS = p.NetIncome / p.SharesOutstanding
		}
		f.Annual = append(f.Annual, *p)
	}
	f.SortAnnual()
	return f, nil
}
