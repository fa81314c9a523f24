// Package market holds the data types exchanged between providers, the cache and
// the valuation engine.
package market

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidSymbol = errors.New("invalid symbol")

// Tickers like BRK.B, RDS-A or ^GSPC are accepted; anything with whitespace or
// path characters is not.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=^]{0,14}$`)

// NormalizeSymbol upper-cases and trims a ticker and rejects malformed input.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" || !symbolPattern.MatchString(sym) {
		return "", ErrInvalidSymbol
	}
	return sym, nil
}

// Quote is the latest trading snapshot for a symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent float64         `json:"change_percent"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	MarketCap     float64         `json:"market_cap,omitempty"`
	PE            float64         `json:"pe,omitempty"`
	EPS           float64         `json:"eps,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Provider      string          `json:"provider"`
}

// FillChange derives Change and ChangePercent from Price and PreviousClose when
// the upstream left them empty.
func (q *Quote) FillChange() {
	if q.PreviousClose.IsZero() {
		return
	}
	if q.Change.IsZero() {
		q.Change = q.Price.Sub(q.PreviousClose)
	}
	if q.ChangePercent == 0 {
		q.ChangePercent = q.Change.Div(q.PreviousClose).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
	}
}

// Profile describes the company behind a symbol.
type Profile struct {
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Exchange          string  `json:"exchange,omitempty"`
	Sector            string  `json:"sector,omitempty"`
	Industry          string  `json:"industry,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	Employees         int     `json:"employees,omitempty"`
	Description       string  `json:"description,omitempty"`
	SharesOutstanding float64 `json:"shares_outstanding,omitempty"`
	Beta              float64 `json:"beta,omitempty"`
	Provider          string  `json:"provider"`
}

type Interval string

const (
	Daily   Interval = "daily"
	Weekly  Interval = "weekly"
	Monthly Interval = "monthly"
)

// ParseInterval accepts the interval names plus the short forms 1d, 1wk and 1mo.
func ParseInterval(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "day", "1d":
		return Daily, nil
	case "weekly", "week", "1wk":
		return Weekly, nil
	case "monthly", "month", "1mo":
		return Monthly, nil
	}
	return "", errors.New("unknown interval " + s)
}

type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Dividend struct {
	ExDate time.Time `json:"ex_date"`
	Amount float64   `json:"amount"`
}
