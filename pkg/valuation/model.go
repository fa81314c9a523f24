package valuation

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"stockmeter/pkg/market"
)

type Model string

const (
	ModelDCF      Model = "dcf"
	ModelDDM      Model = "ddm"
	ModelRelative Model = "relative"
	ModelGraham   Model = "graham"
)

// PeerMultiples are the trailing multiples of one comparable company.
type PeerMultiples struct {
	Symbol string `json:"symbol"`
	Multiples
}

// Input is everything the models read. Only Quote and Financials are required;
// missing pieces make individual models inapplicable.
type Input struct {
	Quote      market.Quote
	Profile    market.Profile
	Financials market.Financials
	Dividends  []market.Dividend
	History    []market.PriceBar
	Peers      []PeerMultiples
	// AsOf anchors trailing windows. Zero means the quote timestamp.
	AsOf time.Time
}

type ModelResult struct {
	Model      Model              `json:"model"`
	FairValue  decimal.Decimal    `json:"fair_value"`
	Applicable bool               `json:"applicable"`
	Reason     string             `json:"reason,omitempty"`
	Details    map[string]float64 `json:"details,omitempty"`

	value float64
}

func applicable(m Model, value float64, details map[string]float64) ModelResult {
	return ModelResult{
		Model:      m,
		FairValue:  money(value),
		Applicable: true,
		Details:    details,
		value:      value,
	}
}

func notApplicable(m Model, reason string) ModelResult {
	return ModelResult{Model: m, Reason: reason}
}

func money(v float64) decimal.Decimal {
	if !finite(v) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(2)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// fundamentals are the per-share figures derived once from Input.
type fundamentals struct {
	latest  market.FinancialPeriod
	hasData bool
	shares  float64
	eps     float64
	bvps    float64
	sps     float64
	price   float64
}

func deriveFundamentals(in Input) fundamentals {
	f := fundamentals{price: in.Quote.Price.InexactFloat64()}
	f.latest, f.hasData = in.Financials.Latest()

	switch {
	case f.latest.SharesOutstanding > 0:
		f.shares = f.latest.SharesOutstanding
	case in.Profile.SharesOutstanding > 0:
		f.shares = in.Profile.SharesOutstanding
	case in.Quote.MarketCap > 0 && f.price > 0:
		f.shares = in.Quote.MarketCap / f.price
	}

	switch {
	case f.latest.EPS != 0:
		f.eps = f.latest.EPS
	case f.hasData && f.shares > 0:
		f.eps = f.latest.NetIncome / f.shares
	default:
		f.eps = in.Quote.EPS
	}

	if f.shares > 0 && f.hasData {
		f.bvps = f.latest.Equity() / f.shares
		f.sps = f.latest.Revenue / f.shares
	}
	return f
}

func (in Input) asOf() time.Time {
	if !in.AsOf.IsZero() {
		return in.AsOf
	}
	if !in.Quote.Timestamp.IsZero() {
		return in.Quote.Timestamp
	}
	var last time.Time
	for _, d := range in.Dividends {
		if d.ExDate.After(last) {
			last = d.ExDate
		}
	}
	return last
}

// MultiplesOf derives trailing P/E, P/B and P/S for a company, used to turn
// peer data into PeerMultiples. Multiples that cannot be computed are zero.
func MultiplesOf(in Input) Multiples {
	f := deriveFundamentals(in)
	var m Multiples
	if f.price <= 0 {
		return m
	}
	switch {
	case in.Quote.PE > 0:
		m.PE = in.Quote.PE
	case f.eps > 0:
		m.PE = f.price / f.eps
	}
	if f.bvps > 0 {
		m.PB = f.price / f.bvps
	}
	if f.sps > 0 {
		m.PS = f.price / f.sps
	}
	return m
}
