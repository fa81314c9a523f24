package market

import (
	"math"
	"sort"
	"time"
)

// FinancialPeriod is one fiscal year of statement data. Values are in the
// reporting currency; missing values are zero.
type FinancialPeriod struct {
	FiscalYear         int       `json:"fiscal_year"`
	PeriodEnd          time.Time `json:"period_end"`
	Revenue            float64   `json:"revenue"`
	NetIncome          float64   `json:"net_income"`
	EBITDA             float64   `json:"ebitda,omitempty"`
	EPS                float64   `json:"eps,omitempty"`
	OperatingCashFlow  float64   `json:"operating_cash_flow"`
	CapitalExpenditure float64   `json:"capital_expenditure"`
	FreeCashFlowValue  float64   `json:"free_cash_flow,omitempty"`
	TotalAssets        float64   `json:"total_assets"`
	TotalLiabilities   float64   `json:"total_liabilities"`
	ShareholderEquity  float64   `json:"shareholder_equity"`
	TotalDebt          float64   `json:"total_debt"`
	Cash               float64   `json:"cash"`
	SharesOutstanding  float64   `json:"shares_outstanding"`
	DividendsPaid      float64   `json:"dividends_paid,omitempty"`
}

// FreeCashFlow returns the reported free cash flow, or operating cash flow less
// capital expenditure. Capex is reported negative by some vendors and positive by
// others, so its sign is ignored.
func (p FinancialPeriod) FreeCashFlow() float64 {
	if p.FreeCashFlowValue != 0 {
		return p.FreeCashFlowValue
	}
	return p.OperatingCashFlow - math.Abs(p.CapitalExpenditure)
}

// Equity falls back to assets minus liabilities when equity was not reported.
func (p FinancialPeriod) Equity() float64 {
	if p.ShareholderEquity != 0 {
		return p.ShareholderEquity
	}
	return p.TotalAssets - p.TotalLiabilities
}

// Financials is the annual statement history of a company, newest first.
type Financials struct {
	Symbol   string            `json:"symbol"`
	Annual   []FinancialPeriod `json:"annual"`
	Provider string            `json:"provider"`
}

// SortAnnual orders periods newest first and drops duplicate fiscal years,
// keeping the first occurrence.
func (f *Financials) SortAnnual() {
	sort.SliceStable(f.Annual, func(i, j int) bool {
		return f.Annual[i].FiscalYear > f.Annual[j].FiscalYear
	})
	out := f.Annual[:0]
	seen := make(map[int]bool, len(f.Annual))
	for _, p := range f.Annual {
		if seen[p.FiscalYear] {
			continue
		}
		seen[p.FiscalYear] = true
		out = append(out, p)
	}
	f.Annual = out
}

// Latest returns the most recent period.
func (f Financials) Latest() (FinancialPeriod, bool) {
	if len(f.Annual) == 0 {
		return FinancialPeriod{}, false
	}
	return f.Annual[0], true
}

// Series extracts one value per period, oldest first.
func (f Financials) Series(value func(FinancialPeriod) float64) []float64 {
	out := make([]float64, 0, len(f.Annual))
	for i := len(f.Annual) - 1; i >= 0; i-- {
		out = append(out, value(f.Annual[i]))
	}
	return out
}
