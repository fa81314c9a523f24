package valuation

import (
	"math"
	"sort"
)

// costOfEquity applies CAPM with the profile beta, or the default beta.
func costOfEquity(in Input, a Assumptions) (r, beta float64) {
	beta = in.Profile.Beta
	if beta <= 0 {
		beta = a.DefaultBeta
	}
	return a.RiskFreeRate + beta*a.EquityRiskPremium, beta
}

// dividendGrowth is the CAGR of calendar-year dividend totals. The year of
// asOf and any later year are incomplete and ignored.
func dividendGrowth(in Input, a Assumptions) (float64, int) {
	asOf := in.asOf()
	totals := map[int]float64{}
	for _, d := range in.Dividends {
		if d.Amount <= 0 || d.ExDate.Year() >= asOf.Year() {
			continue
		}
		totals[d.ExDate.Year()] += d.Amount
	}
	years := make([]int, 0, len(totals))
	for y := range totals {
		years = append(years, y)
	}
	sort.Ints(years)
	if len(years) < 2 {
		return 0, len(years)
	}
	first, last := years[0], years[len(years)-1]
	rate, ok := CAGR(totals[first], totals[last], float64(last-first))
	if !ok {
		return 0, len(years)
	}
	return Clamp(rate, 0, a.MaxGrowth), len(years)
}

// trailingDividend sums dividends with an ex-date in the year ending at asOf.
func trailingDividend(in Input) float64 {
	asOf := in.asOf()
	start := asOf.AddDate(-1, 0, 0)
	var sum float64
	for _, d := range in.Dividends {
		if d.ExDate.After(start) && !d.ExDate.After(asOf) {
			sum += d.Amount
		}
	}
	return sum
}

// DDM is the Gordon Growth Model: D0(1+g)/(r-g).
func DDM(in Input, a Assumptions) ModelResult {
	d0 := trailingDividend(in)
	source := 1.0
	if d0 <= 0 {
		f := deriveFundamentals(in)
		if f.hasData && f.shares > 0 && f.latest.DividendsPaid != 0 {
			d0 = math.Abs(f.latest.DividendsPaid) / f.shares
			source = 0
		}
	}
	if d0 <= 0 {
		return notApplicable(ModelDDM, "company pays no dividend")
	}

	g, years := dividendGrowth(in, a)
	r, beta := costOfEquity(in, a)
	if g >= r {
		return notApplicable(ModelDDM, "dividend growth is not below cost of equity")
	}
	value := d0 * (1 + g) / (r - g)
	if !finite(value) || value <= 0 {
		return notApplicable(ModelDDM, "value is not finite")
	}
	return applicable(ModelDDM, value, map[string]float64{
		"d0":               d0,
		"d0_from_history":  source,
		"growth_rate":      g,
		"years_of_history": float64(years),
		"cost_of_equity":   r,
		"beta":             beta,
	})
}
