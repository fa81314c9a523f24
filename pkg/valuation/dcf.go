package valuation

import "math"

// historicalGrowth is the CAGR of positive free cash flow between the oldest
// and newest positive years, clamped to the configured bounds.
func historicalGrowth(in Input, a Assumptions) (growth float64, fromHistory bool) {
	type point struct {
		year int
		fcf  float64
	}
	var pts []point
	for i := len(in.Financials.Annual) - 1; i >= 0; i-- {
		p := in.Financials.Annual[i]
		if fcf := p.FreeCashFlow(); fcf > 0 {
			pts = append(pts, point{p.FiscalYear, fcf})
		}
	}
	if len(pts) < 2 {
		return a.DefaultGrowth, false
	}
	first, last := pts[0], pts[len(pts)-1]
	years := float64(last.year - first.year)
	if years <= 0 {
		years = float64(len(pts) - 1)
	}
	rate, ok := CAGR(first.fcf, last.fcf, years)
	if !ok {
		return a.DefaultGrowth, false
	}
	return Clamp(rate, a.MinGrowth, a.MaxGrowth), true
}

// DCF projects free cash flow over the projection window, adds a Gordon
// terminal value and converts enterprise value to a per-share equity value.
func DCF(in Input, a Assumptions) ModelResult {
	f := deriveFundamentals(in)
	if !f.hasData {
		return notApplicable(ModelDCF, "no financial statements")
	}
	base := f.latest.FreeCashFlow()
	if base <= 0 {
		return notApplicable(ModelDCF, "free cash flow is not positive")
	}
	if f.shares <= 0 {
		return notApplicable(ModelDCF, "shares outstanding unknown")
	}
	if a.DiscountRate <= a.TerminalGrowth {
		return notApplicable(ModelDCF, "discount rate must exceed terminal growth")
	}

	g, fromHistory := historicalGrowth(in, a)
	r := a.DiscountRate

	var pv, fcf float64
	fcf = base
	for t := 1; t <= a.ProjectionYears; t++ {
		fcf *= 1 + g
		pv += fcf / math.Pow(1+r, float64(t))
	}
	terminal := fcf * (1 + a.TerminalGrowth) / (r - a.TerminalGrowth)
	pvTerminal := terminal / math.Pow(1+r, float64(a.ProjectionYears))

	ev := pv + pvTerminal
	equity := ev + f.latest.Cash - f.latest.TotalDebt
	if equity <= 0 {
		return notApplicable(ModelDCF, "net debt exceeds enterprise value")
	}
	perShare := equity / f.shares
	if !finite(perShare) {
		return notApplicable(ModelDCF, "value is not finite")
	}

	historical := 0.0
	if fromHistory {
		historical = 1
	}
	return applicable(ModelDCF, perShare, map[string]float64{
		"base_fcf":            base,
		"growth_rate":         g,
		"growth_from_history": historical,
		"pv_cash_flows":       pv,
		"terminal_value":      terminal,
		"pv_terminal_value":   pvTerminal,
		"enterprise_value":    ev,
		"equity_value":        equity,
		"shares":              f.shares,
	})
}
