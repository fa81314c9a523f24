package valuation

import "stockmeter/pkg/market"

// PriceMetrics summarise recent trading from daily bars.
type PriceMetrics struct {
	Bars         int     `json:"bars"`
	Growth       float64 `json:"growth_pct"`
	Volatility   float64 `json:"volatility_pct"`
	ADR          float64 `json:"adr_pct"`
	DollarVolume float64 `json:"dollar_volume"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
}

// calculateADR calculates the average daily range as a percent of the close.
func calculateADR(bars []market.PriceBar) float64 {
	ranges := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		ranges = append(ranges, (b.High-b.Low)/b.Close*100)
	}
	return Mean(ranges)
}

func calculateDollarVolume(bars []market.PriceBar) float64 {
	vols := make([]float64, 0, len(bars))
	for _, b := range bars {
		vols = append(vols, b.Close*b.Volume)
	}
	return Mean(vols)
}

// calculateVolatility is the standard deviation of bar-to-bar returns, in percent.
func calculateVolatility(bars []market.PriceBar) float64 {
	if len(bars) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 {
			continue
		}
		returns = append(returns, (bars[i].Close-prev)/prev)
	}
	return StdDev(returns) * 100
}

func calculateGrowth(bars []market.PriceBar) float64 {
	if len(bars) < 2 || bars[0].Close <= 0 {
		return 0
	}
	first, last := bars[0].Close, bars[len(bars)-1].Close
	return (last - first) / first * 100
}

// Metrics computes PriceMetrics from bars ordered oldest first. It returns
// nil when there is nothing to measure.
func Metrics(bars []market.PriceBar) *PriceMetrics {
	if len(bars) == 0 {
		return nil
	}
	m := &PriceMetrics{
		Bars:         len(bars),
		Growth:       round(calculateGrowth(bars), 4),
		Volatility:   round(calculateVolatility(bars), 4),
		ADR:          round(calculateADR(bars), 4),
		DollarVolume: round(calculateDollarVolume(bars), 2),
		High:         bars[0].High,
		Low:          bars[0].Low,
	}
	for _, b := range bars[1:] {
		if b.High > m.High {
			m.High = b.High
		}
		if b.Low > 0 && (m.Low <= 0 || b.Low < m.Low) {
			m.Low = b.Low
		}
	}
	return m
}
