package valuation

import "math"

// Graham computes the Graham Number, √(22.5 × EPS × BVPS).
func Graham(in Input, _ Assumptions) ModelResult {
	f := deriveFundamentals(in)
	if f.eps <= 0 {
		return notApplicable(ModelGraham, "earnings per share is not positive")
	}
	if f.bvps <= 0 {
		return notApplicable(ModelGraham, "book value per share is not positive")
	}
	return applicable(ModelGraham, math.Sqrt(22.5*f.eps*f.bvps), map[string]float64{
		"eps":  f.eps,
		"bvps": f.bvps,
	})
}
