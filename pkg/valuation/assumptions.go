package valuation

import (
	"errors"
	"fmt"
)

// Assumptions are the rates and bounds every model reads. Rates are decimals,
// so 0.10 means 10%.
type Assumptions struct {
	DiscountRate       float64 `json:"discount_rate" yaml:"discount_rate"`
	TerminalGrowth     float64 `json:"terminal_growth" yaml:"terminal_growth"`
	ProjectionYears    int     `json:"projection_years" yaml:"projection_years"`
	MaxGrowth          float64 `json:"max_growth" yaml:"max_growth"`
	MinGrowth          float64 `json:"min_growth" yaml:"min_growth"`
	DefaultGrowth      float64 `json:"default_growth" yaml:"default_growth"`
	RiskFreeRate       float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	EquityRiskPremium  float64 `json:"equity_risk_premium" yaml:"equity_risk_premium"`
	DefaultBeta        float64 `json:"default_beta" yaml:"default_beta"`
	MarginOfSafetyBand float64 `json:"margin_band" yaml:"margin_band"`
}

func DefaultAssumptions() Assumptions {
	return Assumptions{
		DiscountRate:       0.10,
		TerminalGrowth:     0.025,
		ProjectionYears:    5,
		MaxGrowth:          0.15,
		MinGrowth:          -0.05,
		DefaultGrowth:      0.05,
		RiskFreeRate:       0.045,
		EquityRiskPremium:  0.055,
		DefaultBeta:        1.0,
		MarginOfSafetyBand: 0.15,
	}
}

var ErrInvalidAssumptions = errors.New("invalid valuation assumptions")

func (a Assumptions) Validate() error {
	var errs []error
	if a.DiscountRate <= 0 || a.DiscountRate >= 1 {
		errs = append(errs, fmt.Errorf("discount rate %.4f out of (0, 1)", a.DiscountRate))
	}
	if a.TerminalGrowth >= a.DiscountRate {
		errs = append(errs, fmt.Errorf("terminal growth %.4f must be below discount rate %.4f", a.TerminalGrowth, a.DiscountRate))
	}
	if a.ProjectionYears < 1 || a.ProjectionYears > 30 {
		errs = append(errs, fmt.Errorf("projection years %d out of [1, 30]", a.ProjectionYears))
	}
	if a.MinGrowth > a.MaxGrowth {
		errs = append(errs, fmt.Errorf("min growth %.4f above max growth %.4f", a.MinGrowth, a.MaxGrowth))
	}
	if a.DefaultGrowth < a.MinGrowth || a.DefaultGrowth > a.MaxGrowth {
		errs = append(errs, fmt.Errorf("default growth %.4f outside [%.4f, %.4f]", a.DefaultGrowth, a.MinGrowth, a.MaxGrowth))
	}
	if a.RiskFreeRate < 0 || a.EquityRiskPremium < 0 {
		errs = append(errs, errors.New("risk-free rate and equity risk premium must not be negative"))
	}
	if a.DefaultBeta <= 0 {
		errs = append(errs, fmt.Errorf("default beta %.2f must be positive", a.DefaultBeta))
	}
	if a.MarginOfSafetyBand < 0 || a.MarginOfSafetyBand >= 1 {
		errs = append(errs, fmt.Errorf("margin band %.4f out of [0, 1)", a.MarginOfSafetyBand))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidAssumptions}, errs...)...)
	}
	return nil
}
