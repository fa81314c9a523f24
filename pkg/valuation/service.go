// Package valuation computes fair-value estimates for a stock from its quote,
// statements and dividend history.
//
// Four independent models are run: a discounted cash flow projection, the
// Gordon dividend discount model, a relative valuation against peers or sector
// benchmarks, and the Graham Number. The summary fair value is the mean of the
// models that could be applied. Every calculation is a pure function of Input
// and Assumptions.
package valuation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Verdict string

const (
	Undervalued      Verdict = "undervalued"
	FairlyValued     Verdict = "fairly valued"
	Overvalued       Verdict = "overvalued"
	InsufficientData Verdict = "insufficient data"
)

type Report struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name,omitempty"`
	Sector      string            `json:"sector,omitempty"`
	Price       decimal.Decimal   `json:"price"`
	Models      []ModelResult     `json:"models"`
	FairValue   decimal.Decimal   `json:"fair_value"`
	Upside      decimal.Decimal   `json:"upside_pct"`
	Verdict     Verdict           `json:"verdict"`
	Assumptions Assumptions       `json:"assumptions"`
	Metrics     *PriceMetrics     `json:"price_metrics,omitempty"`
	Sources     map[string]string `json:"sources,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

var ErrInsufficientData = errors.New("insufficient data for valuation")

// Err returns ErrInsufficientData when no model could be applied.
func (r Report) Err() error {
	if r.Verdict == InsufficientData {
		return ErrInsufficientData
	}
	return nil
}

// Applicable returns the models that produced a value.
func (r Report) Applicable() []ModelResult {
	var out []ModelResult
	for _, m := range r.Models {
		if m.Applicable {
			out = append(out, m)
		}
	}
	return out
}

type Option func(*Service)

func WithSectors(t SectorTable) Option {
	return func(s *Service) { s.sectors = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

type Service struct {
	assumptions Assumptions
	sectors     SectorTable
	now         func() time.Time
	newID       func() string
}

func NewService(a Assumptions, opts ...Option) (*Service, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		assumptions: a,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sectors == nil {
		s.sectors = DefaultSectors()
	}
	return s, nil
}

func (s *Service) Assumptions() Assumptions { return s.assumptions }

// Run evaluates all four models.
func (s *Service) Run(in Input) []ModelResult {
	a := s.assumptions
	return []ModelResult{
		DCF(in, a),
		DDM(in, a),
		Relative(in, a, s.sectors),
		Graham(in, a),
	}
}

// Evaluate runs every model and summarises them into a Report.
func (s *Service) Evaluate(in Input) Report {
	models := s.Run(in)
	rep := Report{
		ID:          s.newID(),
		Symbol:      in.Quote.Symbol,
		Name:        in.Profile.Name,
		Sector:      in.Profile.Sector,
		Price:       in.Quote.Price.Round(2),
		Models:      models,
		Assumptions: s.assumptions,
		Metrics:     Metrics(in.History),
		GeneratedAt: s.now(),
	}
	if rep.Symbol == "" {
		rep.Symbol = in.Financials.Symbol
	}

	var values []float64
	for _, m := range models {
		if m.Applicable {
			values = append(values, m.value)
		}
	}
	price := in.Quote.Price
	if len(values) == 0 || !price.IsPositive() {
		rep.Verdict = InsufficientData
		return rep
	}

	fair := decimal.NewFromFloat(Mean(values))
	rep.FairValue = fair.Round(2)
	rep.Upside = fair.Sub(price).Div(price).Mul(decimal.NewFromInt(100)).Round(2)
	rep.Verdict = verdict(fair, price, s.assumptions.MarginOfSafetyBand)
	return rep
}

func verdict(fair, price decimal.Decimal, band float64) Verdict {
	b := decimal.NewFromFloat(band)
	one := decimal.NewFromInt(1)
	switch {
	case fair.GreaterThan(price.Mul(one.Add(b))):
		return Undervalued
	case fair.LessThan(price.Mul(one.Sub(b))):
		return Overvalued
	default:
		return FairlyValued
	}
}

func round(v float64, places int32) float64 {
	if !finite(v) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
