// Package provider defines the upstream market-data sources and the manager that
// fails over between them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"stockmeter/pkg/market"
)

var (
	ErrNotSupported       = errors.New("operation not supported by provider")
	ErrNotFound           = errors.New("symbol not found")
	ErrRateLimited        = errors.New("rate limited by provider")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrNoProviders        = errors.New("no providers configured")
)

// Provider is one upstream financial data API.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	Profile(ctx context.Context, symbol string) (market.Profile, error)
	History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error)
	Financials(ctx context.Context, symbol string) (market.Financials, error)
	Dividends(ctx context.Context, symbol string) ([]market.Dividend, error)
}

type HTTPError struct {
	StatusCode int
	Status     string
	Err        error
}

func NewHTTPError(statusCode int, err error) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Err:        err,
	}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Status, e.Err)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// statusError maps an upstream status code onto the package sentinels.
func statusError(code int, body []byte) error {
	var cause error
	switch {
	case code == http.StatusNotFound:
		cause = ErrNotFound
	case code == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case len(body) > 0:
		snippet := body
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		cause = errors.New(string(snippet))
	}
	return NewHTTPError(code, cause)
}

// Unsupported is embedded by providers that only cover part of the interface.
type Unsupported struct{}

func (Unsupported) Profile(context.Context, string) (market.Profile, error) {
	return market.Profile{}, ErrNotSupported
}

func (Unsupported) History(context.Context, string, time.Time, time.Time, market.Interval) ([]market.PriceBar, error) {
	return nil, ErrNotSupported
}

func (Unsupported) Financials(context.Context, string) (market.Financials, error) {
	return market.Financials{}, ErrNotSupported
}

func (Unsupported) Dividends(context.Context, string) ([]market.Dividend, error) {
	return nil, ErrNotSupported
}
