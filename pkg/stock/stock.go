// Package stock is the application layer: it fetches market data through the
// provider manager, caches it, and produces valuation reports.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockmeter/pkg/cache"
	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
	"stockmeter/pkg/valuation"
)

const (
	// DefaultCompareLimit bounds how many symbols Compare valuates at once.
	DefaultCompareLimit = 4
	// MaxPeers bounds the peer list of a single valuation.
	MaxPeers = 10
	// HistoryWindow is the trailing window used for report price metrics.
	HistoryWindow = 365 * 24 * time.Hour
)

var ErrTooManySymbols = errors.New("too many symbols")

type Service struct {
	manager   *provider.Manager
	cache     *cache.Service
	ttls      cache.TTLs
	valuation *valuation.Service
	logger    *zap.Logger
	now       func() time.Time
	limit     int
}

type Option func(*Service)

func WithCompareLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires the service. c may be nil to disable caching.
func New(m *provider.Manager, c *cache.Service, ttls cache.TTLs, v *valuation.Service, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		manager:   m,
		cache:     c,
		ttls:      ttls,
		valuation: v,
		logger:    logger.Named("stock"),
		now:       time.Now,
		limit:     DefaultCompareLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.Quote{}, err
	}
	q, _, err := cache.GetOrLoad(ctx, s.cache, cache.QuoteKey(sym), s.ttls.Quote, func(ctx context.Context) (market.Quote, error) {
		return s.manager.Quote(ctx, sym)
	})
	return q, err
}

func (s *Service) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.Profile{}, err
	}
	p, _, err := cache.GetOrLoad(ctx, s.cache, cache.ProfileKey(sym), s.ttls.Profile, func(ctx context.Context) (market.Profile, error) {
		return s.manager.Profile(ctx, sym)
	})
	return p, err
}

// History returns bars between from and to, oldest first. A zero to means now.
func (s *Service) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("history range %s..%s is empty", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	key := cache.HistoryKey(sym, interval, from, to)
	bars, _, err := cache.GetOrLoad(ctx, s.cache, key, s.ttls.History, func(ctx context.Context) ([]market.PriceBar, error) {
		bars, err := s.manager.History(ctx, sym, from, to, interval)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		return bars, nil
	})
	return bars, err
}

func (s *Service) Financials(ctx context.Context, symbol string) (market.Financials, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.Financials{}, err
	}
	f, _, err := cache.GetOrLoad(ctx, s.cache, cache.FinancialsKey(sym), s.ttls.Financials, func(ctx context.Context) (market.Financials, error) {
		return s.manager.Financials(ctx, sym)
	})
	return f, err
}

func (s *Service) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	divs, _, err := cache.GetOrLoad(ctx, s.cache, cache.DividendsKey(sym), s.ttls.Dividends, func(ctx context.Context) ([]market.Dividend, error) {
		return s.manager.Dividends(ctx, sym)
	})
	return divs, err
}

// Invalidate drops every cached entry for symbol, including reports of other
// symbols that used it as a peer.
func (s *Service) Invalidate(ctx context.Context, symbol string) error {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Delete(ctx, cache.SymbolKeys(sym)...)
		s.cache.DeletePattern(ctx, cache.SymbolPatterns(sym)...)
	}
	return nil
}

func (s *Service) ProviderHealth() []provider.Health {
	return s.manager.Health()
}

// ResetProviders clears failure state for one provider, or all when name is empty.
func (s *Service) ResetProviders(name string) error {
	return s.manager.Reset(name)
}

func normalizeAll(symbols []string) ([]string, error) {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			sym, err := market.NormalizeSymbol(part)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", part, err)
			}
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out, nil
}

// degradable reports whether a missing dataset should only weaken a report.
func degradable(err error) bool {
	return errors.Is(err, provider.ErrNotFound) ||
		errors.Is(err, provider.ErrNotSupported) ||
		errors.Is(err, provider.ErrAllProvidersFailed)
}
