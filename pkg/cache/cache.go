// Package cache stores upstream responses and valuation reports for a short
// while so repeated lookups do not spend provider quota.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockmeter/pkg/market"
)

const Prefix = "stockmeter:"

// Store is a byte-oriented key/value store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelPattern removes every key matching pattern, where * matches any run
	// of characters and everything else is literal.
	DelPattern(ctx context.Context, pattern string) error
	Close() error
}

type TTLs struct {
	Quote      time.Duration `json:"quote"`
	Profile    time.Duration `json:"profile"`
	History    time.Duration `json:"history"`
	Financials time.Duration `json:"financials"`
	Dividends  time.Duration `json:"dividends"`
	Valuation  time.Duration `json:"valuation"`
}

func DefaultTTLs() TTLs {
	return TTLs{
		Quote:      60 * time.Second,
		Profile:    24 * time.Hour,
		History:    time.Hour,
		Financials: 12 * time.Hour,
		Dividends:  12 * time.Hour,
		Valuation:  time.Hour,
	}
}

// Service layers JSON encoding and key prefixing over a Store. Store failures
// are logged and reported as misses.
type Service struct {
	store  Store
	prefix string
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, prefix: Prefix, logger: logger.Named("cache")}
}

// Get decodes the cached value for key into dst and reports whether it was found.
func (s *Service) Get(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.store.Get(ctx, s.prefix+key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("cache entry undecodable, dropping", zap.String("key", key), zap.Error(err))
		_ = s.store.Del(ctx, s.prefix+key)
		return false
	}
	return true
}

func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, s.prefix+key, raw, ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) Delete(ctx context.Context, keys ...string) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.store.Del(ctx, full...); err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// DeletePattern removes every entry matching one of the * patterns.
func (s *Service) DeletePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := s.store.DelPattern(ctx, s.prefix+p); err != nil {
			s.logger.Warn("cache delete failed", zap.String("pattern", p), zap.Error(err))
		}
	}
}

func (s *Service) Close() error { return s.store.Close() }

// GetOrLoad fills dst from the cache, or calls load and caches what it returns.
// hit reports whether dst came from the cache.
func GetOrLoad[T any](ctx context.Context, s *Service, key string, ttl time.Duration, load func(context.Context) (T, error)) (v T, hit bool, err error) {
	if s == nil {
		v, err = load(ctx)
		return v, false, err
	}
	if s.Get(ctx, key, &v) {
		return v, true, nil
	}
	v, err = load(ctx)
	if err != nil {
		return v, false, err
	}
	s.Set(ctx, key, v, ttl)
	return v, false, nil
}

func QuoteKey(symbol string) string      { return "quote:" + symbol }
func ProfileKey(symbol string) string    { return "profile:" + symbol }
func FinancialsKey(symbol string) string { return "financials:" + symbol }
func DividendsKey(symbol string) string  { return "dividends:" + symbol }

func HistoryKey(symbol string, interval market.Interval, from, to time.Time) string {
	return fmt.Sprintf("history:%s:%s:%s:%s", symbol, interval, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// ValuationKey keys a report by symbol and, when given, its peer set.
func ValuationKey(symbol string, peers ...string) string {
	if len(peers) == 0 {
		return "valuation:" + symbol
	}
	return "valuation:" + symbol + ":" + strings.Join(peers, ",")
}

// SymbolKeys lists every single-symbol key, used when invalidating.
func SymbolKeys(symbol string) []string {
	return []string{QuoteKey(symbol), ProfileKey(symbol), FinancialsKey(symbol), DividendsKey(symbol), ValuationKey(symbol)}
}

// SymbolPatterns matches the entries of symbol that SymbolKeys cannot name:
// history ranges, reports valued against peers, and other symbols' reports
// that used symbol as a peer.
func SymbolPatterns(symbol string) []string {
	return []string{
		"history:" + symbol + ":*",
		"valuation:" + symbol + ":*",
		"valuation:*:" + symbol,
		"valuation:*:" + symbol + ",*",
		"valuation:*," + symbol,
		"valuation:*," + symbol + ",*",
	}
}

// globRegexp compiles a * pattern into an anchored regexp.
func globRegexp(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

var ErrUnknownBackend = errors.New("unknown cache backend")

// Open builds a Store for the named backend ("memory", "sqlite" or "none").
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return NewMemory(time.Minute), nil
	case "sqlite":
		return OpenSQLite(path, logger)
	case "none", "off":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Del(context.Context, ...string) error                     { return nil }
func (Noop) DelPattern(context.Context, string) error                 { return nil }
func (Noop) Close() error                                             { return nil }
