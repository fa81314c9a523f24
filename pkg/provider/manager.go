package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stockmeter/pkg/market"
)

type ManagerConfig struct {
	// MaxFailures is the number of consecutive failures after which a provider
	// is marked unhealthy and skipped.
	MaxFailures int
	// RecoveryAfter is how long an unhealthy provider is skipped before it is
	// tried again.
	RecoveryAfter time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxFailures:   3,
		RecoveryAfter: 5 * time.Minute,
	}
}

// Health is a point-in-time view of one provider's record.
type Health struct {
	Name        string    `json:"name"`
	Healthy     bool      `json:"healthy"`
	Failures    int       `json:"failures"`
	Calls       int64     `json:"calls"`
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	Active      bool      `json:"active"`
}

type record struct {
	failures    int
	healthy     bool
	calls       int64
	lastErr     error
	lastFailure time.Time
	lastSuccess time.Time
}

// Manager runs each request against an ordered list of providers, moving to
// the next one when a provider fails. The provider that last succeeded is tried
// first on the following request.
type Manager struct {
	providers []Provider
	cfg       ManagerConfig
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	records []record
	cursor  int

	group singleflight.Group
}

func NewManager(providers []Provider, cfg ManagerConfig, logger *zap.Logger) (*Manager, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		seen[p.Name()] = true
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultManagerConfig().MaxFailures
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	records := make([]record, len(providers))
	for i := range records {
		records[i].healthy = true
	}
	return &Manager{
		providers: providers,
		cfg:       cfg,
		logger:    logger.Named("manager"),
		now:       time.Now,
		records:   records,
	}, nil
}

// Providers returns the provider names in failover order.
func (m *Manager) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.Name()
	}
	return names
}

// Health returns a snapshot of every provider's record in failover order.
func (m *Manager) Health() []Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Health, len(m.providers))
	for i, p := range m.providers {
		r := m.records[i]
		h := Health{
			Name:        p.Name(),
			Healthy:     r.healthy,
			Failures:    r.failures,
			Calls:       r.calls,
			LastFailure: r.lastFailure,
			LastSuccess: r.lastSuccess,
			Active:      i == m.cursor,
		}
		if r.lastErr != nil {
			h.LastError = r.lastErr.Error()
		}
		out[i] = h
	}
	return out
}

// Reset clears the failure record of the named provider, or of every provider
// when name is empty.
func (m *Manager) Reset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i, p := range m.providers {
		if name != "" && !strings.EqualFold(p.Name(), name) {
			continue
		}
		found = true
		calls := m.records[i].calls
		m.records[i] = record{healthy: true, calls: calls}
	}
	if !found {
		return fmt.Errorf("unknown provider %q", name)
	}
	if name == "" {
		m.cursor = 0
	}
	return nil
}

// candidates returns provider indexes in try order, starting at the cursor and
// skipping unhealthy providers that are still cooling down. When every provider
// is unhealthy all of them are returned.
func (m *Manager) candidates() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := len(m.providers)
	order := make([]int, 0, n)
	eligible := make([]int, 0, n)
	for k := 0; k < n; k++ {
		i := (m.cursor + k) % n
		order = append(order, i)
		r := m.records[i]
		if r.healthy || (m.cfg.RecoveryAfter > 0 && now.Sub(r.lastFailure) >= m.cfg.RecoveryAfter) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return order
	}
	return eligible
}

func (m *Manager) recordSuccess(i int) {
	m.mu.Lock()
	r := &m.records[i]
	recovered := !r.healthy
	r.calls++
	r.failures = 0
	r.healthy = true
	r.lastSuccess = m.now()
	m.cursor = i
	m.mu.Unlock()

	if recovered {
		m.logger.Info("provider recovered", zap.String("provider", m.providers[i].Name()))
	}
}

func (m *Manager) recordFailure(i int, err error) {
	m.mu.Lock()
	r := &m.records[i]
	r.calls++
	r.failures++
	r.lastErr = err
	r.lastFailure = m.now()
	markedDown := r.healthy && r.failures >= m.cfg.MaxFailures
	if markedDown {
		r.healthy = false
	}
	failures := r.failures
	m.mu.Unlock()

	if markedDown {
		m.logger.Warn("provider marked unhealthy",
			zap.String("provider", m.providers[i].Name()),
			zap.Int("failures", failures),
			zap.Error(err))
	}
}

func (m *Manager) recordCall(i int) {
	m.mu.Lock()
	m.records[i].calls++
	m.mu.Unlock()
}

// execute is the failover loop. It returns the result of the first provider
// that succeeds together with that provider's name.
func (m *Manager) execute(ctx context.Context, op string, fn func(context.Context, Provider) (any, error)) (any, string, error) {
	var (
		errs      []error
		notFound  int
		attempted int
	)
	for _, i := range m.candidates() {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		p := m.providers[i]
		res, err := fn(ctx, p)
		switch {
		case err == nil:
			m.recordSuccess(i)
			return res, p.Name(), nil
		case errors.Is(err, ErrNotSupported):
			continue
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		}

		attempted++
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if errors.Is(err, ErrNotFound) {
			notFound++
			m.recordCall(i)
			m.logger.Debug("symbol unknown to provider", zap.String("provider", p.Name()), zap.String("op", op))
			continue
		}
		m.recordFailure(i, err)
		m.logger.Warn("provider call failed",
			zap.String("provider", p.Name()),
			zap.String("op", op),
			zap.Error(err))
	}

	switch {
	case attempted == 0:
		return nil, "", fmt.Errorf("%s: %w", op, ErrNotSupported)
	case notFound == attempted:
		return nil, "", fmt.Errorf("%s: %w", op, errors.Join(append([]error{ErrNotFound}, errs...)...))
	}
	return nil, "", fmt.Errorf("%s: %w", op, errors.Join(append([]error{ErrAllProvidersFailed}, errs...)...))
}

type result struct {
	value    any
	provider string
}

// Do runs fn with failover. Concurrent calls sharing op and key are coalesced
// into one upstream sequence run under the first caller's context; a waiter whose
// leader was canceled runs the sequence again under its own context.
func Do[T any](ctx context.Context, m *Manager, op, key string, fn func(context.Context, Provider) (T, error)) (T, string, error) {
	var zero T
	run := func(ctx context.Context) (any, error) {
		v, name, err := m.execute(ctx, op, func(ctx context.Context, p Provider) (any, error) {
			return fn(ctx, p)
		})
		if err != nil {
			return nil, err
		}
		return result{value: v, provider: name}, nil
	}

	ch := m.group.DoChan(op+":"+key, func() (any, error) { return run(ctx) })
	var (
		val any
		err error
	)
	select {
	case <-ctx.Done():
		return zero, "", ctx.Err()
	case res := <-ch:
		val, err = res.Val, res.Err
	}
	if err != nil && isContextErr(err) && ctx.Err() == nil {
		val, err = run(ctx)
	}
	if err != nil {
		return zero, "", err
	}
	r := val.(result)
	return r.value.(T), r.provider, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	q, name, err := Do(ctx, m, "quote", symbol, func(ctx context.Context, p Provider) (market.Quote, error) {
		return p.Quote(ctx, symbol)
	})
	if err != nil {
		return market.Quote{}, err
	}
	if q.Provider == "" {
		q.Provider = name
	}
	return q, nil
}

func (m *Manager) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	pr, name, err := Do(ctx, m, "profile", symbol, func(ctx context.Context, p Provider) (market.Profile, error) {
		return p.Profile(ctx, symbol)
	})
	if err != nil {
		return market.Profile{}, err
	}
	if pr.Provider == "" {
		pr.Provider = name
	}
	return pr, nil
}

func (m *Manager) History(ctx context.Context, symbol string, from, to time.Time, interval market.Interval) ([]market.PriceBar, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", symbol, interval, from.Format(time.DateOnly), to.Format(time.DateOnly))
	bars, _, err := Do(ctx, m, "history", key, func(ctx context.Context, p Provider) ([]market.PriceBar, error) {
		bars, err := p.History(ctx, symbol, from, to, interval)
		if err == nil && len(bars) == 0 {
			return nil, ErrNotFound
		}
		return bars, err
	})
	return bars, err
}

func (m *Manager) Financials(ctx context.Context, symbol string) (market.Financials, error) {
	f, name, err := Do(ctx, m, "financials", symbol, func(ctx context.Context, p Provider) (market.Financials, error) {
		f, err := p.Financials(ctx, symbol)
		if err != nil {
			return f, err
		}
		if len(f.Annual) == 0 {
			return f, ErrNotFound
		}
		// Sorted here, before the result is shared with coalesced callers.
		f.SortAnnual()
		return f, nil
	})
	if err != nil {
		return market.Financials{}, err
	}
	if f.Provider == "" {
		f.Provider = name
	}
	return f, nil
}

func (m *Manager) Dividends(ctx context.Context, symbol string) ([]market.Dividend, error) {
	divs, _, err := Do(ctx, m, "dividends", symbol, func(ctx context.Context, p Provider) ([]market.Dividend, error) {
		return p.Dividends(ctx, symbol)
	})
	return divs, err
}
