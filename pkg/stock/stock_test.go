package stock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stockmeter/pkg/cache"
	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
	"stockmeter/pkg/valuation"
)

type company struct {
	price      float64
	financials []market.FinancialPeriod
	profile    *market.Profile
	// nil dividends or bars mean the provider does not serve them.
	dividends []market.Dividend
	bars      []market.PriceBar
}

// fakeProvider knows a fixed set of companies.
type fakeProvider struct {
	mu        sync.Mutex
	companies map[string]company
	quotes    atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) lookup(symbol string) (company, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[symbol]
	return c, ok
}

func (f *fakeProvider) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.companies[symbol]
	c.price = price
	f.companies[symbol] = c
}

func (f *fakeProvider) Quote(_ context.Context, symbol string) (market.Quote, error) {
	f.quotes.Add(1)
	c, ok := f.lookup(symbol)
	if !ok {
		return market.Quote{}, provider.ErrNotFound
	}
	return market.Quote{Symbol: symbol, Price: decimal.NewFromFloat(c.price)}, nil
}

func (f *fakeProvider) Profile(_ context.Context, symbol string) (market.Profile, error) {
	c, ok := f.lookup(symbol)
	if !ok || c.profile == nil {
		return market.Profile{}, provider.ErrNotFound
	}
	return *c.profile, nil
}

func (f *fakeProvider) Financials(_ context.Context, symbol string) (market.Financials, error) {
	c, ok := f.lookup(symbol)
	if !ok || len(c.financials) == 0 {
		return market.Financials{}, provider.ErrNotFound
	}
	return market.Financials{Symbol: symbol, Annual: append([]market.FinancialPeriod(nil), c.financials...)}, nil
}

func (f *fakeProvider) Dividends(_ context.Context, symbol string) ([]market.Dividend, error) {
	c, ok := f.lookup(symbol)
	if !ok || c.dividends == nil {
		return nil, provider.ErrNotSupported
	}
	return c.dividends, nil
}

func (f *fakeProvider) History(_ context.Context, symbol string, _, _ time.Time, _ market.Interval) ([]market.PriceBar, error) {
	c, ok := f.lookup(symbol)
	if !ok || c.bars == nil {
		return nil, provider.ErrNotSupported
	}
	return c.bars, nil
}

func annual(year int, eps, bvps, sps float64) market.FinancialPeriod {
	return market.FinancialPeriod{
		FiscalYear:        year,
		EPS:               eps,
		NetIncome:         eps * 10,
		ShareholderEquity: bvps * 10,
		Revenue:           sps * 10,
		FreeCashFlowValue: eps * 10,
		SharesOutstanding: 10,
	}
}

func fixture() *fakeProvider {
	return &fakeProvider{companies: map[string]company{
		"ACME": {
			price:      100,
			financials: []market.FinancialPeriod{annual(2022, 4, 35, 90), annual(2023, 5, 40, 100)},
			profile:    &market.Profile{Symbol: "ACME", Name: "Acme Corp", Sector: "Industrials"},
		},
		"PEER1": {price: 50, financials: []market.FinancialPeriod{annual(2023, 2.5, 25, 25)}},
		"PEER2": {price: 90, financials: []market.FinancialPeriod{annual(2023, 3, 30, 45)}},
		"FUND":  {price: 20},
		"WHOLE": {
			price:      40,
			financials: []market.FinancialPeriod{annual(2023, 3, 20, 50)},
			profile:    &market.Profile{Symbol: "WHOLE", Name: "Whole Foods Co", Sector: "Consumer Defensive"},
			dividends:  []market.Dividend{{ExDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 0.5}},
			bars: []market.PriceBar{
				{Date: time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC), Close: 39, High: 40, Low: 38, Volume: 100},
				{Date: time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC), Close: 40, High: 41, Low: 39, Volume: 120},
			},
		},
	}}
}

// ttlStore records the TTL of every write.
type ttlStore struct {
	*cache.Memory
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func (s *ttlStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.ttls[key] = ttl
	s.mu.Unlock()
	return s.Memory.Set(ctx, key, value, ttl)
}

func (s *ttlStore) ttl(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

func newService(t *testing.T, fake *fakeProvider, opts ...Option) *Service {
	t.Helper()
	return newServiceWithStore(t, fake, cache.NewMemory(0), opts...)
}

func newServiceWithStore(t *testing.T, fake *fakeProvider, store cache.Store, opts ...Option) *Service {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m, err := provider.NewManager([]provider.Provider{fake}, provider.DefaultManagerConfig(), logger)
	require.NoError(t, err)
	v, err := valuation.NewService(valuation.DefaultAssumptions())
	require.NoError(t, err)
	c := cache.NewService(store, logger)
	t.Cleanup(func() { _ = c.Close() })
	opts = append([]Option{WithClock(func() time.Time {
		return time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	})}, opts...)
	return New(m, c, cache.DefaultTTLs(), v, logger, opts...)
}

func TestQuoteIsCached(t *testing.T) {
	fake := fixture()
	svc := newService(t, fake)
	ctx := context.Background()

	q, err := svc.Quote(ctx, " acme ")
	require.NoError(t, err)
	assert.Equal(t, "ACME", q.Symbol)
	assert.Equal(t, "fake", q.Provider)

	_, err = svc.Quote(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.quotes.Load())

	require.NoError(t, svc.Invalidate(ctx, "acme"))
	_, err = svc.Quote(ctx, "ACME")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.quotes.Load())
}

func TestInvalidSymbol(t *testing.T) {
	svc := newService(t, fixture())
	_, err := svc.Quote(context.Background(), "../etc")
	assert.ErrorIs(t, err, market.ErrInvalidSymbol)
	_, err = svc.Valuate(context.Background(), "", nil)
	assert.ErrorIs(t, err, market.ErrInvalidSymbol)
}

func TestHistoryRejectsEmptyRange(t *testing.T) {
	svc := newService(t, fixture())
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.History(context.Background(), "ACME", day, day, market.Daily)
	assert.Error(t, err)
}

func TestValuate(t *testing.T) {
	svc := newService(t, fixture())

	rep, err := svc.Valuate(context.Background(), "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, "ACME", rep.Symbol)
	assert.Equal(t, "Acme Corp", rep.Name)
	assert.NotEqual(t, valuation.InsufficientData, rep.Verdict)
	assert.Equal(t, "fake", rep.Sources["quote"])
	assert.Equal(t, "fake", rep.Sources["financials"])

	// The fake serves neither dividends nor history.
	require.Len(t, rep.Warnings, 2)
	assert.Contains(t, rep.Warnings[0], "dividends unavailable")
	assert.Contains(t, rep.Warnings[1], "price history unavailable")

	again, err := svc.Valuate(context.Background(), "ACME", nil)
	require.NoError(t, err)
	assert.Equal(t, rep.ID, again.ID, "second report served from cache")
}

func TestValuateWithPeers(t *testing.T) {
	svc := newService(t, fixture())

	rep, err := svc.Valuate(context.Background(), "ACME", []string{"peer1,peer2", "ACME", "GHOST"})
	require.NoError(t, err)

	var relative valuation.ModelResult
	for _, m := range rep.Models {
		if m.Model == valuation.ModelRelative {
			relative = m
		}
	}
	require.True(t, relative.Applicable)
	// Peer P/E are 20 and 30, P/B 2 and 3, P/S 2 and 2.
	assert.Equal(t, 25.0, relative.Details["pe_multiple"])
	assert.Equal(t, 2.5, relative.Details["pb_multiple"])
	assert.Equal(t, 2.0, relative.Details["ps_multiple"])
	assert.Contains(t, rep.Warnings, "1 of 3 peers unavailable")
}

func TestValuateWithoutFinancials(t *testing.T) {
	svc := newService(t, fixture())

	rep, err := svc.Valuate(context.Background(), "FUND", nil)
	require.NoError(t, err)
	assert.Equal(t, valuation.InsufficientData, rep.Verdict)
	assert.ErrorIs(t, rep.Err(), valuation.ErrInsufficientData)
	assert.Contains(t, rep.Warnings[0], "financials unavailable")
}

func TestValuateUnknownSymbol(t *testing.T) {
	svc := newService(t, fixture())
	_, err := svc.Valuate(context.Background(), "GHOST", nil)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestValuateTooManyPeers(t *testing.T) {
	svc := newService(t, fixture())
	peers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K"}
	_, err := svc.Valuate(context.Background(), "ACME", peers)
	assert.ErrorIs(t, err, ErrTooManySymbols)
}

func TestCompareKeepsOrder(t *testing.T) {
	svc := newService(t, fixture(), WithCompareLimit(2))

	rows, err := svc.Compare(context.Background(), []string{"peer2", "GHOST", "acme", "PEER2"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "PEER2", rows[0].Symbol)
	assert.Equal(t, "GHOST", rows[1].Symbol)
	assert.Equal(t, "ACME", rows[2].Symbol)

	assert.NotNil(t, rows[0].Report)
	assert.Nil(t, rows[1].Report)
	assert.NotEmpty(t, rows[1].Error)
	require.NotNil(t, rows[2].Report)
	assert.Equal(t, "ACME", rows[2].Report.Symbol)
}

func TestCompareCanceled(t *testing.T) {
	svc := newService(t, fixture())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Compare(ctx, []string{"ACME", "PEER1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderHealthAndReset(t *testing.T) {
	svc := newService(t, fixture())
	health := svc.ProviderHealth()
	require.Len(t, health, 1)
	assert.Equal(t, "fake", health[0].Name)
	assert.True(t, health[0].Healthy)

	require.NoError(t, svc.ResetProviders(""))
	assert.Error(t, svc.ResetProviders("nope"))
}

func TestInvalidateDropsPeerReports(t *testing.T) {
	fake := fixture()
	svc := newService(t, fake)
	ctx := context.Background()
	peers := []string{"PEER1", "PEER2"}

	rep, err := svc.Valuate(ctx, "ACME", peers)
	require.NoError(t, err)
	assert.Equal(t, "100", rep.Price.String())
	calls := fake.quotes.Load()

	fake.setPrice("ACME", 1)
	require.NoError(t, svc.Invalidate(ctx, "ACME"))

	rep, err = svc.Valuate(ctx, "ACME", peers)
	require.NoError(t, err)
	assert.Equal(t, "1", rep.Price.String())
	assert.Equal(t, calls+1, fake.quotes.Load(), "only the invalidated quote is fetched again")
}

func TestInvalidatePeerDropsDependentReports(t *testing.T) {
	fake := fixture()
	svc := newService(t, fake)
	ctx := context.Background()

	relativePE := func(rep valuation.Report) float64 {
		for _, m := range rep.Models {
			if m.Model == valuation.ModelRelative {
				return m.Details["pe_multiple"]
			}
		}
		return 0
	}

	rep, err := svc.Valuate(ctx, "ACME", []string{"PEER1", "PEER2"})
	require.NoError(t, err)
	assert.Equal(t, 25.0, relativePE(rep))
	first := rep.ID

	// PEER1 P/E moves from 20 to 40.
	fake.setPrice("PEER1", 100)
	require.NoError(t, svc.Invalidate(ctx, "peer1"))

	rep, err = svc.Valuate(ctx, "ACME", []string{"PEER1", "PEER2"})
	require.NoError(t, err)
	assert.NotEqual(t, first, rep.ID)
	assert.Equal(t, 35.0, relativePE(rep))
}

func TestInvalidateDropsHistory(t *testing.T) {
	fake := fixture()
	svc := newService(t, fake)
	ctx := context.Background()
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	bars, err := svc.History(ctx, "WHOLE", from, time.Time{}, market.Daily)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	fake.mu.Lock()
	c := fake.companies["WHOLE"]
	c.bars = c.bars[:1]
	fake.companies["WHOLE"] = c
	fake.mu.Unlock()

	require.NoError(t, svc.Invalidate(ctx, "WHOLE"))
	bars, err = svc.History(ctx, "WHOLE", from, time.Time{}, market.Daily)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestDegradedReportsExpireWithQuotes(t *testing.T) {
	store := &ttlStore{Memory: cache.NewMemory(0), ttls: map[string]time.Duration{}}
	svc := newServiceWithStore(t, fixture(), store)
	ttls := cache.DefaultTTLs()

	rep, err := svc.Valuate(context.Background(), "ACME", nil)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Warnings)
	assert.Equal(t, ttls.Quote, store.ttl(cache.Prefix+cache.ValuationKey("ACME")))

	rep, err = svc.Valuate(context.Background(), "WHOLE", nil)
	require.NoError(t, err)
	require.Empty(t, rep.Warnings)
	assert.Equal(t, ttls.Valuation, store.ttl(cache.Prefix+cache.ValuationKey("WHOLE")))
}
