package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"stockmeter/pkg/market"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProvider struct {
	Unsupported
	name  string
	calls atomic.Int32
	quote func(ctx context.Context, symbol string) (market.Quote, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	f.calls.Add(1)
	if f.quote == nil {
		return market.Quote{}, ErrNotSupported
	}
	return f.quote(ctx, symbol)
}

func okQuote(price float64) func(context.Context, string) (market.Quote, error) {
	return func(_ context.Context, symbol string) (market.Quote, error) {
		return market.Quote{Symbol: symbol, Price: decimal.NewFromFloat(price)}, nil
	}
}

func failQuote(err error) func(context.Context, string) (market.Quote, error) {
	return func(context.Context, string) (market.Quote, error) {
		return market.Quote{}, err
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig, providers ...Provider) *Manager {
	t.Helper()
	m, err := NewManager(providers, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, DefaultManagerConfig(), nil)
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = NewManager([]Provider{&fakeProvider{name: "a"}, &fakeProvider{name: "a"}}, DefaultManagerConfig(), nil)
	assert.Error(t, err)
}

func TestManagerUsesFirstHealthyProvider(t *testing.T) {
	a := &fakeProvider{name: "a", quote: okQuote(10)}
	b := &fakeProvider{name: "b", quote: okQuote(20)}
	m := newTestManager(t, DefaultManagerConfig(), a, b)

	q, err := m.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestManagerFailsOverAndMarksUnhealthy(t *testing.T) {
	a := &fakeProvider{name: "a", quote: failQuote(errors.New("boom"))}
	b := &fakeProvider{name: "b", quote: okQuote(20)}
	m := newTestManager(t, ManagerConfig{MaxFailures: 3, RecoveryAfter: time.Hour}, a, b)

	// After the first success on b, b becomes the active provider and a is
	// no longer tried, so drive a's failures by resetting the cursor.
	for i := 0; i < 3; i++ {
		m.mu.Lock()
		m.cursor = 0
		m.mu.Unlock()
		q, err := m.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "b", q.Provider)
	}

	health := m.Health()
	require.Len(t, health, 2)
	assert.False(t, health[0].Healthy)
	assert.Equal(t, 3, health[0].Failures)
	assert.Equal(t, "boom", health[0].LastError)
	assert.True(t, health[1].Healthy)
	assert.True(t, health[1].Active)

	m.mu.Lock()
	m.cursor = 0
	m.mu.Unlock()
	_, err := m.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(3), a.calls.Load(), "unhealthy provider must be skipped")
}

func TestManagerStaysOnLastSuccessfulProvider(t *testing.T) {
	a := &fakeProvider{name: "a", quote: failQuote(errors.New("down"))}
	b := &fakeProvider{name: "b", quote: okQuote(20)}
	m := newTestManager(t, DefaultManagerConfig(), a, b)

	for i := 0; i < 5; i++ {
		_, err := m.Quote(context.Background(), "MSFT")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(5), b.calls.Load())
	assert.True(t, m.Health()[0].Healthy, "one failure is below the threshold")
}

func TestManagerRecoversAfterCooldown(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &fakeProvider{name: "a", quote: failQuote(errors.New("down"))}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1, RecoveryAfter: time.Minute}, a, &fakeProvider{name: "b", quote: okQuote(1)})
	m.now = func() time.Time { return now }

	_, err := m.Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.False(t, m.Health()[0].Healthy)

	a.quote = okQuote(5)
	m.mu.Lock()
	m.cursor = 0
	m.mu.Unlock()

	_, err = m.Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.calls.Load(), "still cooling down")

	now = now.Add(2 * time.Minute)
	m.mu.Lock()
	m.cursor = 0
	m.mu.Unlock()
	q, err := m.Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "a", q.Provider)
	assert.True(t, m.Health()[0].Healthy)
	assert.Equal(t, 0, m.Health()[0].Failures)
}

func TestManagerAllFailed(t *testing.T) {
	errA := errors.New("a down")
	a := &fakeProvider{name: "a", quote: failQuote(errA)}
	b := &fakeProvider{name: "b", quote: failQuote(ErrRateLimited)}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1}, a, b)

	_, err := m.Quote(context.Background(), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Every provider is now unhealthy; they are still tried as a last resort.
	_, err = m.Quote(context.Background(), "X")
	require.Error(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestManagerNotFoundDoesNotPenalize(t *testing.T) {
	a := &fakeProvider{name: "a", quote: failQuote(NewHTTPError(404, ErrNotFound))}
	b := &fakeProvider{name: "b", quote: failQuote(ErrNotFound)}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1}, a, b)

	_, err := m.Quote(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAllProvidersFailed)
	for _, h := range m.Health() {
		assert.True(t, h.Healthy)
		assert.Equal(t, int64(1), h.Calls)
	}
}

func TestManagerSkipsUnsupported(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b", quote: okQuote(3)}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1}, a, b)

	q, err := m.Quote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, "b", q.Provider)
	assert.True(t, m.Health()[0].Healthy)

	_, err = m.Financials(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestManagerContextCanceledIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeProvider{name: "a", quote: func(ctx context.Context, _ string) (market.Quote, error) {
		cancel()
		return market.Quote{}, ctx.Err()
	}}
	b := &fakeProvider{name: "b", quote: okQuote(1)}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1}, a, b)

	_, err := m.Quote(ctx, "X")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), b.calls.Load())
	assert.True(t, m.Health()[0].Healthy)
	assert.Equal(t, 0, m.Health()[0].Failures)
}

func TestManagerCoalescesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	a := &fakeProvider{name: "a", quote: func(_ context.Context, symbol string) (market.Quote, error) {
		<-release
		return market.Quote{Symbol: symbol, Price: decimal.NewFromInt(7)}, nil
	}}
	m := newTestManager(t, DefaultManagerConfig(), a)

	var wg sync.WaitGroup
	results := make([]market.Quote, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q, err := m.Quote(context.Background(), "AAPL")
			assert.NoError(t, err)
			results[i] = q
		}(i)
	}
	require.Eventually(t, func() bool { return a.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), a.calls.Load())
	for _, q := range results {
		assert.Equal(t, "7", q.Price.String())
	}
}

func TestManagerReset(t *testing.T) {
	a := &fakeProvider{name: "alpha", quote: failQuote(errors.New("x"))}
	m := newTestManager(t, ManagerConfig{MaxFailures: 1}, a)
	_, _ = m.Quote(context.Background(), "X")
	require.False(t, m.Health()[0].Healthy)

	require.NoError(t, m.Reset("ALPHA"))
	assert.True(t, m.Health()[0].Healthy)
	assert.Equal(t, int64(1), m.Health()[0].Calls)
	assert.Error(t, m.Reset("nope"))
}
