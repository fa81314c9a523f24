package marketstack

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "k", BaseURL: srv.URL}, srv.Client(), zaptest.NewLogger(t))
}

func TestQuoteUsesPreviousRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eod", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("access_key"))
		if r.URL.Query().Get("symbols") != "AAPL" {
			_, _ = w.Write([]byte(`{"pagination": {"limit": 2, "offset": 0, "count": 0, "total": 0}, "data": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"pagination": {"limit": 2, "offset": 0, "count": 2, "total": 2}, "data": [
			{"open": 171, "high": 173, "low": 170, "close": 172, "volume": 5000, "symbol": "AAPL", "date": "2024-03-15T00:00:00+0000"},
			{"open": 169, "high": 171, "low": 168, "close": 170, "volume": 4000, "symbol": "AAPL", "date": "2024-03-14T00:00:00+0000"}]}`))
	})
	c := newTestClient(t, mux)

	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "172", q.Price.String())
	assert.Equal(t, "170", q.PreviousClose.String())
	assert.Equal(t, "2", q.Change.String())
	assert.Equal(t, 15, q.Timestamp.Day())

	_, err = c.Quote(context.Background(), "NOPE")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestHistoryPaginates(t *testing.T) {
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/eod", func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		offset := r.URL.Query().Get("offset")
		day := 14
		if offset != "0" {
			day = 13
		}
		fmt.Fprintf(w, `{"pagination": {"limit": 1000, "offset": %s, "count": 1, "total": 2}, "data": [
			{"open": 1, "high": 2, "low": 0.5, "close": 1.5, "volume": 10, "symbol": "AAPL", "date": "2024-03-%dT00:00:00+0000"}]}`, offset, day)
	})
	c := newTestClient(t, mux)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars, err := c.History(context.Background(), "AAPL", from, from.AddDate(0, 1, 0), market.Daily)
	require.NoError(t, err)
	assert.Equal(t, int32(2), pages.Load())
	require.Len(t, bars, 2)
	assert.Equal(t, 13, bars[0].Date.Day())

	_, err = c.History(context.Background(), "AAPL", from, from, market.Weekly)
	assert.ErrorIs(t, err, provider.ErrNotSupported)
}

func TestProfileAndDividends(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tickerinfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"name": "Apple Inc", "ticker": "AAPL", "sector": "Technology",
			"industry": "Consumer Electronics", "exchange_code": "NASDAQ", "full_time_employees": "161000"}}`))
	})
	mux.HandleFunc("/dividends", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"date": "2024-02-09", "dividend": 0.24}, {"date": "2023-11-10", "dividend": 0.24}, {"date": "2023-08-11", "dividend": 0}]}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	p, err := c.Profile(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Technology", p.Sector)
	assert.Equal(t, 161000, p.Employees)

	divs, err := c.Dividends(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, divs, 2)
	assert.Equal(t, time.November, divs[0].ExDate.Month())

	_, err = c.Financials(ctx, "AAPL")
	assert.ErrorIs(t, err, provider.ErrNotSupported)
}
