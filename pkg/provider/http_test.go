package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFetcherStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream exploded"))
		default:
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(`{"price": 1.5}`))
		}
	}))
	defer srv.Close()

	f := NewFetcher("test", srv.Client(), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := f.Get(ctx, srv.URL+"/missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Get(ctx, srv.URL+"/limited", nil)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = f.Get(ctx, srv.URL+"/broken", nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "upstream exploded")

	var out struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, f.GetJSON(ctx, srv.URL+"/ok", nil, &out))
	assert.Equal(t, 1.5, out.Price)
}

func TestDecodeJSONRepairsMalformedBodies(t *testing.T) {
	var out struct {
		Symbol string    `json:"symbol"`
		Closes []float64 `json:"closes"`
	}
	require.NoError(t, DecodeJSON([]byte(`{"symbol": "AAPL", "closes": [1, 2, 3,]}`), &out))
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, []float64{1, 2, 3}, out.Closes)

	var typed struct {
		Price float64 `json:"price"`
	}
	assert.Error(t, DecodeJSON([]byte(`{"price": "abc"}`), &typed), "type errors are not repaired")
}
