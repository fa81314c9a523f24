package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
)

const maxBodyBytes = 8 << 20

type HTTPConfig struct {
	// Total timeout for one upstream request. A context deadline can still
	// shorten it.
	Timeout time.Duration

	DialTimeout     time.Duration
	TLSHandshake    time.Duration
	ResponseHeader  time.Duration
	IdleConnTimeout time.Duration

	MaxIdleConnsPerHost int
	UserAgent           string
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:             15 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshake:        5 * time.Second,
		ResponseHeader:      10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
		UserAgent:           "Mozilla/5.0 (compatible; stockmeter/1.0)",
	}
}

func NewHTTPClient(cfg HTTPConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshake,
		ResponseHeaderTimeout: cfg.ResponseHeader,
	}
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}
}

// Fetcher performs GET requests against one upstream API and decodes the
// responses. Providers share a single *http.Client through it.
type Fetcher struct {
	Name      string
	Client    *http.Client
	UserAgent string
	Logger    *zap.Logger
}

func NewFetcher(name string, client *http.Client, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		Name:      name,
		Client:    client,
		UserAgent: DefaultHTTPConfig().UserAgent,
		Logger:    logger.Named(name),
	}
}

// Get returns the body of a successful response. Non-2xx responses become an
// *HTTPError wrapping ErrNotFound or ErrRateLimited where they apply.
func (f *Fetcher) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	res, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	f.Logger.Debug("upstream request",
		zap.String("url", redact(req.URL)),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, statusError(res.StatusCode, body)
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the JSON body into dst.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, header http.Header, dst any) error {
	body, err := f.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	return DecodeJSON(body, dst)
}

// DecodeJSON unmarshals body into dst. Bodies that fail with a syntax error
// (truncated arrays, NaN literals, trailing commas) get one repair attempt
// before the error is returned.
func DecodeJSON(body []byte, dst any) error {
	err := json.Unmarshal(body, dst)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return fmt.Errorf("decode response: %w", err)
	}
	repaired, rerr := jsonrepair.JSONRepair(string(body))
	if rerr != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.NewDecoder(bytes.NewReader([]byte(repaired))).Decode(dst); err != nil {
		return fmt.Errorf("decode repaired response: %w", err)
	}
	return nil
}

// redact strips credentials from a URL before it is logged.
func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	for _, k := range []string{"apikey", "apiKey", "token", "access_key"} {
		if q.Has(k) {
			q.Set(k, "xxx")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}
