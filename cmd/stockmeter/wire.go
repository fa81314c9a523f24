package main

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"stockmeter/pkg/cache"
	"stockmeter/pkg/config"
	"stockmeter/pkg/provider"
	"stockmeter/pkg/provider/alpaca"
	"stockmeter/pkg/provider/alphavantage"
	"stockmeter/pkg/provider/marketstack"
	"stockmeter/pkg/provider/tiingo"
	"stockmeter/pkg/provider/yahoo"
	"stockmeter/pkg/stock"
	"stockmeter/pkg/valuation"
)

// buildProviders constructs the configured providers in failover order.
// Providers whose credentials are missing are skipped and reported.
func buildProviders(cfg config.Config, client *http.Client, logger *zap.Logger) ([]provider.Provider, []string) {
	var (
		out     []provider.Provider
		skipped []string
	)
	for _, name := range cfg.Providers {
		switch name {
		case alphavantage.Name:
			if cfg.AlphaVantageKey == "" {
				skipped = append(skipped, name)
				continue
			}
			out = append(out, alphavantage.New(alphavantage.Config{APIKey: cfg.AlphaVantageKey}, client, logger))
		case yahoo.Name:
			out = append(out, yahoo.New(yahoo.Config{}, client, logger))
		case tiingo.Name:
			if cfg.TiingoKey == "" {
				skipped = append(skipped, name)
				continue
			}
			out = append(out, tiingo.New(tiingo.Config{APIKey: cfg.TiingoKey}, client, logger))
		case marketstack.Name:
			if cfg.MarketstackKey == "" {
				skipped = append(skipped, name)
				continue
			}
			out = append(out, marketstack.New(marketstack.Config{APIKey: cfg.MarketstackKey}, client, logger))
		case alpaca.Name:
			if cfg.AlpacaKey == "" || cfg.AlpacaSecret == "" {
				skipped = append(skipped, name)
				continue
			}
			out = append(out, alpaca.New(alpaca.Config{
				APIKey:    cfg.AlpacaKey,
				APISecret: cfg.AlpacaSecret,
				BaseURL:   cfg.AlpacaDataURL,
				Feed:      cfg.AlpacaFeed,
			}, logger))
		}
	}
	return out, skipped
}

// app holds everything a command needs.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	manager *provider.Manager
	cache   *cache.Service
	stock   *stock.Service
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	httpCfg := provider.DefaultHTTPConfig()
	httpCfg.Timeout = cfg.HTTPTimeout
	client := provider.NewHTTPClient(httpCfg)

	providers, skipped := buildProviders(cfg, client, logger)
	if len(skipped) > 0 {
		logger.Info("providers without credentials skipped", zap.Strings("providers", skipped))
	}
	manager, err := provider.NewManager(providers, cfg.Manager(), logger)
	if err != nil {
		return nil, err
	}

	sectors, err := valuation.LoadSectors(cfg.SectorTable)
	if err != nil {
		return nil, err
	}
	valuer, err := valuation.NewService(cfg.Assumptions(), valuation.WithSectors(sectors))
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.CacheBackend, cfg.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	cacheSvc := cache.NewService(store, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		cache:   cacheSvc,
		stock:   stock.New(manager, cacheSvc, cfg.TTLs(), valuer, logger),
	}, nil
}

func (a *app) Close() error {
	return a.cache.Close()
}
