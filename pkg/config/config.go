// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"stockmeter/pkg/cache"
	"stockmeter/pkg/provider"
	"stockmeter/pkg/valuation"
)

// KnownProviders lists every provider name the registry can build.
var KnownProviders = []string{"alphavantage", "yahoo", "tiingo", "marketstack", "alpaca"}

type Config struct {
	AlphaVantageKey string `env:"ALPHA_VANTAGE_API_KEY"`
	TiingoKey       string `env:"TIINGO_API_KEY"`
	MarketstackKey  string `env:"MARKETSTACK_API_KEY"`
	AlpacaKey       string `env:"ALPACA_API_KEY"`
	AlpacaSecret    string `env:"ALPACA_SECRET_KEY"`
	AlpacaDataURL   string `env:"ALPACA_DATA_URL"`
	AlpacaFeed      string `env:"ALPACA_FEED" envDefault:"iex"`

	Providers     []string      `env:"STOCKMETER_PROVIDERS" envSeparator:"," envDefault:"alphavantage,yahoo,tiingo,marketstack,alpaca"`
	MaxFailures   int           `env:"STOCKMETER_MAX_FAILURES" envDefault:"3"`
	RecoveryAfter time.Duration `env:"STOCKMETER_RECOVERY_AFTER" envDefault:"5m"`
	HTTPTimeout   time.Duration `env:"STOCKMETER_HTTP_TIMEOUT" envDefault:"15s"`

	CacheBackend  string        `env:"STOCKMETER_CACHE" envDefault:"memory"`
	CachePath     string        `env:"STOCKMETER_CACHE_PATH" envDefault:"data/stockmeter-cache.db"`
	QuoteTTL      time.Duration `env:"STOCKMETER_TTL_QUOTE" envDefault:"60s"`
	ProfileTTL    time.Duration `env:"STOCKMETER_TTL_PROFILE" envDefault:"24h"`
	HistoryTTL    time.Duration `env:"STOCKMETER_TTL_HISTORY" envDefault:"1h"`
	FinancialsTTL time.Duration `env:"STOCKMETER_TTL_FINANCIALS" envDefault:"12h"`
	DividendsTTL  time.Duration `env:"STOCKMETER_TTL_DIVIDENDS" envDefault:"12h"`
	ValuationTTL  time.Duration `env:"STOCKMETER_TTL_VALUATION" envDefault:"1h"`

	DiscountRate      float64 `env:"STOCKMETER_DISCOUNT_RATE" envDefault:"0.10"`
	TerminalGrowth    float64 `env:"STOCKMETER_TERMINAL_GROWTH" envDefault:"0.025"`
	ProjectionYears   int     `env:"STOCKMETER_PROJECTION_YEARS" envDefault:"5"`
	MaxGrowth         float64 `env:"STOCKMETER_MAX_GROWTH" envDefault:"0.15"`
	MinGrowth         float64 `env:"STOCKMETER_MIN_GROWTH" envDefault:"-0.05"`
	DefaultGrowth     float64 `env:"STOCKMETER_DEFAULT_GROWTH" envDefault:"0.05"`
	RiskFreeRate      float64 `env:"STOCKMETER_RISK_FREE_RATE" envDefault:"0.045"`
	EquityRiskPremium float64 `env:"STOCKMETER_EQUITY_RISK_PREMIUM" envDefault:"0.055"`
	DefaultBeta       float64 `env:"STOCKMETER_DEFAULT_BETA" envDefault:"1.0"`
	MarginBand        float64 `env:"STOCKMETER_MARGIN_BAND" envDefault:"0.15"`
	SectorTable       string  `env:"STOCKMETER_SECTOR_TABLE"`

	LogLevel   string `env:"STOCKMETER_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"STOCKMETER_LOG_FORMAT" envDefault:"json"`
	ListenAddr string `env:"STOCKMETER_LISTEN" envDefault:":8080"`
}

// Load reads .env files (missing files are ignored) and then the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			names = append(names, p)
		}
	}
	c.Providers = names
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("STOCKMETER_PROVIDERS is empty"))
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if !known(p) {
			errs = append(errs, fmt.Errorf("unknown provider %q (known: %s)", p, strings.Join(KnownProviders, ", ")))
		}
		if seen[p] {
			errs = append(errs, fmt.Errorf("provider %q listed twice", p))
		}
		seen[p] = true
	}
	if c.MaxFailures < 1 {
		errs = append(errs, errors.New("STOCKMETER_MAX_FAILURES must be at least 1"))
	}
	if c.RecoveryAfter <= 0 {
		errs = append(errs, errors.New("STOCKMETER_RECOVERY_AFTER must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("STOCKMETER_HTTP_TIMEOUT must be positive"))
	}
	switch c.CacheBackend {
	case "memory", "none", "off":
	case "sqlite":
		if strings.TrimSpace(c.CachePath) == "" {
			errs = append(errs, errors.New("STOCKMETER_CACHE_PATH is required for the sqlite cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}
	if (c.AlpacaKey == "") != (c.AlpacaSecret == "") {
		errs = append(errs, errors.New("ALPACA_API_KEY and ALPACA_SECRET_KEY must be set together"))
	}
	if err := c.Assumptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func known(name string) bool {
	for _, k := range KnownProviders {
		if k == name {
			return true
		}
	}
	return false
}

func (c Config) Manager() provider.ManagerConfig {
	return provider.ManagerConfig{MaxFailures: c.MaxFailures, RecoveryAfter: c.RecoveryAfter}
}

func (c Config) TTLs() cache.TTLs {
	return cache.TTLs{
		Quote:      c.QuoteTTL,
		Profile:    c.ProfileTTL,
		History:    c.HistoryTTL,
		Financials: c.FinancialsTTL,
		Dividends:  c.DividendsTTL,
		Valuation:  c.ValuationTTL,
	}
}

func (c Config) Assumptions() valuation.Assumptions {
	return valuation.Assumptions{
		DiscountRate:       c.DiscountRate,
		TerminalGrowth:     c.TerminalGrowth,
		ProjectionYears:    c.ProjectionYears,
		MaxGrowth:          c.MaxGrowth,
		MinGrowth:          c.MinGrowth,
		DefaultGrowth:      c.DefaultGrowth,
		RiskFreeRate:       c.RiskFreeRate,
		EquityRiskPremium:  c.EquityRiskPremium,
		DefaultBeta:        c.DefaultBeta,
		MarginOfSafetyBand: c.MarginBand,
	}
}
