package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port  string `yaml:"port"`
	Env   string `yaml:"env"` // development | production
	Debug bool   `yaml:"debug"`
}

type Database struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

type Credential struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type Auth struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	Credentials []Credential  `yaml:"credentials"`
}

type Finnhub struct {
	BaseURL            string        `yaml:"base_url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

type Ticker struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

type Market struct {
	Provider       string        `yaml:"provider"` // finnhub | simulated
	Finnhub        Finnhub       `yaml:"finnhub"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	BatchSize      int           `yaml:"batch_size"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	DriftInterval  time.Duration `yaml:"drift_interval"`
	DriftBand      float64       `yaml:"drift_band"`
	HistorySize    int           `yaml:"history_size"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	Tickers        []Ticker      `yaml:"tickers"`
}

type Monitor struct {
	Interval time.Duration `yaml:"interval"`
}

type Leaderboard struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type Accounts struct {
	StartingBalance string `yaml:"starting_balance"`
	DepositLimit    string `yaml:"deposit_limit"`
}

type Root struct {
	Server      Server      `yaml:"server"`
	Database    Database    `yaml:"database"`
	Auth        Auth        `yaml:"auth"`
	Market      Market      `yaml:"market"`
	Monitor     Monitor     `yaml:"monitor"`
	Accounts    Accounts    `yaml:"accounts"`
	Leaderboard Leaderboard `yaml:"leaderboard"`
}

// DefaultTickers is the tradable universe used when the config lists none.
var DefaultTickers = []Ticker{
	{Symbol: "SPX", Name: "S&P 500 Index"},
	{Symbol: "QQQ", Name: "Nasdaq 100 ETF"},
	{Symbol: "DIA", Name: "Dow Jones ETF"},
	{Symbol: "AAPL", Name: "Apple Inc."},
	{Symbol: "GOOGL", Name: "Alphabet Inc."},
	{Symbol: "MSFT", Name: "Microsoft Corporation"},
	{Symbol: "AMZN", Name: "Amazon.com Inc."},
	{Symbol: "TSLA", Name: "Tesla Inc."},
	{Symbol: "NVDA", Name: "NVIDIA Corporation"},
	{Symbol: "META", Name: "Meta Platforms Inc."},
	{Symbol: "NFLX", Name: "Netflix Inc."},
	{Symbol: "BINANCE:BTCUSDT", Name: "Bitcoin"},
	{Symbol: "BINANCE:ETHUSDT", Name: "Ethereum"},
	{Symbol: "BINANCE:SOLUSDT", Name: "Solana"},
	{Symbol: "JPM", Name: "JPMorgan Chase & Co."},
	{Symbol: "DIS", Name: "The Walt Disney Company"},
}

// Load reads the YAML file at path (if any), fills defaults and applies
// environment overrides. An empty path or a missing file yields defaults.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, err
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, err
			}
		}
	}

	applyEnv(&c)
	applyDefaults(&c)
	return c, nil
}

func applyEnv(c *Root) {
	if v := os.Getenv("ENV"); v != "" {
		c.Server.Env = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Server.Debug = true
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Market.Finnhub.APIKey = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

func applyDefaults(c *Root) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "deltatrade.db"
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "deltatrade-secret-key"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}

	// Without an API key the venue falls back to the simulated exchange.
	if c.Market.Provider == "" {
		c.Market.Provider = "finnhub"
		if c.Market.Finnhub.APIKey == "" {
			c.Market.Provider = "simulated"
		}
	}
	if c.Market.Finnhub.BaseURL == "" {
		c.Market.Finnhub.BaseURL = "https://finnhub.io/api/v1"
	}
	if c.Market.Finnhub.Timeout == 0 {
		c.Market.Finnhub.Timeout = 5 * time.Second
	}
	// Finnhub free tier allows 60 calls/min; 4 symbols every 5s is 48.
	if c.Market.Finnhub.RateLimitPerMinute == 0 {
		c.Market.Finnhub.RateLimitPerMinute = 60
	}
	if c.Market.SyncInterval == 0 {
		c.Market.SyncInterval = 5 * time.Second
	}
	if c.Market.BatchSize == 0 {
		c.Market.BatchSize = 4
	}
	if c.Market.FetchTimeout == 0 {
		c.Market.FetchTimeout = c.Market.Finnhub.Timeout
	}
	if c.Market.DriftInterval == 0 {
		c.Market.DriftInterval = time.Second
	}
	if c.Market.DriftBand == 0 {
		c.Market.DriftBand = 0.0005
	}
	if c.Market.HistorySize == 0 {
		c.Market.HistorySize = 100
	}
	if c.Market.StreamInterval == 0 {
		c.Market.StreamInterval = time.Second
	}
	if len(c.Market.Tickers) == 0 {
		c.Market.Tickers = DefaultTickers
	}

	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 5 * time.Second
	}

	if c.Leaderboard.SnapshotInterval == 0 {
		c.Leaderboard.SnapshotInterval = time.Hour
	}

	if c.Accounts.StartingBalance == "" {
		c.Accounts.StartingBalance = "10000.00"
	}
	if c.Accounts.DepositLimit == "" {
		c.Accounts.DepositLimit = "1000000"
	}
}

// Production reports whether the server runs with production logging.
func (c Root) Production() bool {
	return c.Server.Env == "production"
}
