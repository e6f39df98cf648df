// Package config loads engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Symbols []string `yaml:"symbols"`

	Engine struct {
		CycleInterval  time.Duration `yaml:"cycle_interval"`  // default 4m
		MinCycleGap    time.Duration `yaml:"min_cycle_gap"`   // default 30s
		PriceFreshness time.Duration `yaml:"price_freshness"` // default 30s
		MinRefetch     time.Duration `yaml:"min_refetch"`     // default 60s
		Workers        int           `yaml:"workers"`         // per-symbol timeframe workers
		CandleLimit    int           `yaml:"candle_limit"`    // candles per timeframe fetch
		HighConfidence float64       `yaml:"high_confidence"` // notification threshold
	} `yaml:"engine"`

	Risk struct {
		Balance      float64       `yaml:"balance"`
		RiskPct      float64       `yaml:"risk_pct"`
		MCIterations int           `yaml:"mc_iterations"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
	} `yaml:"risk"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	HTTP struct {
		APIAddr     string `yaml:"api_addr"`
		GatewayAddr string `yaml:"gateway_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"http"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Webhook struct {
		URL string `yaml:"url"`
	} `yaml:"webhook"`

	Binance struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"binance"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is fine; env and defaults carry it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Symbols = splitCSV(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.HTTP.APIAddr = v
	}
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.HTTP.GatewayAddr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.HTTP.MetricsAddr = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Binance.BaseURL = v
	}
	if v := os.Getenv("CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.CycleInterval = d
		}
	}
	if v := os.Getenv("ACCOUNT_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.Balance = f
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTC/USDT", "ETH/USDT"}
	}
	if c.Engine.CycleInterval <= 0 {
		c.Engine.CycleInterval = 4 * time.Minute
	}
	if c.Engine.MinCycleGap <= 0 {
		c.Engine.MinCycleGap = 30 * time.Second
	}
	if c.Engine.PriceFreshness <= 0 {
		c.Engine.PriceFreshness = 30 * time.Second
	}
	if c.Engine.MinRefetch <= 0 {
		c.Engine.MinRefetch = time.Minute
	}
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.CandleLimit <= 0 {
		c.Engine.CandleLimit = 200
	}
	if c.Engine.HighConfidence <= 0 {
		c.Engine.HighConfidence = 80
	}
	if c.Risk.Balance <= 0 {
		c.Risk.Balance = 10000
	}
	if c.Risk.RiskPct <= 0 {
		c.Risk.RiskPct = 0.01
	}
	if c.Risk.MCIterations <= 0 {
		c.Risk.MCIterations = 1000
	}
	if c.Risk.CacheTTL <= 0 {
		c.Risk.CacheTTL = time.Minute
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/signals.db"
	}
	if c.HTTP.APIAddr == "" {
		c.HTTP.APIAddr = ":8080"
	}
	if c.HTTP.GatewayAddr == "" {
		c.HTTP.GatewayAddr = ":8081"
	}
	if c.HTTP.MetricsAddr == "" {
		c.HTTP.MetricsAddr = ":9090"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	for _, s := range c.Symbols {
		if !strings.Contains(s, "/") {
			return fmt.Errorf("symbol %q must be BASE/QUOTE, e.g. BTC/USDT", s)
		}
	}
	if c.Risk.RiskPct > 1 {
		return fmt.Errorf("risk.risk_pct %f must be a fraction in (0, 1]", c.Risk.RiskPct)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
