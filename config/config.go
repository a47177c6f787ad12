// Package config loads backtest configuration from defaults, an optional
// YAML file and the environment (optionally via .env), in that order.
package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crossbt/internal/indicator"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all application configuration.
type Config struct {
	// Backtest
	InitialCash float64          `yaml:"initial_cash"`
	Symbol      string           `yaml:"symbol"`
	Indicators  indicator.Params `yaml:"indicators"`

	// Infrastructure
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MetricsAddr   string `yaml:"metrics_addr"`
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	NotifyWebhook string `yaml:"notify_webhook"` // empty: alerts go to the log
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InitialCash: 1_000_000,
		Symbol:      "NIFTY",
		Indicators:  indicator.DefaultParams(),

		SQLitePath:  "data/bars.db",
		RedisAddr:   "localhost:6379",
		MetricsAddr: ":9090",
		ListenAddr:  ":8080",
		LogLevel:    "info",
	}
}

// Load builds a Config. path may be empty, in which case no YAML file is read.
// Keys absent from the file keep their defaults; environment variables
// override both.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.InitialCash = getEnvFloat("CROSSBT_INITIAL_CASH", c.InitialCash)
	c.Symbol = getEnv("SYMBOL", c.Symbol)

	p := &c.Indicators
	p.MAFast = getEnvInt("CROSSBT_MA_FAST", p.MAFast)
	p.MASlow = getEnvInt("CROSSBT_MA_SLOW", p.MASlow)
	p.RSIPeriod = getEnvInt("CROSSBT_RSI_PERIOD", p.RSIPeriod)
	p.MACDFast = getEnvInt("CROSSBT_MACD_FAST", p.MACDFast)
	p.MACDSlow = getEnvInt("CROSSBT_MACD_SLOW", p.MACDSlow)
	p.MACDSignal = getEnvInt("CROSSBT_MACD_SIGNAL", p.MACDSignal)

	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.NotifyWebhook = getEnv("NOTIFY_WEBHOOK_URL", c.NotifyWebhook)
}

// Validate checks the backtest settings. Infrastructure addresses are only
// checked by the components that dial them.
func (c *Config) Validate() error {
	if math.IsNaN(c.InitialCash) || math.IsInf(c.InitialCash, 0) {
		return fmt.Errorf("%w: initial_cash %v is not finite", ErrInvalidConfig, c.InitialCash)
	}
	if c.InitialCash < 0 {
		return fmt.Errorf("%w: initial_cash %v is negative", ErrInvalidConfig, c.InitialCash)
	}
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Indicators.MAFast >= c.Indicators.MASlow {
		log.Printf("[config] ma_fast (%d) >= ma_slow (%d): crossover semantics are inverted",
			c.Indicators.MAFast, c.Indicators.MASlow)
	}
	return nil
}

// IndicatorParams returns the configured indicator windows.
func (c *Config) IndicatorParams() indicator.Params {
	return c.Indicators
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("[config] ignoring invalid %s=%q", key, v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("[config] ignoring invalid %s=%q", key, v)
	}
	return def
}
