// Package config loads the YAML configuration file and applies environment
// variable overrides for credentials and paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading engine.
type Config struct {
	Storage  Storage       `yaml:"storage"`
	Server   Server        `yaml:"server"`
	Broker   Broker        `yaml:"broker"`
	Alpaca   Alpaca        `yaml:"alpaca"`
	Telegram Telegram      `yaml:"telegram"`
	Logging  Logging       `yaml:"logging"`
	Trading  TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the operator API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Broker selects the BrokerClient implementation.
type Broker struct {
	// Name is "simulator" or "alpaca".
	Name string `yaml:"name"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Telegram holds bot credentials for trade notifications. Leaving both empty
// disables Telegram and falls back to log-only notifications.
type Telegram struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines the strategy selection plus risk and execution
// parameters.
type TradingConfig struct {
	Strategy          string   `yaml:"strategy"`
	WatchSymbols      []string `yaml:"watch_symbols"`
	InitialCash       float64  `yaml:"initial_cash"`
	DailyLossLimitPct float64  `yaml:"daily_loss_limit_pct"`
	MaxRetry          int      `yaml:"max_retry"`
	RetryDelay        Duration `yaml:"retry_delay"`
	StaleAfter        Duration `yaml:"stale_after"`
	CallTimeout       Duration `yaml:"call_timeout"`
	PollInterval      Duration `yaml:"poll_interval"`
	MaxIterations     int      `yaml:"max_iterations"`
	MaxQtyPerOrder    int64    `yaml:"max_qty_per_order"`
	CashFraction      float64  `yaml:"cash_fraction"`
	ResubmitStale     bool     `yaml:"resubmit_stale"`
	MarketHoursOnly   bool     `yaml:"market_hours_only"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/journal.db"
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Broker.Name == "" {
		c.Broker.Name = "simulator"
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	t := &c.Trading
	if t.Strategy == "" {
		t.Strategy = "momentum"
	}
	if t.InitialCash == 0 {
		t.InitialCash = 10_000_000
	}
	if t.DailyLossLimitPct == 0 {
		t.DailyLossLimitPct = 2.0
	}
	if t.MaxRetry == 0 {
		t.MaxRetry = 3
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = Duration(time.Second)
	}
	if t.StaleAfter == 0 {
		t.StaleAfter = Duration(30 * time.Second)
	}
	if t.CallTimeout == 0 {
		t.CallTimeout = Duration(10 * time.Second)
	}
	if t.PollInterval == 0 {
		t.PollInterval = Duration(10 * time.Second)
	}
	if t.MaxQtyPerOrder == 0 {
		t.MaxQtyPerOrder = 10
	}
	if t.CashFraction == 0 {
		t.CashFraction = 0.95
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Broker.Name {
	case "simulator":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return fmt.Errorf("config: broker %q requires alpaca credentials", c.Broker.Name)
		}
	default:
		return fmt.Errorf("config: unknown broker %q", c.Broker.Name)
	}
	if len(c.Trading.WatchSymbols) == 0 {
		return fmt.Errorf("config: trading.watch_symbols is empty")
	}
	if c.Trading.InitialCash < 0 {
		return fmt.Errorf("config: trading.initial_cash must not be negative")
	}
	if c.Trading.CashFraction <= 0 || c.Trading.CashFraction > 1 {
		return fmt.Errorf("config: trading.cash_fraction must be in (0, 1]")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("BROKER"); v != "" {
		cfg.Broker.Name = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
