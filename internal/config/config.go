// Package config defines all configuration for the trading gateway.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via GATEWAY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	FanOut   FanOutConfig   `mapstructure:"fanout"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ExchangeConfig holds the client credentials and endpoints used to
// authenticate and trade against the upstream exchange.
type ExchangeConfig struct {
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret"`
	RESTBaseURL      string        `mapstructure:"rest_base_url"`
	WSURL            string        `mapstructure:"ws_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRequestsPerSec int          `mapstructure:"max_requests_per_second"`
}

// FanOutConfig configures the downstream TLS WebSocket server that relays
// book updates to subscribed clients.
type FanOutConfig struct {
	Port     int    `mapstructure:"port"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// RiskConfig is the externalized form of risk.Limits (mapstructure-tagged);
// config.Load produces one of these, which the caller converts to
// risk.Limits when constructing the risk engine.
type RiskConfig struct {
	MaxOrderSize       float64 `mapstructure:"max_order_size"`
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
	MaxLeverage        float64 `mapstructure:"max_leverage"`
	MinMargin          float64 `mapstructure:"min_margin"`
	MaxDailyLoss       float64 `mapstructure:"max_daily_loss"`
	MaxOrdersPerSecond int     `mapstructure:"max_orders_per_second"`
}

// LoggingConfig selects the slog handler and minimum level, plus the file
// every record is written to regardless of level (see internal/logging).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: GATEWAY_CLIENT_ID, GATEWAY_CLIENT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if id := os.Getenv("GATEWAY_CLIENT_ID"); id != "" {
		cfg.Exchange.ClientID = id
	}
	if secret := os.Getenv("GATEWAY_CLIENT_SECRET"); secret != "" {
		cfg.Exchange.ClientSecret = secret
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.ClientID == "" {
		return fmt.Errorf("exchange.client_id is required (set GATEWAY_CLIENT_ID)")
	}
	if c.Exchange.ClientSecret == "" {
		return fmt.Errorf("exchange.client_secret is required (set GATEWAY_CLIENT_SECRET)")
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if c.Exchange.MaxRequestsPerSec <= 0 {
		return fmt.Errorf("exchange.max_requests_per_second must be > 0")
	}
	if c.FanOut.Port <= 0 {
		return fmt.Errorf("fanout.port must be > 0")
	}
	if c.FanOut.CertFile == "" || c.FanOut.KeyFile == "" {
		return fmt.Errorf("fanout.cert_file and fanout.key_file are required")
	}
	if c.Risk.MaxOrderSize <= 0 {
		return fmt.Errorf("risk.max_order_size must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if c.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("risk.max_leverage must be > 0")
	}
	return nil
}
