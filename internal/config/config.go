// Package config defines all configuration for the feed handler. Config is
// loaded from a YAML file with overrides via FH_* environment variables,
// using viper with mapstructure tags and a dotted-to-underscore env key
// replacer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly to the YAML file.
type Config struct {
	Handler HandlerConfig `mapstructure:"handler"`
	Feeds   []FeedConfig  `mapstructure:"feeds"`
}

// HandlerConfig tunes the feed handler and its ambient concerns.
//
//   - Retries: must be > 0 and is logged at startup. It is not passed to
//     the feed sessions, which abandon a feed after their own default cap
//     of 10 failed connection attempts.
type HandlerConfig struct {
	Retries int           `mapstructure:"retries"`
	Logging LoggingConfig `mapstructure:"logging"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	NBBO    NBBOConfig    `mapstructure:"nbbo"`
}

// LoggingConfig selects the slog handler and verbosity.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// MonitorConfig controls the debug/introspection HTTP surface.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NBBOConfig lists the pairs to compute a cross-venue best bid/ask for. An
// empty Pairs list disables NBBO aggregation entirely.
type NBBOConfig struct {
	Pairs []string `mapstructure:"pairs"`
}

// FeedConfig describes one venue connection.
//
//   - Venue: adapter kind ("bitfinex", "bitmex", "gdax", "gemini", "poloniex").
//   - Endpoint: websocket URL to dial.
//   - Pairs / Channels: passed to the adapter's Subscribe.
//   - Intervals: optional periodic REST snapshot tasks, keyed by pair,
//     consumed by internal/restfetch.
//   - OrderBookBackend: "memory" or "redis".
type FeedConfig struct {
	Venue            string                   `mapstructure:"venue"`
	Endpoint         string                   `mapstructure:"endpoint"`
	Pairs            []string                 `mapstructure:"pairs"`
	Channels         []string                 `mapstructure:"channels"`
	Intervals        map[string]time.Duration `mapstructure:"intervals"`
	OrderBookBackend string                   `mapstructure:"order_book_backend"`
	Redis            RedisConfig              `mapstructure:"redis"`
}

// RedisConfig configures the remote order-book backend, when selected.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Handler.Retries <= 0 {
		return fmt.Errorf("handler.retries must be > 0")
	}
	if len(c.Feeds) == 0 {
		return fmt.Errorf("at least one feed must be configured")
	}
	for i, f := range c.Feeds {
		if f.Venue == "" {
			return fmt.Errorf("feeds[%d].venue is required", i)
		}
		if f.Endpoint == "" {
			return fmt.Errorf("feeds[%d].endpoint is required", i)
		}
		if len(f.Pairs) == 0 {
			return fmt.Errorf("feeds[%d].pairs must not be empty", i)
		}
		switch f.OrderBookBackend {
		case "", "memory":
		case "redis":
			if f.Redis.Addr == "" {
				return fmt.Errorf("feeds[%d].redis.addr is required when order_book_backend is redis", i)
			}
		default:
			return fmt.Errorf("feeds[%d].order_book_backend must be memory or redis", i)
		}
	}
	return nil
}
