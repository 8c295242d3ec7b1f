package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store modes.
const (
	ModeGateway  = "gateway"
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
)

// Config holds the service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Mode string `mapstructure:"mode"`
}

// GatewayConfig configures the remote data service.
type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the post cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxPosts int           `mapstructure:"max_posts"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional config.yaml in dir and from
// FEED_ prefixed environment variables, e.g. FEED_STORE_MODE.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("store.mode", ModeGateway)
	v.SetDefault("gateway.base_url", "http://localhost:3000")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("sqlite.path", "./data/feed.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("redis.max_posts", 1000)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("feed")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by earlier deployments.
	_ = v.BindEnv("store.mode", "FEED_STORE_MODE", "DB_MODE")
	_ = v.BindEnv("gateway.base_url", "FEED_GATEWAY_BASE_URL", "DB_GATEWAY_URL")

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store.Mode = strings.ToLower(strings.TrimSpace(c.Store.Mode))
	switch c.Store.Mode {
	case ModeGateway:
		if c.Gateway.BaseURL == "" {
			return errors.New("config: gateway.base_url is required in gateway mode")
		}
	case ModePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required in postgres mode")
		}
	case ModeSQLite:
		if c.SQLite.Path == "" {
			return errors.New("config: sqlite.path is required in sqlite mode")
		}
	default:
		return fmt.Errorf("config: unknown store.mode %q", c.Store.Mode)
	}
	if c.Redis.MaxPosts < 0 {
		return errors.New("config: redis.max_posts must not be negative")
	}
	return nil
}

// LogLevel returns the configured slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
