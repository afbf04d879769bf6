package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// ---- Root ----

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Bus       BusConfig       `mapstructure:"bus"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type BusConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type WebhookConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type NotifierConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	ReplayOnStart   bool            `mapstructure:"replay_on_start"`
	ReplayBatchSize int             `mapstructure:"replay_batch_size"`
	MaxAttempts     int             `mapstructure:"max_attempts"`
	Webhooks        []WebhookConfig `mapstructure:"webhooks"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ORDERGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (ORDERGW_STORAGE_DSN -> storage.dsn)
	v.SetEnvPrefix("ORDERGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn: must not be empty")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr: must not be empty")
	}
	for i, w := range c.Notifier.Webhooks {
		if w.Enabled && strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("notifier.webhooks[%d]: url required when enabled", i)
		}
	}
	return nil
}
