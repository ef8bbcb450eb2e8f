// Package config loads client settings from a YAML file, the environment
// (FLOWERSCHOOL_*), an optional .env file and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FLOWERSCHOOL"

// Storage drivers for the durable tier.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Payment PaymentConfig `mapstructure:"payment"`
	Log     LogConfig     `mapstructure:"log"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// SiteOrigin is the origin cookies are scoped to. Defaults to BaseURL.
	SiteOrigin     string        `mapstructure:"site_origin" validate:"omitempty,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Tracing        bool          `mapstructure:"tracing"`
	SampleFallback bool          `mapstructure:"sample_fallback"`
}

type SessionConfig struct {
	CookieDays       float64  `mapstructure:"cookie_days" validate:"gt=0"`
	DevHosts         []string `mapstructure:"dev_hosts"`
	EnrollmentRecord bool     `mapstructure:"enrollment_record"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=memory sqlite redis"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

type PaymentConfig struct {
	OmisePublicKey string `mapstructure:"omise_public_key"`
	Currency       string `mapstructure:"currency" validate:"len=3"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"base-url":    "backend.base_url",
	"site-origin": "backend.site_origin",
	"timeout":     "backend.timeout",
	"tracing":     "backend.tracing",
	"storage":     "storage.driver",
	"sqlite-path": "storage.sqlite_path",
	"redis-addr":  "storage.redis_addr",
	"omise-key":   "payment.omise_public_key",
	"log-level":   "log.level",
	"log-format":  "log.format",
}

// Flags registers the flags Load understands on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("base-url", "", "backend base URL")
	fs.String("site-origin", "", "origin cookies are scoped to (defaults to the base URL)")
	fs.Duration("timeout", 0, "per request timeout, 0 for none")
	fs.Bool("tracing", false, "trace outgoing requests with OpenTelemetry")
	fs.String("storage", "", "durable storage driver: memory, sqlite or redis")
	fs.String("sqlite-path", "", "sqlite database path")
	fs.String("redis-addr", "", "redis address")
	fs.String("omise-key", "", "Omise public key for card payments")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "json or text")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:5000")
	v.SetDefault("backend.site_origin", "")
	v.SetDefault("backend.tracing", false)
	v.SetDefault("backend.timeout", time.Duration(0))
	v.SetDefault("backend.sample_fallback", true)
	v.SetDefault("session.cookie_days", 7)
	v.SetDefault("session.dev_hosts", []string{})
	v.SetDefault("session.enrollment_record", false)
	v.SetDefault("storage.driver", StorageSQLite)
	v.SetDefault("storage.sqlite_path", "./flowerschool.db")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_prefix", "flowerschool:")
	v.SetDefault("payment.omise_public_key", "")
	v.SetDefault("payment.currency", "INR")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration. flags may be nil; when it holds a parsed
// "config" flag that file is read instead of searching ./ and ./config for
// flowerschool.yaml. A missing config file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("flowerschool")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if c.Backend.SiteOrigin == "" {
		c.Backend.SiteOrigin = c.Backend.BaseURL
	}
	c.Payment.Currency = strings.ToUpper(c.Payment.Currency)

	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}
