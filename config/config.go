// Package config loads service and scraper settings.
// Precedence (highest to lowest): flags > SMS_* env vars > legacy env vars > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: SMS_DATABASE__URL sets database.url.
const EnvPrefix = "SMS_"

// Default values.
const (
	DefaultDatabaseURL = "sqlite:///./sms.db"
	DefaultHTTPAddr    = ":8000"
	DefaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultBooksURL    = "https://books.toscrape.com/"
	DefaultQuotesURL   = "https://quotes.toscrape.com/"
)

var configFiles = []string{"sms.yaml", "sms.yml"}

// FlagKeys maps CLI flag names to config keys. Flags not listed here are
// not treated as configuration.
var FlagKeys = map[string]string{
	"db":           "database.url",
	"reset-schema": "database.reset",
	"addr":         "http.addr",
	"user-agent":   "scraper.user_agent",
	"redis-addr":   "redis.addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

type Config struct {
	App      AppConfig      `koanf:"app"`
	Database DatabaseConfig `koanf:"database"`
	HTTP     HTTPConfig     `koanf:"http"`
	Scraper  ScraperConfig  `koanf:"scraper"`
	Redis    RedisConfig    `koanf:"redis"`
	Lock     LockConfig     `koanf:"lock"`
	Log      LogConfig      `koanf:"log"`

	// File is the config file that was read, empty if none.
	File string `koanf:"-"`
}

type AppConfig struct {
	Env string `koanf:"env"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
	// Reset drops and recreates the schema on startup. Destroys all data.
	Reset bool `koanf:"reset"`
}

type HTTPConfig struct {
	Addr        string   `koanf:"addr"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type ScraperConfig struct {
	UserAgent string        `koanf:"user_agent"`
	Timeout   time.Duration `koanf:"timeout"`
	BooksURL  string        `koanf:"books_url"`
	QuotesURL string        `koanf:"quotes_url"`
}

// RedisConfig enables the shared course lock when Addr is set.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type LockConfig struct {
	TTL  time.Duration `koanf:"ttl"`
	Wait time.Duration `koanf:"wait"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"app.env":            "development",
		"database.url":       DefaultDatabaseURL,
		"database.reset":     false,
		"http.addr":          DefaultHTTPAddr,
		"http.cors_origins":  []string{"*"},
		"scraper.user_agent": DefaultUserAgent,
		"scraper.timeout":    "20s",
		"scraper.books_url":  DefaultBooksURL,
		"scraper.quotes_url": DefaultQuotesURL,
		"redis.addr":         "",
		"redis.password":     "",
		"redis.db":           0,
		"lock.ttl":           "10s",
		"lock.wait":          "5s",
		"log.level":          "info",
		"log.format":         "json",
	}
}

// Load builds a Config. cfgFile may be empty, in which case sms.yaml or
// sms.yml in the working directory is used when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	path := findConfigFile(cfgFile)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Variable names understood by earlier deployments.
	legacy := map[string]string{
		"DATABASE_URL":       "database.url",
		"SCRAPER_USER_AGENT": "scraper.user_agent",
		"APP_ENV":            "app.env",
	}
	for name, key := range legacy {
		if err := k.Load(env.Provider(name, ".", func(s string) string {
			if s != name {
				return ""
			}
			return key
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			// "--db ." keeps whatever the file or environment configured.
			if f.Name == "db" && f.Value.String() == "." {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns SMS_SCRAPER__USER_AGENT into scraper.user_agent.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Validate checks the values the rest of the program relies on.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Scraper.Timeout <= 0 {
		errs = append(errs, errors.New("scraper.timeout must be positive"))
	}
	if c.Lock.TTL <= 0 || c.Lock.Wait <= 0 {
		errs = append(errs, errors.New("lock.ttl and lock.wait must be positive"))
	}
	return errors.Join(errs...)
}
