package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds the service configuration.
type Config struct {
	APIKey             string
	BaseURL            string
	RefreshThreshold   time.Duration
	RequestTimeout     time.Duration
	RefreshConcurrency int

	StoreDriver   string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string

	NATSUrl     string
	NATSSubject string

	HTTPAddr string
	LogEnv   string
}

// Load reads .env, then the optional config file, then environment overrides.
// An empty path searches for config.{json,yaml} in the working directory.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// fractional minutes are allowed, e.g. 1.5
	thresholdMinutes := v.GetFloat64("refresh_threshold_minutes")

	cfg := &Config{
		APIKey:             strings.TrimSpace(v.GetString("news_api_key")),
		BaseURL:            strings.TrimSpace(v.GetString("news_api_url")),
		RefreshThreshold:   time.Duration(thresholdMinutes * float64(time.Minute)),
		RequestTimeout:     v.GetDuration("request_timeout"),
		RefreshConcurrency: v.GetInt("refresh_concurrency"),
		StoreDriver:        strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
		SQLitePath:         v.GetString("sqlite_path"),
		MongoURI:           v.GetString("mongo_uri"),
		MongoDatabase:      v.GetString("mongo_database"),
		NATSUrl:            v.GetString("nats_url"),
		NATSSubject:        v.GetString("nats_subject"),
		HTTPAddr:           v.GetString("http_addr"),
		LogEnv:             v.GetString("log_env"),
	}

	if thresholdMinutes < 0 {
		return nil, fmt.Errorf("refresh_threshold_minutes must not be negative, got %v", thresholdMinutes)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("news_api_url", "https://newsapi.org/v2/everything")
	v.SetDefault("refresh_threshold_minutes", 15)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("refresh_concurrency", 4)
	v.SetDefault("store_driver", DriverSQLite)
	v.SetDefault("sqlite_path", "news.db")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "newsdb")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "news.refresh.result")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_env", "development")
}

func validate(cfg *Config) error {
	if cfg.APIKey == "" {
		return errors.New("NEWS_API_KEY is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("news_api_url: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("news_api_url: scheme must be http or https, got %q", u.Scheme)
	}
	switch cfg.StoreDriver {
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite store")
		}
	case DriverMongo:
		if cfg.MongoURI == "" {
			return errors.New("mongo_uri is required for the mongo store")
		}
	default:
		return fmt.Errorf("store_driver: unknown driver %q (valid: sqlite, mongo)", cfg.StoreDriver)
	}
	if cfg.RefreshConcurrency < 1 {
		cfg.RefreshConcurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return nil
}
