// Package config loads process configuration: static tunables from an
// optional YAML file, secrets and per-deploy values from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved process configuration.
type Config struct {
	DatabaseURL string `yaml:"-"`
	Port        int    `yaml:"-"`
	FrontendURL string `yaml:"-"`
	RedisAddr   string `yaml:"-"`
	DBSSLMode   string `yaml:"-"`

	EndpointBases []string `yaml:"endpoint_bases"`
	QuoteAsset    string   `yaml:"quote_asset"`
	TopN          int      `yaml:"top_n"`

	DetectInterval time.Duration `yaml:"-"`
	PruneInterval  time.Duration `yaml:"-"`
	AlertCooldown  time.Duration `yaml:"-"`
	Retention      time.Duration `yaml:"-"`
	Lookback       time.Duration `yaml:"-"`

	MinVolumeQuote float64 `yaml:"-"`
	MinOIValue     float64 `yaml:"-"`
	ScoreThreshold int     `yaml:"-"`
}

// fileSection is the subset of Config that may come from the optional YAML
// file — static tunables, not secrets.
type fileSection struct {
	EndpointBases []string `yaml:"endpoint_bases"`
	QuoteAsset    string   `yaml:"quote_asset"`
	TopN          int      `yaml:"top_n"`
}

var defaultEndpointBases = []string{
	"https://fapi.binance.com",
	"https://fapi1.binance.com",
	"https://fapi2.binance.com",
	"https://fapi3.binance.com",
}

// Load reads configPath (if non-empty and present) for static tunables, then
// applies environment overrides and defaults. DATABASE_URL's absence is
// logged by the caller, not treated as fatal here — persistence
// unavailability never blocks process startup.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Port:           3001,
		DBSSLMode:      "disable",
		EndpointBases:  append([]string(nil), defaultEndpointBases...),
		QuoteAsset:     "USDT",
		TopN:           50,
		DetectInterval: 30 * time.Second,
		PruneInterval:  time.Hour,
		AlertCooldown:  4 * time.Hour,
		Retention:      48 * time.Hour,
		Lookback:       30 * 24 * time.Hour,
		MinVolumeQuote: 50_000_000,
		MinOIValue:     10_000_000,
		ScoreThreshold: 75,
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
			var fs fileSection
			if err := yaml.Unmarshal(data, &fs); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
			}
			if len(fs.EndpointBases) > 0 {
				cfg.EndpointBases = fs.EndpointBases
			}
			if fs.QuoteAsset != "" {
				cfg.QuoteAsset = fs.QuoteAsset
			}
			if fs.TopN > 0 {
				cfg.TopN = fs.TopN
			}
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	} else if os.Getenv("APP_ENV") == "production" {
		cfg.DBSSLMode = "require"
	}

	applyDurationSeconds(os.Getenv("DETECT_INTERVAL_SECONDS"), &cfg.DetectInterval)
	applyDurationSeconds(os.Getenv("PRUNE_INTERVAL_SECONDS"), &cfg.PruneInterval)
	applyDurationHours(os.Getenv("ALERT_COOLDOWN_HOURS"), &cfg.AlertCooldown)
	applyDurationHours(os.Getenv("RETENTION_HOURS"), &cfg.Retention)
	applyDurationDays(os.Getenv("LOOKBACK_DAYS"), &cfg.Lookback)

	if v := os.Getenv("TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TopN = n
		}
	}
	if v := os.Getenv("MIN_VOLUME_QUOTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinVolumeQuote = f
		}
	}
	if v := os.Getenv("MIN_OI_VALUE_QUOTE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinOIValue = f
		}
	}
	if v := os.Getenv("SCORE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScoreThreshold = n
		}
	}

	return cfg, nil
}

// DatabaseDSN appends sslmode to DatabaseURL for use with lib/pq, since the
// mode is resolved separately from APP_ENV and may not already be present in
// the URL.
func (c Config) DatabaseDSN() string {
	if c.DatabaseURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(c.DatabaseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssslmode=%s", c.DatabaseURL, sep, c.DBSSLMode)
}

func applyDurationSeconds(v string, dst *time.Duration) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func applyDurationHours(v string, dst *time.Duration) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Hour
	}
}

func applyDurationDays(v string, dst *time.Duration) {
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * 24 * time.Hour
	}
}
