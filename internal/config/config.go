package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		Enabled          bool   `yaml:"enabled"`
		TimeLimitMinutes int    `yaml:"time_limit_minutes"`
		CacheTTL         string `yaml:"cache_ttl"`
	} `yaml:"quiz"`
	Sheets struct {
		Endpoint      string `yaml:"endpoint"`
		APIKey        string `yaml:"api_key"`
		PracticeSheet string `yaml:"practice_sheet"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"sheets"`
	Retry struct {
		Interval string `yaml:"interval"`
	} `yaml:"retry"`
}

// Load reads YAML config from path. Secrets may be overridden through the
// environment so config files can stay credential-free.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if v := os.Getenv("SHEETS_API_KEY"); v != "" {
		cfg.Sheets.APIKey = v
	}
	if v := os.Getenv("SHEETS_ENDPOINT"); v != "" {
		cfg.Sheets.Endpoint = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	return cfg, nil
}

// ValidateSheets fails fast when the submitter credentials are incomplete.
// Operating with wrong or missing credentials risks corrupting the result
// sheet, so there is no silent default.
func (c Config) ValidateSheets() error {
	if c.Sheets.Endpoint == "" {
		return fmt.Errorf("sheets endpoint not configured")
	}
	if c.Sheets.APIKey == "" {
		return fmt.Errorf("sheets api key not configured")
	}
	return nil
}

// TimeLimit converts the configured minutes into the session time limit.
func (c Config) TimeLimit() time.Duration {
	if c.Quiz.TimeLimitMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Quiz.TimeLimitMinutes) * time.Minute
}

// TTLDuration parses a duration string or returns the fallback if empty or
// malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
