// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"epipanel/internal/dataset"
	"epipanel/internal/storage"
)

// Config holds the application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Cache        CacheConfig        `yaml:"cache"`
	Municipality MunicipalityConfig `yaml:"municipality"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Storage      StorageConfig      `yaml:"storage"`
	LogLevel     string             `yaml:"log_level"`
	DemoMode     bool               `yaml:"demo_mode"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// CacheConfig holds dataset cache configuration.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// MunicipalityConfig identifies the municipality the panel covers.
type MunicipalityConfig struct {
	// Code is the 7-digit IBGE municipality code.
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	UF   string `yaml:"uf"`
}

// RefreshConfig controls what a refresh run covers and when scheduled
// runs fire.
type RefreshConfig struct {
	Systems   []string `yaml:"systems"`
	StartYear int      `yaml:"start_year"`
	// EndYear of 0 means the current year.
	EndYear       int    `yaml:"end_year"`
	RetentionDays int    `yaml:"retention_days"`
	Weekday       string `yaml:"weekday"`
	At            string `yaml:"at"`
}

// ProvidersConfig holds the upstream API endpoints.
type ProvidersConfig struct {
	DATASUSBaseURL   string `yaml:"datasus_base_url"`
	IBGELocalidades  string `yaml:"ibge_localidades_url"`
	IBGEMalhas       string `yaml:"ibge_malhas_url"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_seconds"`
}

// StorageConfig selects the run-history database backend.
type StorageConfig struct {
	Type          string `yaml:"type"`
	SQLitePath    string `yaml:"sqlite_path"`
	PostgresURL   string `yaml:"postgres_url"`
	MongoURL      string `yaml:"mongo_url"`
	MongoDatabase string `yaml:"mongo_database"`
}

// Load reads configuration from an optional YAML file and the
// environment. A .env file in the working directory is loaded first;
// environment variables override file values.
func Load() (*Config, error) {
	// Optional; absence is not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if path := getenv("EPIPANEL_CONFIG", "config.yaml"); path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Cache:  CacheConfig{Dir: "data/cache"},
		Municipality: MunicipalityConfig{
			Code: "2601201",
			Name: "Arcoverde",
			UF:   "PE",
		},
		Refresh: RefreshConfig{
			Systems:       []string{"SIM", "SINAN", "SINASC"},
			StartYear:     2020,
			RetentionDays: 90,
			Weekday:       "sunday",
			At:            "03:00",
		},
		Providers: ProvidersConfig{
			FetchTimeoutSecs: 120,
		},
		Storage: StorageConfig{
			Type:          storage.TypeSQLite,
			SQLitePath:    storage.DefaultSQLitePath,
			MongoDatabase: "epipanel",
		},
		LogLevel: "info",
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "EPIPANEL_PORT", "PORT")
	setString(&cfg.Cache.Dir, "EPIPANEL_CACHE_DIR")
	setString(&cfg.Municipality.Code, "EPIPANEL_MUNICIPALITY_CODE")
	setString(&cfg.Municipality.Name, "EPIPANEL_MUNICIPALITY_NAME")
	setString(&cfg.Municipality.UF, "EPIPANEL_MUNICIPALITY_UF")
	setInt(&cfg.Refresh.StartYear, "EPIPANEL_START_YEAR")
	setInt(&cfg.Refresh.EndYear, "EPIPANEL_END_YEAR")
	setInt(&cfg.Refresh.RetentionDays, "EPIPANEL_RETENTION_DAYS")
	setString(&cfg.Refresh.Weekday, "EPIPANEL_REFRESH_WEEKDAY")
	setString(&cfg.Refresh.At, "EPIPANEL_REFRESH_AT")
	setString(&cfg.Providers.DATASUSBaseURL, "EPIPANEL_DATASUS_BASE_URL")
	setString(&cfg.Providers.IBGELocalidades, "EPIPANEL_IBGE_LOCALIDADES_URL")
	setString(&cfg.Providers.IBGEMalhas, "EPIPANEL_IBGE_MALHAS_URL")
	setInt(&cfg.Providers.FetchTimeoutSecs, "EPIPANEL_FETCH_TIMEOUT_SECONDS")
	setString(&cfg.Storage.Type, "EPIPANEL_STORAGE_TYPE")
	setString(&cfg.Storage.SQLitePath, "EPIPANEL_SQLITE_PATH")
	setString(&cfg.Storage.PostgresURL, "EPIPANEL_POSTGRES_URL")
	setString(&cfg.Storage.MongoURL, "EPIPANEL_MONGO_URL")
	setString(&cfg.Storage.MongoDatabase, "EPIPANEL_MONGO_DATABASE")
	setString(&cfg.LogLevel, "EPIPANEL_LOG_LEVEL")
	setBool(&cfg.DemoMode, "EPIPANEL_DEMO_MODE")

	if v := os.Getenv("EPIPANEL_SYSTEMS"); v != "" {
		parts := strings.Split(v, ",")
		systems := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				systems = append(systems, p)
			}
		}
		if len(systems) > 0 {
			cfg.Refresh.Systems = systems
		}
	}
}

// Validate checks the configuration for values the application cannot
// start with.
func (c *Config) Validate() error {
	if len(c.Municipality.Code) != 7 {
		return fmt.Errorf("municipality code must be a 7-digit IBGE code, got %q", c.Municipality.Code)
	}
	if _, err := strconv.Atoi(c.Municipality.Code); err != nil {
		return fmt.Errorf("municipality code must be numeric, got %q", c.Municipality.Code)
	}
	if len(c.Refresh.Systems) == 0 {
		return fmt.Errorf("at least one source system must be configured")
	}
	if _, err := c.Systems(); err != nil {
		return err
	}
	if _, err := c.Weekday(); err != nil {
		return err
	}
	if _, _, err := c.RefreshAt(); err != nil {
		return err
	}
	if c.Refresh.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	return nil
}

// Systems returns the configured source systems as typed values.
func (c *Config) Systems() ([]dataset.System, error) {
	out := make([]dataset.System, 0, len(c.Refresh.Systems))
	for _, raw := range c.Refresh.Systems {
		s := dataset.System(strings.ToUpper(strings.TrimSpace(raw)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown source system %q (valid: SIM, SINAN, SINASC)", raw)
		}
		out = append(out, s)
	}
	return out, nil
}

// Weekday parses the configured refresh weekday.
func (c *Config) Weekday() (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(c.Refresh.Weekday)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday %q", c.Refresh.Weekday)
	}
}

// RefreshAt parses the configured HH:MM refresh time.
func (c *Config) RefreshAt() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Refresh.At))
	if err != nil {
		return 0, 0, fmt.Errorf("refresh time must be HH:MM, got %q", c.Refresh.At)
	}
	return t.Hour(), t.Minute(), nil
}

// Retention returns the cache retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Refresh.RetentionDays) * 24 * time.Hour
}

// FetchTimeout returns the per-request provider timeout.
func (c *Config) FetchTimeout() time.Duration {
	if c.Providers.FetchTimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Providers.FetchTimeoutSecs) * time.Second
}

// StorageConfig converts the flat YAML storage section to the storage
// package's configuration.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Type: c.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: c.Storage.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL: c.Storage.PostgresURL,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      c.Storage.MongoURL,
			Database: c.Storage.MongoDatabase,
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
