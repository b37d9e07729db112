package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for doorman tooling
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Query     QueryConfig     `mapstructure:"query"`
	Export    ExportConfig    `mapstructure:"export"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// Verbose reports whether per-operation diagnostics should be logged.
func (g GeneralConfig) Verbose() bool {
	return g.Debug || strings.EqualFold(strings.TrimSpace(g.LogLevel), "debug")
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, preferring an explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// QueryConfig controls pagination defaults for the query engine.
type QueryConfig struct {
	DefaultPerPage int `mapstructure:"default_per_page"`
	MaxPerPage     int `mapstructure:"max_per_page"`
}

func (q QueryConfig) Normalize() QueryConfig {
	if q.DefaultPerPage <= 0 {
		q.DefaultPerPage = 20
	}
	if q.MaxPerPage <= 0 {
		q.MaxPerPage = 500
	}
	if q.DefaultPerPage > q.MaxPerPage {
		q.DefaultPerPage = q.MaxPerPage
	}
	return q
}

// ClampPerPage keeps a caller-supplied page size within bounds. Zero selects
// the default; negative values are passed through so the engine rejects them.
func (q QueryConfig) ClampPerPage(n int) int {
	switch {
	case n == 0:
		return q.DefaultPerPage
	case n > q.MaxPerPage:
		return q.MaxPerPage
	}
	return n
}

// ExportConfig configures result forwarding.
type ExportConfig struct {
	FilePath    string        `mapstructure:"file_path"`
	RedisStream string        `mapstructure:"redis_stream"`
	MaxLen      int64         `mapstructure:"max_len"`
	BatchSize   int           `mapstructure:"batch_size"`
	Schedule    string        `mapstructure:"schedule"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

func (e ExportConfig) Normalize() ExportConfig {
	if e.BatchSize <= 0 {
		e.BatchSize = 100
	}
	if e.LockTTL <= 0 {
		e.LockTTL = 2 * time.Minute
	}
	return e
}

func (e ExportConfig) Validate() error {
	if s := strings.TrimSpace(e.Schedule); s != "" {
		if _, err := cronexpr.Parse(s); err != nil {
			return fmt.Errorf("export.schedule: %w", err)
		}
	}
	if e.MaxLen < 0 {
		return fmt.Errorf("export.max_len cannot be negative")
	}
	return nil
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

func (t TelemetryConfig) Normalize() TelemetryConfig {
	if t.JobName == "" {
		t.JobName = "doorman"
	}
	return t
}

// Load reads configuration from path, or from the usual search locations
// when path is empty. A missing config file is not an error when searching;
// defaults and DOORMAN_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	v.SetDefault("general.log_level", "info")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 10*time.Second)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("query.default_per_page", 20)
	v.SetDefault("query.max_per_page", 500)
	v.SetDefault("export.batch_size", 100)
	v.SetDefault("export.lock_ttl", 2*time.Minute)
	v.SetDefault("telemetry.job_name", "doorman")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DOORMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Query = cfg.Query.Normalize()
	cfg.Export = cfg.Export.Normalize()
	cfg.Telemetry = cfg.Telemetry.Normalize()

	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Export.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so keys without
// defaults are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"general.debug",
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.user",
		"storage.postgres.password", "storage.postgres.dbname",
		"storage.redis.host", "storage.redis.password", "storage.redis.db",
		"export.file_path", "export.redis_stream", "export.max_len", "export.schedule",
		"telemetry.enabled", "telemetry.metrics_addr", "telemetry.pushgateway_url",
	} {
		_ = v.BindEnv(key)
	}
}
