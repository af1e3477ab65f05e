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

// Config holds all configuration for the service and its workers.
type Config struct {
	General       GeneralConfig       `mapstructure:"general"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Scan          ScanConfig          `mapstructure:"scan"`
	Search        SearchConfig        `mapstructure:"search"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Environment string `mapstructure:"environment"`
	LogPrefix   string `mapstructure:"log_prefix"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string   `mapstructure:"address"`
	JWTSecret     string   `mapstructure:"jwt_secret"`
	WebhookSecret string   `mapstructure:"webhook_secret"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret required")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr joins host and port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
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

// ScanConfig tunes scan passes, the job queue and the scheduler.
type ScanConfig struct {
	Cron            string        `mapstructure:"cron"`
	Concurrency     int           `mapstructure:"concurrency"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxContentChars int           `mapstructure:"max_content_chars"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	InflightTTL     time.Duration `mapstructure:"inflight_ttl"`
	JobStream       string        `mapstructure:"job_stream"`
	JobGroup        string        `mapstructure:"job_group"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	ClaimIdle       time.Duration `mapstructure:"claim_idle"`
	// DisableEmbeddedWorker stops serve from consuming scan jobs itself.
	// Scans then run only in separate worker processes.
	DisableEmbeddedWorker bool `mapstructure:"disable_embedded_worker"`
}

// Normalize applies defaults for unset scan values.
func (s ScanConfig) Normalize() ScanConfig {
	if strings.TrimSpace(s.Cron) == "" {
		s.Cron = "0 * * * *"
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 8
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = 30 * time.Second
	}
	if s.MaxContentChars <= 0 {
		s.MaxContentChars = 500000
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 2 * time.Minute
	}
	if s.InflightTTL <= 0 {
		s.InflightTTL = time.Hour
	}
	if s.JobStream == "" {
		s.JobStream = "scan.jobs"
	}
	if s.JobGroup == "" {
		s.JobGroup = "scan-workers"
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.ClaimIdle <= 0 {
		s.ClaimIdle = 5 * time.Minute
	}
	return s
}

func (s ScanConfig) Validate() error {
	if _, err := cronexpr.Parse(s.Cron); err != nil {
		return fmt.Errorf("scan.cron: %w", err)
	}
	if s.ClaimIdle < s.FetchTimeout {
		return fmt.Errorf("scan.claim_idle must be at least scan.fetch_timeout")
	}
	// A job reclaimed from a live worker would queue behind that worker's
	// lock; the lock must be renewed well inside the claim window.
	if s.ClaimIdle < s.LockTTL {
		return fmt.Errorf("scan.claim_idle must be at least scan.lock_ttl")
	}
	return nil
}

// SearchConfig locates the full-text index. An empty path keeps it in memory.
type SearchConfig struct {
	IndexPath string `mapstructure:"index_path"`
}

// FetchConfig holds credentials for the content sources.
type FetchConfig struct {
	UserAgent             string        `mapstructure:"user_agent"`
	Timeout               time.Duration `mapstructure:"timeout"`
	ChromedpEnabled       bool          `mapstructure:"chromedp_enabled"`
	GitHubToken           string        `mapstructure:"github_token"`
	GitHubBaseURL         string        `mapstructure:"github_base_url"`
	NotionToken           string        `mapstructure:"notion_token"`
	NotionBaseURL         string        `mapstructure:"notion_base_url"`
	ConfluenceBaseURL     string        `mapstructure:"confluence_base_url"`
	ConfluenceUser        string        `mapstructure:"confluence_user"`
	ConfluenceToken       string        `mapstructure:"confluence_token"`
	GoogleCredentialsFile string        `mapstructure:"google_credentials_file"`
}

func (f FetchConfig) Normalize() FetchConfig {
	if strings.TrimSpace(f.UserAgent) == "" {
		f.UserAgent = "docwatch/1.0"
	}
	if f.Timeout <= 0 {
		f.Timeout = 20 * time.Second
	}
	return f
}

func (f FetchConfig) Validate() error {
	if f.ConfluenceBaseURL != "" && (f.ConfluenceUser == "" || f.ConfluenceToken == "") {
		return fmt.Errorf("fetch.confluence_user and fetch.confluence_token required with fetch.confluence_base_url")
	}
	return nil
}

// NotificationsConfig configures the automation destinations.
type NotificationsConfig struct {
	SlackToken     string        `mapstructure:"slack_token"`
	SlackAPIBase   string        `mapstructure:"slack_api_base"`
	SMTPHost       string        `mapstructure:"smtp_host"`
	SMTPPort       int           `mapstructure:"smtp_port"`
	SMTPUser       string        `mapstructure:"smtp_user"`
	SMTPPassword   string        `mapstructure:"smtp_password"`
	SMTPFrom       string        `mapstructure:"smtp_from"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

func (n NotificationsConfig) Normalize() NotificationsConfig {
	if n.SMTPPort <= 0 {
		n.SMTPPort = 587
	}
	if n.WebhookTimeout <= 0 {
		n.WebhookTimeout = 10 * time.Second
	}
	return n
}

func (n NotificationsConfig) Validate() error {
	if n.SMTPHost != "" && strings.TrimSpace(n.SMTPFrom) == "" {
		return fmt.Errorf("notifications.smtp_from required with notifications.smtp_host")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// Normalize fills defaults across all sections.
func (c *Config) Normalize() {
	c.Scan = c.Scan.Normalize()
	c.Fetch = c.Fetch.Normalize()
	c.Notifications = c.Notifications.Normalize()
	if c.Server.Address == "" {
		c.Server.Address = ":10001"
	}
	if c.Storage.Postgres.Port == "" {
		c.Storage.Postgres.Port = "5432"
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "docwatch"
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		c.Server, c.Storage.Redis, c.Storage.Postgres, c.Scan, c.Fetch, c.Notifications,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration from path, or from config.json in the usual
// locations when path is empty, overlaid with DOCWATCH_* environment
// variables. A missing config file is fine when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/docwatch")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("DOCWATCH")
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
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv registers every key so AutomaticEnv picks it up during Unmarshal
// even when the config file does not mention it.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"general.environment", "general.log_prefix",
		"server.address", "server.jwt_secret", "server.webhook_secret", "server.cors_origins",
		"storage.redis.host", "storage.redis.port", "storage.redis.password", "storage.redis.db",
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.port", "storage.postgres.user",
		"storage.postgres.password", "storage.postgres.dbname", "storage.postgres.sslmode",
		"scan.cron", "scan.concurrency", "scan.fetch_timeout", "scan.max_content_chars", "scan.lock_ttl",
		"scan.inflight_ttl", "scan.job_stream", "scan.job_group", "scan.max_attempts", "scan.claim_idle",
		"scan.disable_embedded_worker",
		"search.index_path",
		"fetch.user_agent", "fetch.timeout", "fetch.chromedp_enabled", "fetch.github_token", "fetch.github_base_url",
		"fetch.notion_token", "fetch.notion_base_url", "fetch.confluence_base_url", "fetch.confluence_user",
		"fetch.confluence_token", "fetch.google_credentials_file",
		"notifications.slack_token", "notifications.slack_api_base", "notifications.smtp_host",
		"notifications.smtp_port", "notifications.smtp_user", "notifications.smtp_password",
		"notifications.smtp_from", "notifications.webhook_timeout",
		"telemetry.metrics_enabled", "telemetry.service_name",
	} {
		_ = v.BindEnv(key)
	}
}
