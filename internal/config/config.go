// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendMinio  = "minio"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Results    ResultsConfig    `mapstructure:"results"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	StaticDir             string `mapstructure:"static_dir"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// JobsConfig governs the job driver.
type JobsConfig struct {
	DefaultConcurrency int `mapstructure:"default_concurrency"`
	MaxConcurrency     int `mapstructure:"max_concurrency"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
}

// ScreenshotConfig configures the headless browser capture.
type ScreenshotConfig struct {
	Headless       bool    `mapstructure:"headless"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	WaitMs         int     `mapstructure:"wait_ms"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
	ImageFormat    string  `mapstructure:"image_format"`
	FullPage       bool    `mapstructure:"full_page"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
}

// SitemapConfig configures sitemap and URL list fetching.
type SitemapConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxDepth       int    `mapstructure:"max_depth"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StorageConfig selects where screenshots and archives live.
type StorageConfig struct {
	Backend           string      `mapstructure:"backend"`
	TmpDir            string      `mapstructure:"tmp_dir"`
	ScreenshotsPrefix string      `mapstructure:"screenshots_prefix"`
	GCSBucket         string      `mapstructure:"gcs_bucket"`
	Minio             MinioConfig `mapstructure:"minio"`
}

// MinioConfig holds S3-compatible connection settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// ResultsConfig controls where settled items are recorded. The CSV file is
// always written under storage.tmp_dir; a DSN adds a Postgres table.
type ResultsConfig struct {
	DB DBConfig `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int    `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig controls the downloadable bundle.
type ArchiveConfig struct {
	IncludeXLSX bool `mapstructure:"include_xlsx"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCREENSHOTTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Screenshot.ImageFormat = strings.ToLower(strings.TrimSpace(cfg.Screenshot.ImageFormat))
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.static_dir", "client/dist")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("jobs.default_concurrency", 3)
	v.SetDefault("jobs.max_concurrency", 20)
	v.SetDefault("jobs.poll_interval_ms", 500)
	v.SetDefault("screenshot.headless", true)
	v.SetDefault("screenshot.max_parallel", 20)
	v.SetDefault("screenshot.wait_ms", 1000)
	v.SetDefault("screenshot.viewport_width", 1920)
	v.SetDefault("screenshot.viewport_height", 1080)
	v.SetDefault("screenshot.image_format", "png")
	v.SetDefault("screenshot.full_page", true)
	v.SetDefault("screenshot.timeout_seconds", 30)
	v.SetDefault("screenshot.user_agent", "")
	v.SetDefault("screenshot.domain_qps", 0)
	v.SetDefault("sitemap.timeout_seconds", 30)
	v.SetDefault("sitemap.max_depth", 3)
	v.SetDefault("sitemap.user_agent", "sitemap-screenshotter/1.0")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.tmp_dir", "tmp")
	v.SetDefault("storage.screenshots_prefix", "screenshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.bucket", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.use_ssl", true)
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("results.db.dsn", "")
	v.SetDefault("results.db.table", "screenshot_results")
	v.SetDefault("results.db.max_conns", 4)
	v.SetDefault("results.db.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.include_xlsx", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Jobs.DefaultConcurrency <= 0 {
		return fmt.Errorf("jobs.default_concurrency must be > 0")
	}
	if c.Jobs.MaxConcurrency > 0 && c.Jobs.MaxConcurrency < c.Jobs.DefaultConcurrency {
		return fmt.Errorf("jobs.max_concurrency must be >= jobs.default_concurrency")
	}
	if c.Jobs.PollIntervalMs <= 0 {
		return fmt.Errorf("jobs.poll_interval_ms must be > 0")
	}
	if c.Screenshot.TimeoutSeconds <= 0 {
		return fmt.Errorf("screenshot.timeout_seconds must be > 0")
	}
	if c.Screenshot.MaxParallel <= 0 {
		return fmt.Errorf("screenshot.max_parallel must be > 0")
	}
	if c.Screenshot.ViewportWidth <= 0 || c.Screenshot.ViewportHeight <= 0 {
		return fmt.Errorf("screenshot.viewport_width and screenshot.viewport_height must be > 0")
	}
	switch c.Screenshot.ImageFormat {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("screenshot.image_format must be png or jpg, got %q", c.Screenshot.ImageFormat)
	}
	if c.Screenshot.DomainQPS < 0 {
		return fmt.Errorf("screenshot.domain_qps must be >= 0")
	}
	if c.Sitemap.TimeoutSeconds <= 0 {
		return fmt.Errorf("sitemap.timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Storage.TmpDir) == "" {
		return fmt.Errorf("storage.tmp_dir must be set")
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket must be set for the minio backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// PollInterval returns the driver's fallback poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMs) * time.Millisecond
}

// CaptureTimeout returns the per-page capture budget.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Screenshot.TimeoutSeconds) * time.Second
}

// CaptureWait returns the post-load settle delay.
func (c Config) CaptureWait() time.Duration {
	return time.Duration(c.Screenshot.WaitMs) * time.Millisecond
}

// SitemapTimeout returns the sitemap request budget.
func (c Config) SitemapTimeout() time.Duration {
	return time.Duration(c.Sitemap.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ImageExt returns the screenshot file extension.
func (c Config) ImageExt() string {
	if c.Screenshot.ImageFormat == "jpeg" {
		return "jpg"
	}
	return c.Screenshot.ImageFormat
}

// ResultsDir returns the directory holding per-job CSV results.
func (c Config) ResultsDir() string {
	return filepath.Join(c.Storage.TmpDir, "results")
}

// ArchiveDir returns the directory holding generated zip archives.
func (c Config) ArchiveDir() string {
	return filepath.Join(c.Storage.TmpDir, "archives")
}

// BlobDir returns the local blob root for the local backend.
func (c Config) BlobDir() string {
	return filepath.Join(c.Storage.TmpDir, "blobs")
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
