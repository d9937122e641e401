// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultTTLDays is used when cache.ttl_days is missing, non-numeric or not positive.
const DefaultTTLDays = 10

// EnvPrefix namespaces environment overrides (GATEWAY_STORE_URL, ...).
const EnvPrefix = "GATEWAY"

// Config captures all service configuration knobs loaded via Viper. It is
// built once at startup and passed by value.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig describes the running service.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Development bool   `mapstructure:"development"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int   `mapstructure:"port"`
	RequestTimeoutSeconds  int   `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int   `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig holds the accepted shared secrets.
type AuthConfig struct {
	SecretKeys []string `mapstructure:"secret_keys"`
}

// CacheConfig governs key derivation and expiry.
type CacheConfig struct {
	// TTLDays is kept raw so a malformed value falls back instead of failing startup.
	TTLDays          string `mapstructure:"ttl_days"`
	KeyAlgorithm     string `mapstructure:"key_algorithm"`
	CoalesceInflight bool   `mapstructure:"coalesce_inflight"`
}

// StoreConfig selects and addresses the article store backend.
type StoreConfig struct {
	Backend   string          `mapstructure:"backend"`
	URL       string          `mapstructure:"url"`
	Token     string          `mapstructure:"token"`
	KeyPrefix string          `mapstructure:"key_prefix"`
	Bolt      BoltStoreConfig `mapstructure:"bolt"`
}

// BoltStoreConfig configures the embedded bbolt backend.
type BoltStoreConfig struct {
	Path         string `mapstructure:"path"`
	ReapSchedule string `mapstructure:"reap_schedule"`
}

// FetcherConfig configures the probe fetcher.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless escalation path.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ExtractConfig controls how article content is rendered.
type ExtractConfig struct {
	ContentFormat string `mapstructure:"content_format"`
}

// ArchiveConfig sets where raw pages are archived on a miss.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DatabaseConfig controls access to the retrieval log database.
type DatabaseConfig struct {
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	ConnectTimeout int    `mapstructure:"connect_timeout_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig toggles tracing exporters.
type TelemetryConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.Auth.SecretKeys = ParseSecretKeys(cfg.Auth.SecretKeys)

	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.service_name", "article-gateway")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.development", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("auth.secret_keys", []string{})
	v.SetDefault("cache.ttl_days", strconv.Itoa(DefaultTTLDays))
	v.SetDefault("cache.key_algorithm", "sha256")
	v.SetDefault("cache.coalesce_inflight", true)
	v.SetDefault("store.backend", "redis")
	v.SetDefault("store.url", "")
	v.SetDefault("store.token", "")
	v.SetDefault("store.key_prefix", "article:")
	v.SetDefault("store.bolt.path", "articles.db")
	v.SetDefault("store.bolt.reap_schedule", "@every 5m")
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("extract.content_format", "html")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "retrievals")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.connect_timeout_seconds", 10)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.project_id", "")
}

// ParseSecretKeys flattens comma-separated entries, trims them and drops blanks.
func ParseSecretKeys(raw []string) []string {
	keys := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				keys = append(keys, part)
			}
		}
	}
	return keys
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	switch strings.ToLower(c.Cache.KeyAlgorithm) {
	case "", "sha256", "blake3":
	default:
		return fmt.Errorf("cache.key_algorithm must be sha256 or blake3")
	}
	switch c.Store.Backend {
	case "redis", "memory":
	case "bolt":
		if c.Store.Bolt.Path == "" {
			return fmt.Errorf("store.bolt.path must be set when store.backend is bolt")
		}
	default:
		return fmt.Errorf("store.backend must be one of redis, bolt, memory")
	}
	if c.Store.URL != "" && !strings.HasPrefix(c.Store.URL, "redis://") && !strings.HasPrefix(c.Store.URL, "rediss://") {
		return fmt.Errorf("store.url must use the redis:// or rediss:// scheme")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Extract.ContentFormat {
	case "html", "markdown", "text":
	default:
		return fmt.Errorf("extract.content_format must be one of html, markdown, text")
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Production reports whether caller-facing errors must be sanitized.
func (c Config) Production() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// maxTTLDays is the largest day count a time.Duration can hold.
const maxTTLDays = math.MaxInt64 / int64(24*time.Hour)

// TTLDays parses cache.ttl_days as a decimal day count. Anything else,
// including non-positive values and values past maxTTLDays, falls back to
// DefaultTTLDays.
func (c Config) TTLDays() int {
	raw := strings.TrimSpace(c.Cache.TTLDays)
	if raw == "" || strings.TrimFunc(raw, isDecimalDigit) != "" {
		return DefaultTTLDays
	}
	// cast reads a leading 0 as octal.
	raw = strings.TrimLeft(raw, "0")
	if raw == "" {
		return DefaultTTLDays
	}
	days, err := cast.ToInt64E(raw)
	if err != nil || days <= 0 || days > maxTTLDays {
		return DefaultTTLDays
	}
	return int(days)
}

func isDecimalDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// TTL returns the cache entry lifetime.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLDays()) * 24 * time.Hour
}

// FetchTimeout returns the probe fetcher budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RequestTimeout is the http.Server write deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
