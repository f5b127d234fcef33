package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the leadgen service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Meta       MetaConfig
	Pacing     PacingConfig
	Analytics  AnalyticsConfig
	Routes     []RouteConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	// Listen relays trigger notifications into the change feed.
	Listen bool
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig selects ClickHouse for ad performance rows.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     []string
	Database string
	Username string
	Password string
}

type SessionConfig struct {
	AdminPassword string
	TTL           time.Duration
}

type RateLimitConfig struct {
	Enabled    bool
	LeadRPS    float64
	LeadBurst  int
	AdminRPS   float64
	AdminBurst int
	// TrustedProxies are addresses or CIDR ranges whose forwarding headers
	// are believed.  Empty means the socket peer is always the client.
	TrustedProxies  []string
	CleanupInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// MetaConfig configures the Meta Graph API sync.  Credentials are not part
// of it; they are read from the environment on every invocation.
type MetaConfig struct {
	GraphURL         string
	APIVersion       string
	Timeout          time.Duration
	AutoSync         bool
	AutoSyncInterval time.Duration
	AutoSyncDays     int
}

// PacingConfig is the quarterly plan the weekly report is measured against.
type PacingConfig struct {
	Start           time.Time `yaml:"start"`
	Weeks           int       `yaml:"weeks"`
	WeeklySQLTarget float64   `yaml:"weekly_sql_target"`
	WeeklySpend     float64   `yaml:"weekly_spend"`
}

// AnalyticsConfig tunes report computation.
type AnalyticsConfig struct {
	// SQLExcludedTypes are lead types that never count as sales qualified.
	SQLExcludedTypes []string
	CacheTTL         time.Duration
}

// RouteConfig maps a landing page path to its lead magnet and language.
type RouteConfig struct {
	Path     string `yaml:"path"`
	Type     string `yaml:"type"`
	Language string `yaml:"language"`
}

// fileOverlay is the subset of settings that can come from the YAML file.
type fileOverlay struct {
	Pacing           *PacingConfig `yaml:"pacing"`
	Routes           []RouteConfig `yaml:"routes"`
	SQLExcludedTypes []string      `yaml:"sql_excluded_types"`
}

// Load reads configuration from environment variables with sensible
// defaults, then applies the optional YAML file named by
// LEADGEN_CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("LEADGEN_HTTP_ADDR", ":8080"),
			Env:             getEnv("LEADGEN_ENV", "development"),
			ShutdownTimeout: getDurationEnv("LEADGEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("LEADGEN_DB_ENABLED", true),
			Host:     getEnv("LEADGEN_DB_HOST", "localhost"),
			Port:     getIntEnv("LEADGEN_DB_PORT", 5432),
			User:     getEnv("LEADGEN_DB_USER", "leadgen"),
			Password: getEnv("LEADGEN_DB_PASSWORD", "leadgen_secret"),
			DBName:   getEnv("LEADGEN_DB_NAME", "leadgen"),
			SSLMode:  getEnv("LEADGEN_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("LEADGEN_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("LEADGEN_DB_MIN_CONNS", 2),
			Listen:   getBoolEnv("LEADGEN_DB_LISTEN", true),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("LEADGEN_REDIS_ENABLED", true),
			Addr:     getEnv("LEADGEN_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("LEADGEN_REDIS_PASSWORD", ""),
			DB:       getIntEnv("LEADGEN_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("LEADGEN_CLICKHOUSE_ENABLED", false),
			Addr:     getSliceEnv("LEADGEN_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database: getEnv("LEADGEN_CLICKHOUSE_DB", "leadgen"),
			Username: getEnv("LEADGEN_CLICKHOUSE_USER", "default"),
			Password: getEnv("LEADGEN_CLICKHOUSE_PASSWORD", ""),
		},
		Session: SessionConfig{
			AdminPassword: getEnv("LEADGEN_ADMIN_PASSWORD", ""),
			TTL:           getDurationEnv("LEADGEN_SESSION_TTL", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getBoolEnv("LEADGEN_RATE_LIMIT_ENABLED", true),
			LeadRPS:         getFloatEnv("LEADGEN_RATE_LIMIT_LEAD_RPS", 2),
			LeadBurst:       getIntEnv("LEADGEN_RATE_LIMIT_LEAD_BURST", 10),
			AdminRPS:        getFloatEnv("LEADGEN_RATE_LIMIT_ADMIN_RPS", 50),
			AdminBurst:      getIntEnv("LEADGEN_RATE_LIMIT_ADMIN_BURST", 20),
			TrustedProxies:  getSliceEnv("LEADGEN_TRUSTED_PROXIES", nil),
			CleanupInterval: getDurationEnv("LEADGEN_RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LEADGEN_LOG_LEVEL", "info"),
			Format: getEnv("LEADGEN_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("LEADGEN_METRICS_ENABLED", true),
			Path:    getEnv("LEADGEN_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("LEADGEN_GEO_ENABLED", false),
			DatabasePath: getEnv("LEADGEN_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Meta: MetaConfig{
			GraphURL:         getEnv("LEADGEN_META_GRAPH_URL", "https://graph.facebook.com"),
			APIVersion:       getEnv("LEADGEN_META_API_VERSION", "v19.0"),
			Timeout:          getDurationEnv("LEADGEN_META_TIMEOUT", 30*time.Second),
			AutoSync:         getBoolEnv("LEADGEN_META_AUTO_SYNC", false),
			AutoSyncInterval: getDurationEnv("LEADGEN_META_AUTO_SYNC_INTERVAL", 24*time.Hour),
			AutoSyncDays:     getIntEnv("LEADGEN_META_AUTO_SYNC_DAYS", 7),
		},
		Pacing: PacingConfig{
			Start:           getDateEnv("LEADGEN_PACING_START", time.Time{}),
			Weeks:           getIntEnv("LEADGEN_PACING_WEEKS", 13),
			WeeklySQLTarget: getFloatEnv("LEADGEN_PACING_WEEKLY_SQL_TARGET", 0),
			WeeklySpend:     getFloatEnv("LEADGEN_PACING_WEEKLY_SPEND", 0),
		},
		Analytics: AnalyticsConfig{
			SQLExcludedTypes: getSliceEnv("LEADGEN_SQL_EXCLUDED_TYPES", []string{"trend_guide"}),
			CacheTTL:         getDurationEnv("LEADGEN_REPORT_CACHE_TTL", 5*time.Minute),
		},
	}

	if path := getEnv("LEADGEN_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.applyOverlay(data)
}

func (c *Config) applyOverlay(data []byte) error {
	var ov fileOverlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if ov.Pacing != nil {
		if !ov.Pacing.Start.IsZero() {
			c.Pacing.Start = ov.Pacing.Start
		}
		if ov.Pacing.Weeks > 0 {
			c.Pacing.Weeks = ov.Pacing.Weeks
		}
		if ov.Pacing.WeeklySQLTarget > 0 {
			c.Pacing.WeeklySQLTarget = ov.Pacing.WeeklySQLTarget
		}
		if ov.Pacing.WeeklySpend > 0 {
			c.Pacing.WeeklySpend = ov.Pacing.WeeklySpend
		}
	}
	if len(ov.Routes) > 0 {
		c.Routes = ov.Routes
	}
	if ov.SQLExcludedTypes != nil {
		c.Analytics.SQLExcludedTypes = ov.SQLExcludedTypes
	}
	return nil
}

var leadTypes = map[string]bool{
	"sample_pack":   true,
	"lookbook":      true,
	"discount_code": true,
	"trend_guide":   true,
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Session.AdminPassword == "" && !c.IsDevelopment() {
		return fmt.Errorf("LEADGEN_ADMIN_PASSWORD is required outside development")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("LEADGEN_SESSION_TTL must be positive")
	}
	if c.Pacing.Weeks <= 0 {
		return fmt.Errorf("pacing weeks must be positive, got %d", c.Pacing.Weeks)
	}
	if c.RateLimit.Enabled && c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("LEADGEN_RATE_LIMIT_CLEANUP_INTERVAL must be positive")
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if _, err := ParseProxy(p); err != nil {
			return fmt.Errorf("LEADGEN_TRUSTED_PROXIES: %w", err)
		}
	}
	if c.Meta.AutoSyncDays < 1 {
		return fmt.Errorf("LEADGEN_META_AUTO_SYNC_DAYS must be at least 1")
	}
	if c.Meta.AutoSync && c.Meta.AutoSyncInterval <= 0 {
		return fmt.Errorf("LEADGEN_META_AUTO_SYNC_INTERVAL must be positive")
	}
	for _, t := range c.Analytics.SQLExcludedTypes {
		if !leadTypes[t] {
			return fmt.Errorf("unknown lead type %q in SQL exclusions", t)
		}
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("route path %q must start with /", r.Path)
		}
		if !leadTypes[r.Type] {
			return fmt.Errorf("route %s: unknown lead type %q", r.Path, r.Type)
		}
		if r.Language != "nl" && r.Language != "fr" {
			return fmt.Errorf("route %s: language must be nl or fr", r.Path)
		}
	}
	return nil
}

// ParseProxy parses a trusted proxy given as a single address or a CIDR range.
func ParseProxy(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid proxy range %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid proxy address %q: %w", s, err)
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getDateEnv(key string, def time.Time) time.Time {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return t
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
