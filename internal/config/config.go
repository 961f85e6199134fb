package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Backend names accepted in storage.backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendSwift  = "swift"
	BackendS3     = "s3"
)

// Shared cache tiers accepted in cache.shared.
const (
	SharedNone     = "none"
	SharedMemcache = "memcache"
	SharedLocal    = "local"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	Banner      string `yaml:"banner"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// MaxConsPerIP limits concurrent connections per remote address; 0 is unlimited.
	MaxConsPerIP int `yaml:"max_cons_per_ip"`

	// SplitLargeFilesMB is the large-object part size in units of 10^6 bytes; 0 disables splitting.
	SplitLargeFilesMB int `yaml:"split_large_files_mb"`

	APITimeout time.Duration `yaml:"api_timeout"`
}

// SplitSize returns the large-object part size in bytes.
func (g GlobalConfig) SplitSize() int64 {
	return int64(g.SplitLargeFilesMB) * 1000 * 1000
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	AuthURL string `yaml:"auth_url"`

	// AuthAttempts bounds authentication attempts on transient store errors.
	AuthAttempts int `yaml:"auth_attempts"`

	Swift  SwiftConfig  `yaml:"swift"`
	S3     S3Config     `yaml:"s3"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SwiftConfig holds OpenStack Swift and Keystone settings.
type SwiftConfig struct {
	AuthVersion     int    `yaml:"auth_version"`
	TenantSeparator string `yaml:"tenant_separator"`
	Region          string `yaml:"region"`
	EndpointType    string `yaml:"endpoint_type"`
	ServiceType     string `yaml:"service_type"`
}

// S3Config holds settings of S3-compatible stores.
type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	MaxRetries   int    `yaml:"max_retries"`
}

// SQLiteConfig holds the local database settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	MemcacheServers   []string      `yaml:"memcache_servers"`
	Shared            string        `yaml:"shared"`
	ListingTTL        time.Duration `yaml:"listing_ttl"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	CompressThreshold int           `yaml:"compress_threshold"`
	LocalEntries      int           `yaml:"local_entries"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			Banner:      "objectftp server ready",
			BindAddress: "127.0.0.1",
			Port:        2021,
			APITimeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:      BackendMemory,
			AuthAttempts: 3,
			Swift: SwiftConfig{
				AuthVersion:     1,
				TenantSeparator: ".",
				EndpointType:    "publicURL",
				ServiceType:     "object-store",
			},
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
			SQLite: SQLiteConfig{
				Path: "objectftp.db",
			},
		},
		Cache: CacheConfig{
			Shared:            SharedNone,
			ListingTTL:        10 * time.Second,
			TokenTTL:          24 * time.Hour,
			CompressThreshold: 4096,
			LocalEntries:      10000,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Port:      9102,
			Path:      "/metrics",
			Namespace: "objectftp",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies OBJECTFTP_* environment overrides.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("OBJECTFTP_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("OBJECTFTP_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("OBJECTFTP_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("OBJECTFTP_BIND_ADDRESS"); val != "" {
		c.Global.BindAddress = val
	}
	if err := envInt("OBJECTFTP_PORT", &c.Global.Port); err != nil {
		return err
	}
	if err := envInt("OBJECTFTP_MAX_CONS_PER_IP", &c.Global.MaxConsPerIP); err != nil {
		return err
	}
	if err := envInt("OBJECTFTP_SPLIT_LARGE_FILES", &c.Global.SplitLargeFilesMB); err != nil {
		return err
	}
	if err := envDuration("OBJECTFTP_API_TIMEOUT", &c.Global.APITimeout); err != nil {
		return err
	}

	// Storage settings
	if val := os.Getenv("OBJECTFTP_BACKEND"); val != "" {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("OBJECTFTP_AUTH_URL"); val != "" {
		c.Storage.AuthURL = val
	}
	if err := envInt("OBJECTFTP_AUTH_ATTEMPTS", &c.Storage.AuthAttempts); err != nil {
		return err
	}
	if err := envInt("OBJECTFTP_AUTH_VERSION", &c.Storage.Swift.AuthVersion); err != nil {
		return err
	}
	if val := os.Getenv("OBJECTFTP_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("OBJECTFTP_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("OBJECTFTP_SQLITE_PATH"); val != "" {
		c.Storage.SQLite.Path = val
	}

	// Cache settings
	if val := os.Getenv("OBJECTFTP_MEMCACHE"); val != "" {
		c.Cache.MemcacheServers = splitList(val)
		c.Cache.Shared = SharedMemcache
	}
	if val := os.Getenv("OBJECTFTP_SHARED_CACHE"); val != "" {
		c.Cache.Shared = strings.ToLower(val)
	}
	if err := envDuration("OBJECTFTP_LISTING_TTL", &c.Cache.ListingTTL); err != nil {
		return err
	}

	// Metrics settings
	if val := os.Getenv("OBJECTFTP_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if err := envInt("OBJECTFTP_METRICS_PORT", &c.Metrics.Port); err != nil {
		return err
	}

	return nil
}

func envInt(name string, dst *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = d
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.LogFormat != "" && !contains([]string{"text", "json"}, c.Global.LogFormat) {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}
	if err := validPort("port", c.Global.Port); err != nil {
		return err
	}
	if c.Global.MaxConsPerIP < 0 {
		return fmt.Errorf("max_cons_per_ip must not be negative")
	}
	if c.Global.SplitLargeFilesMB < 0 {
		return fmt.Errorf("split_large_files_mb must not be negative")
	}
	if c.Global.APITimeout < 0 {
		return fmt.Errorf("api_timeout must not be negative")
	}

	if c.Storage.AuthAttempts < 0 {
		return fmt.Errorf("auth_attempts must not be negative")
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendS3:
	case BackendSwift:
		if c.Storage.AuthURL == "" {
			return fmt.Errorf("auth_url is required for the swift backend")
		}
		if v := c.Storage.Swift.AuthVersion; v < 0 || v > 3 {
			return fmt.Errorf("invalid swift auth_version: %d", v)
		}
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %q (must be one of: %s)", c.Storage.Backend,
			strings.Join([]string{BackendMemory, BackendSQLite, BackendSwift, BackendS3}, ", "))
	}

	if c.Cache.ListingTTL < 0 || c.Cache.TokenTTL < 0 || c.Cache.BreakerTimeout < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	switch c.Cache.Shared {
	case "", SharedNone, SharedLocal:
	case SharedMemcache:
		if len(c.Cache.MemcacheServers) == 0 {
			return fmt.Errorf("shared cache memcache requires at least one memcache server")
		}
	default:
		return fmt.Errorf("invalid shared cache: %q", c.Cache.Shared)
	}

	if c.Metrics.Enabled {
		if err := validPort("metrics port", c.Metrics.Port); err != nil {
			return err
		}
		if c.Metrics.Port == c.Global.Port {
			return fmt.Errorf("metrics port and port cannot be the same")
		}
	}

	return nil
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
