package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// maxSaltDivisor bounds salts to the two bytes a row key reserves for them.
const maxSaltDivisor = 1 << 16

// Config represents the top-level application config plus the loaded profiles.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	Profiler ProfilerConfig `koanf:"profiler"`
	Input    InputConfig    `koanf:"input"`
	NATS     NATSConfig     `koanf:"nats"`
	MaaS     MaaSConfig     `koanf:"maas"`

	// Profiles is populated by Load after parsing profile files.
	Profiles []profile.Definition `koanf:"-"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | memory
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// StorageConfig controls how closed periods are written.
type StorageConfig struct {
	ColumnFamily         string        `koanf:"column_family"`
	SaltDivisor          int           `koanf:"salt_divisor"`
	BatchSize            int           `koanf:"batch_size"`
	FlushInterval        time.Duration `koanf:"flush_interval"`
	MaxRetries           int           `koanf:"max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	PurgeInterval        time.Duration `koanf:"purge_interval"` // 0 disables purging
}

// ProfilerConfig holds the window engine settings and the defaults applied
// to profile files that leave them unset.
type ProfilerConfig struct {
	ConfigDir       string        `koanf:"config_dir"`
	RequireProfiles bool          `koanf:"require_profiles"`
	Period          string        `koanf:"period"` // accepts "Xd"
	TTL             string        `koanf:"ttl"`
	ValueType       string        `koanf:"value_type"`
	TimeSource      string        `koanf:"time_source"` // event | wall
	TimestampField  string        `koanf:"timestamp_field"`
	TickInterval    time.Duration `koanf:"tick_interval"`
	Lateness        time.Duration `koanf:"lateness"`
	FlushOnShutdown bool          `koanf:"flush_on_shutdown"`
	Shards          int           `koanf:"shards"`
}

type InputConfig struct {
	Kafka KafkaConfig `koanf:"kafka"`
}

type KafkaConfig struct {
	Enabled       bool     `koanf:"enabled"`
	Brokers       []string `koanf:"brokers"`
	Topic         string   `koanf:"topic"`
	InitialOffset string   `koanf:"initial_offset"` // newest | oldest
}

type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

type MaaSConfig struct {
	ConfigBucket     string           `koanf:"config_bucket"`
	ConfigKey        string           `koanf:"config_key"`
	CacheTTL         time.Duration    `koanf:"cache_ttl"`
	CacheSize        int              `koanf:"cache_size"`
	Timeout          time.Duration    `koanf:"timeout"`
	FailureThreshold int              `koanf:"failure_threshold"`
	BreakerReset     time.Duration    `koanf:"breaker_reset"`
	BlacklistTTL     time.Duration    `koanf:"blacklist_ttl"`
	HTTPMethod       string           `koanf:"http_method"`
	Endpoints        []EndpointConfig `koanf:"endpoints"` // used when NATS is disabled
}

// EndpointConfig is a statically configured model instance.
type EndpointConfig struct {
	Name      string            `koanf:"name"`
	Version   string            `koanf:"version"`
	URL       string            `koanf:"url"`
	Functions map[string]string `koanf:"functions"`
}

func (e EndpointConfig) Endpoint() discovery.Endpoint {
	return discovery.Endpoint{Name: e.Name, Version: e.Version, URL: e.URL, Functions: e.Functions}
}

// Defaults resolves the profile-file defaults.
func (c ProfilerConfig) Defaults() (profile.Defaults, error) {
	period, err := profile.ParseDuration(c.Period)
	if err != nil {
		return profile.Defaults{}, fmt.Errorf("invalid profiler.period: %w", err)
	}
	ttl, err := profile.ParseDuration(c.TTL)
	if err != nil {
		return profile.Defaults{}, fmt.Errorf("invalid profiler.ttl: %w", err)
	}
	return profile.Defaults{Period: period, TTL: ttl, ValueType: profile.ValueType(c.ValueType)}, nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	switch c.Database.Type {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	if strings.TrimSpace(c.Storage.ColumnFamily) == "" {
		return fmt.Errorf("storage.column_family is required")
	}
	if c.Storage.SaltDivisor <= 0 || c.Storage.SaltDivisor > maxSaltDivisor {
		return fmt.Errorf("invalid storage.salt_divisor %d (must be 1-%d)", c.Storage.SaltDivisor, maxSaltDivisor)
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be > 0")
	}
	if c.Storage.FlushInterval <= 0 {
		return fmt.Errorf("storage.flush_interval must be > 0")
	}
	if c.Storage.MaxRetries < 0 {
		return fmt.Errorf("storage.max_retries must be >= 0")
	}
	if c.Storage.RetryInitialInterval <= 0 {
		return fmt.Errorf("storage.retry_initial_interval must be > 0")
	}
	if c.Storage.PurgeInterval < 0 {
		return fmt.Errorf("storage.purge_interval must be >= 0")
	}

	if strings.TrimSpace(c.Profiler.ConfigDir) == "" {
		return fmt.Errorf("profiler.config_dir is required")
	}
	defaults, err := c.Profiler.Defaults()
	if err != nil {
		return err
	}
	if defaults.TTL < defaults.Period {
		return fmt.Errorf("profiler.ttl %s must be >= profiler.period %s", defaults.TTL, defaults.Period)
	}
	switch defaults.ValueType {
	case profile.ValueInteger, profile.ValueDouble, profile.ValueSketch:
	default:
		return fmt.Errorf("unsupported profiler.value_type %q", c.Profiler.ValueType)
	}
	if c.Profiler.TimeSource != "event" && c.Profiler.TimeSource != "wall" {
		return fmt.Errorf("invalid profiler.time_source %q (must be event or wall)", c.Profiler.TimeSource)
	}
	if c.Profiler.TickInterval <= 0 {
		return fmt.Errorf("profiler.tick_interval must be > 0")
	}
	if c.Profiler.Lateness < 0 {
		return fmt.Errorf("profiler.lateness must be >= 0")
	}
	if c.Profiler.Shards < 0 {
		return fmt.Errorf("profiler.shards must be >= 0")
	}

	if k := c.Input.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("input.kafka.brokers is required when kafka is enabled")
		}
		if strings.TrimSpace(k.Topic) == "" {
			return fmt.Errorf("input.kafka.topic is required when kafka is enabled")
		}
		if k.InitialOffset != "newest" && k.InitialOffset != "oldest" {
			return fmt.Errorf("invalid input.kafka.initial_offset %q (must be newest or oldest)", k.InitialOffset)
		}
	}

	if c.NATS.Enabled && strings.TrimSpace(c.NATS.URL) == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	m := c.MaaS
	if m.HTTPMethod != "GET" && m.HTTPMethod != "POST" {
		return fmt.Errorf("invalid maas.http_method %q (must be GET or POST)", m.HTTPMethod)
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("maas.timeout must be > 0")
	}
	if m.CacheTTL <= 0 {
		return fmt.Errorf("maas.cache_ttl must be > 0")
	}
	if m.CacheSize <= 0 {
		return fmt.Errorf("maas.cache_size must be > 0")
	}
	if m.FailureThreshold <= 0 {
		return fmt.Errorf("maas.failure_threshold must be > 0")
	}
	for i, ep := range m.Endpoints {
		if err := ep.Endpoint().Validate(); err != nil {
			return fmt.Errorf("maas.endpoints[%d]: %w", i, err)
		}
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates profiles.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.max_body_size_mb":        1,
		"server.mode":                    "release",
		"log.level":                      "info",
		"log.format":                     "text",
		"database.type":                  "postgres",
		"database.dsn":                   "postgres://localhost:5432/profiler?sslmode=disable",
		"database.max_open_conns":        25,
		"database.max_idle_conns":        25,
		"database.auto_migrate":          true,
		"storage.column_family":          "P",
		"storage.salt_divisor":           1000,
		"storage.batch_size":             1000,
		"storage.flush_interval":         "10s",
		"storage.max_retries":            5,
		"storage.retry_initial_interval": "100ms",
		"storage.purge_interval":         "1h",
		"profiler.config_dir":            "./config/profiles",
		"profiler.require_profiles":      true,
		"profiler.period":                "15m",
		"profiler.ttl":                   "30m",
		"profiler.value_type":            "double",
		"profiler.time_source":           "wall",
		"profiler.timestamp_field":       "",
		"profiler.tick_interval":         "1s",
		"profiler.lateness":              "0s",
		"profiler.flush_on_shutdown":     true,
		"profiler.shards":                64,
		"input.kafka.enabled":            false,
		"input.kafka.initial_offset":     "newest",
		"nats.enabled":                   false,
		"nats.url":                       "nats://127.0.0.1:4222",
		"maas.cache_ttl":                 "10m",
		"maas.cache_size":                100000,
		"maas.timeout":                   "2s",
		"maas.failure_threshold":         1,
		"maas.breaker_reset":             "30s",
		"maas.blacklist_ttl":             "5m",
		"maas.http_method":               "GET",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("PROFILER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PROFILER_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defs, _ := cfg.Profiler.Defaults()
	repo, err := profile.NewFileSystemRepository(cfg.Profiler.ConfigDir, defs)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	cfg.Profiles = repo.Definitions()
	if cfg.Profiler.RequireProfiles && len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles found in %q", cfg.Profiler.ConfigDir)
	}

	return &cfg, nil
}
