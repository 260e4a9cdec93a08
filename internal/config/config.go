package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/oriys/pulsar/internal/codec"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PULSAR_"

// Directory backends
const (
	DirectoryStatic   = "static"
	DirectoryRedis    = "redis"
	DirectoryPostgres = "postgres"
)

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr        string        `yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr        string        `yaml:"grpc_addr" env:"GRPC_ADDR"`
	StreamAddr      string        `yaml:"stream_addr" env:"STREAM_ADDR"`
	VsockPort       uint32        `yaml:"vsock_port" env:"VSOCK_PORT"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT"`
	CallLogFile     string        `yaml:"call_log_file" env:"CALL_LOG_FILE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DispatchConfig holds caller-side dispatch settings
type DispatchConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	Codec          string        `yaml:"codec" env:"CODEC"`
}

// ClusterConfig holds peer transport settings
type ClusterConfig struct {
	// Advertise is the address other peers reach this daemon on. Served
	// actions are announced under it.
	Advertise     string        `yaml:"advertise" env:"ADVERTISE"`
	DialTimeout   time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ServerTimeout time.Duration `yaml:"server_timeout" env:"SERVER_TIMEOUT"`

	// RemoteActions are served by peers rather than in-process.
	RemoteActions []string `yaml:"remote_actions" env:"REMOTE_ACTIONS" envSeparator:","`

	Breaker BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`
}

// BreakerConfig holds per-peer circuit breaker thresholds. A zero ErrorPct
// disables breaking.
type BreakerConfig struct {
	ErrorPct       float64       `yaml:"error_pct" env:"ERROR_PCT"`
	MinRequests    int           `yaml:"min_requests" env:"MIN_REQUESTS"`
	Window         time.Duration `yaml:"window" env:"WINDOW"`
	OpenDuration   time.Duration `yaml:"open_duration" env:"OPEN_DURATION"`
	HalfOpenTrials int           `yaml:"half_open_trials" env:"HALF_OPEN_TRIALS"`
}

// DirectoryConfig selects where action-to-peer bindings live
type DirectoryConfig struct {
	Backend     string            `yaml:"backend" env:"BACKEND"`
	DefaultPeer string            `yaml:"default_peer" env:"DEFAULT_PEER"`
	Bindings    map[string]string `yaml:"bindings" env:"BINDINGS" envSeparator:"," envKeyValSeparator:"="`
	RedisKey    string            `yaml:"redis_key" env:"REDIS_KEY"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// TracingConfig holds OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Exporter    string  `yaml:"exporter" env:"EXPORTER"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// ObservabilityConfig groups tracing and metrics
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// ScheduleConfig drives the periodic greeting job
type ScheduleConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Spec    string        `yaml:"spec" env:"SPEC"`
	Name    string        `yaml:"name" env:"NAME"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Daemon        DaemonConfig        `yaml:"daemon" envPrefix:"DAEMON_"`
	Dispatch      DispatchConfig      `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Cluster       ClusterConfig       `yaml:"cluster" envPrefix:"CLUSTER_"`
	Directory     DirectoryConfig     `yaml:"directory" envPrefix:"DIRECTORY_"`
	Redis         RedisConfig         `yaml:"redis" envPrefix:"REDIS_"`
	Postgres      PostgresConfig      `yaml:"postgres" envPrefix:"POSTGRES_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
	Schedule      ScheduleConfig      `yaml:"schedule" envPrefix:"SCHEDULE_"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			LogLevel:        "info",
			LogFormat:       "text",
			ShutdownTimeout: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: 10 * time.Second,
			Codec:          codec.NameProto,
		},
		Cluster: ClusterConfig{
			DialTimeout:   30 * time.Second,
			ServerTimeout: 10 * time.Second,
			Breaker: BreakerConfig{
				ErrorPct:       50,
				MinRequests:    5,
				Window:         30 * time.Second,
				OpenDuration:   10 * time.Second,
				HalfOpenTrials: 1,
			},
		},
		Directory: DirectoryConfig{
			Backend:  DirectoryStatic,
			Bindings: map[string]string{},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "pulsar",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "pulsar",
			},
		},
		Schedule: ScheduleConfig{
			Spec:    "@every 1m",
			Name:    "world",
			Timeout: 10 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML (or JSON) file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv applies PULSAR_* environment variable overrides to the config,
// e.g. PULSAR_REDIS_ADDR or PULSAR_DISPATCH_DEFAULT_TIMEOUT.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads path when non-empty, applies the environment and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := codec.ByName(c.Dispatch.Codec); err != nil {
		return fmt.Errorf("dispatch.codec: %w", err)
	}
	if c.Dispatch.DefaultTimeout <= 0 {
		return fmt.Errorf("dispatch.default_timeout must be positive, got %s", c.Dispatch.DefaultTimeout)
	}
	if c.Cluster.ServerTimeout <= 0 {
		return fmt.Errorf("cluster.server_timeout must be positive, got %s", c.Cluster.ServerTimeout)
	}

	if b := c.Cluster.Breaker; b.ErrorPct < 0 || b.ErrorPct > 100 {
		return fmt.Errorf("cluster.breaker.error_pct must be within 0-100, got %v", b.ErrorPct)
	}

	switch strings.ToLower(c.Directory.Backend) {
	case "", DirectoryStatic:
	case DirectoryRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis directory")
		}
	case DirectoryPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres directory")
		}
	default:
		return fmt.Errorf("directory.backend: unknown backend %q (valid: %s, %s, %s)",
			c.Directory.Backend, DirectoryStatic, DirectoryRedis, DirectoryPostgres)
	}

	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Spec); err != nil {
			return fmt.Errorf("schedule.spec: %w", err)
		}
	}
	return nil
}
