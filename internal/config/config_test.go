package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulsar.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Dispatch.DefaultTimeout != 10*time.Second {
		t.Fatalf("expected 10s default timeout, got %s", cfg.Dispatch.DefaultTimeout)
	}
	if cfg.Schedule.Spec != "@every 1m" {
		t.Fatalf("unexpected schedule spec %q", cfg.Schedule.Spec)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeConfig(t, `
daemon:
  http_addr: ":18080"
dispatch:
  default_timeout: 3s
  codec: json
directory:
  backend: static
  bindings:
    helloworld/sample: grpc://peer:9090
schedule:
  enabled: true
  spec: "*/5 * * * *"
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Daemon.HTTPAddr != ":18080" || cfg.Dispatch.DefaultTimeout != 3*time.Second || cfg.Dispatch.Codec != "json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Directory.Bindings["helloworld/sample"] != "grpc://peer:9090" {
		t.Fatalf("unexpected bindings %v", cfg.Directory.Bindings)
	}
	// untouched sections keep their defaults
	if cfg.Daemon.GRPCAddr != ":9090" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("defaults lost: %+v", cfg.Daemon)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeConfig(t, `{"redis": {"addr": "redis:6379", "db": 2}, "directory": {"backend": "redis"}}`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 || cfg.Directory.Backend != DirectoryRedis {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadFromFile(writeConfig(t, "daemon: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PULSAR_REDIS_ADDR", "cache:6380")
	t.Setenv("PULSAR_DISPATCH_DEFAULT_TIMEOUT", "250ms")
	t.Setenv("PULSAR_DIRECTORY_BINDINGS", "helloworld/sample=grpc://a:9090,other/x=http://b:8080")
	t.Setenv("PULSAR_CLUSTER_REMOTE_ACTIONS", "helloworld/sample,other/x")
	t.Setenv("PULSAR_OBSERVABILITY_TRACING_ENABLED", "true")
	t.Setenv("PULSAR_CLUSTER_BREAKER_OPEN_DURATION", "1m")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Redis.Addr != "cache:6380" {
		t.Fatalf("expected cache:6380, got %q", cfg.Redis.Addr)
	}
	if cfg.Dispatch.DefaultTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.Dispatch.DefaultTimeout)
	}
	if cfg.Directory.Bindings["helloworld/sample"] != "grpc://a:9090" || cfg.Directory.Bindings["other/x"] != "http://b:8080" {
		t.Fatalf("unexpected bindings %v", cfg.Directory.Bindings)
	}
	if len(cfg.Cluster.RemoteActions) != 2 {
		t.Fatalf("unexpected remote actions %v", cfg.Cluster.RemoteActions)
	}
	if !cfg.Observability.Tracing.Enabled {
		t.Fatal("expected tracing enabled")
	}
	if cfg.Cluster.Breaker.OpenDuration != time.Minute || cfg.Cluster.Breaker.ErrorPct != 50 {
		t.Fatalf("unexpected breaker config %+v", cfg.Cluster.Breaker)
	}
	// unset variables keep current values
	if cfg.Daemon.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.Daemon.HTTPAddr)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("PULSAR_DISPATCH_DEFAULT_TIMEOUT", "soon")
	if err := LoadFromEnv(DefaultConfig()); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "codec", mutate: func(c *Config) { c.Dispatch.Codec = "xml" }, want: "dispatch.codec"},
		{name: "timeout", mutate: func(c *Config) { c.Dispatch.DefaultTimeout = 0 }, want: "dispatch.default_timeout"},
		{name: "server timeout", mutate: func(c *Config) { c.Cluster.ServerTimeout = -time.Second }, want: "cluster.server_timeout"},
		{name: "backend", mutate: func(c *Config) { c.Directory.Backend = "etcd" }, want: "directory.backend"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Directory.Backend = DirectoryPostgres }, want: "postgres.dsn"},
		{name: "redis addr", mutate: func(c *Config) { c.Directory.Backend = DirectoryRedis; c.Redis.Addr = "" }, want: "redis.addr"},
		{name: "breaker", mutate: func(c *Config) { c.Cluster.Breaker.ErrorPct = 120 }, want: "cluster.breaker.error_pct"},
		{name: "schedule", mutate: func(c *Config) { c.Schedule.Enabled = true; c.Schedule.Spec = "whenever" }, want: "schedule.spec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("PULSAR_DISPATCH_CODEC", "json")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.Codec != "json" {
		t.Fatalf("expected env override, got %q", cfg.Dispatch.Codec)
	}

	t.Setenv("PULSAR_DISPATCH_CODEC", "xml")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}
