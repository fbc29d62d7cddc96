package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{LookupEnv: envMap(nil)})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != "DEV" || cfg.BatchDates != 3 || cfg.BatchInterval != 168*time.Hour {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %s, want 10s", cfg.HTTPTimeout)
	}
	if err := cfg.RequireTarget(); err == nil {
		t.Error("RequireTarget() should fail without a target URL")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "config.yaml", `
app_name: from-yaml
target_url: https://yaml.example.com/events/
log_level: debug
http_timeout: 5s
redis:
  addr: localhost:6379
  ttl: 30s
`)
	envPath := writeFile(t, dir, ".env", `
TARGET_URL=https://dotenv.example.com/events/
ENVIRONMENT=prod
CACHE_TTL=45s
`)

	cfg, err := Load(Options{
		ConfigFile: yamlPath,
		EnvFile:    envPath,
		LookupEnv:  envMap(map[string]string{"CACHE_TTL": "2m", "ARCHIVE_USE_SSL": "true"}),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"yaml only", cfg.AppName, "from-yaml"},
		{"yaml duration", cfg.HTTPTimeout, 5 * time.Second},
		{"dotenv over yaml", cfg.TargetURL, "https://dotenv.example.com/events/"},
		{"environment upper-cased", cfg.Environment, "PROD"},
		{"process env over dotenv", cfg.Redis.TTL, 2 * time.Minute},
		{"nested yaml", cfg.Redis.Addr, "localhost:6379"},
		{"bool from env", cfg.Archive.UseSSL, true},
		{"default kept", cfg.AMQP.Queue, "events.ingested"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	_, err := Load(Options{
		EnvFile:   filepath.Join(t.TempDir(), "absent.env"),
		LookupEnv: envMap(nil),
	})
	if err != nil {
		t.Errorf("Load() error = %v, want nil for a missing .env", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad environment", env: map[string]string{"ENVIRONMENT": "staging"}, wantErr: "environment must be one of"},
		{name: "bad duration", env: map[string]string{"HTTP_TIMEOUT": "ten"}, wantErr: "invalid HTTP_TIMEOUT"},
		{name: "bad integer", env: map[string]string{"BATCH_DATES": "three"}, wantErr: "invalid BATCH_DATES"},
		{name: "zero batch dates", env: map[string]string{"BATCH_DATES": "0"}, wantErr: "batch dates"},
		{name: "empty database", env: map[string]string{"DATABASE_URL": ""}, wantErr: "database URL"},
		{name: "bad bool", env: map[string]string{"ARCHIVE_USE_SSL": "maybe"}, wantErr: "invalid ARCHIVE_USE_SSL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{LookupEnv: envMap(tt.env)})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml"), LookupEnv: envMap(nil)})
	if err == nil {
		t.Error("Load() should fail when an explicit config file is missing")
	}
}
