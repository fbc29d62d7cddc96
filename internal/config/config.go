// Package config loads runtime settings.
//
// Sources are applied in increasing precedence: built-in defaults, an optional YAML file,
// an optional .env file, then the process environment. Command-line flags are applied on
// top by the cli package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // host:port; empty disables the response cache
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"` // empty selects the log notifier
	Queue string `yaml:"queue"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"` // empty disables archiving
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Config struct {
	AppName       string        `yaml:"app_name"`
	Environment   string        `yaml:"environment"` // DEV | TEST | PROD
	TargetURL     string        `yaml:"target_url"`
	DatabaseURL   string        `yaml:"database_url"`
	ScraperLog    string        `yaml:"scraper_log"` // optional log file, in addition to stderr
	LogLevel      string        `yaml:"log_level"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	BatchDates    int           `yaml:"batch_dates"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	ListenAddr    string        `yaml:"listen_addr"`
	MetricsFile   string        `yaml:"metrics_file"`

	Redis   RedisConfig   `yaml:"redis"`
	AMQP    AMQPConfig    `yaml:"amqp"`
	Archive ArchiveConfig `yaml:"archive"`
}

// Environments lists the accepted ENVIRONMENT values.
var Environments = []string{"DEV", "TEST", "PROD"}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		AppName:       "event-harvester",
		Environment:   "DEV",
		DatabaseURL:   "sqlite:///data/events.db",
		LogLevel:      "INFO",
		HTTPTimeout:   10 * time.Second,
		BatchDates:    3,
		BatchInterval: 7 * 24 * time.Hour,
		ListenAddr:    ":8080",
		Redis:         RedisConfig{TTL: time.Minute},
		AMQP:          AMQPConfig{Queue: "events.ingested"},
		Archive:       ArchiveConfig{Bucket: "event-harvester-raw"},
	}
}

// Options selects the files Load reads. Empty paths are skipped.
type Options struct {
	ConfigFile string
	// EnvFile is read if it exists; a missing file is not an error.
	EnvFile string
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds a validated Config from defaults, files and environment.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		b, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.EnvFile != "" {
		vars, err := godotenv.Read(opts.EnvFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading env file %s: %w", opts.EnvFile, err)
		default:
			if err := cfg.applyEnv(func(k string) (string, bool) { v, ok := vars[k]; return v, ok }); err != nil {
				return Config{}, fmt.Errorf("env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}

	keys := []struct {
		name string
		set  func(string) error
	}{
		{"APP_NAME", str(&c.AppName)},
		{"ENVIRONMENT", str(&c.Environment)},
		{"TARGET_URL", str(&c.TargetURL)},
		{"DATABASE_URL", str(&c.DatabaseURL)},
		{"SCRAPER_LOG", str(&c.ScraperLog)},
		{"LOG_LEVEL", str(&c.LogLevel)},
		{"HTTP_TIMEOUT", duration(&c.HTTPTimeout)},
		{"BATCH_DATES", integer(&c.BatchDates)},
		{"BATCH_INTERVAL", duration(&c.BatchInterval)},
		{"LISTEN_ADDR", str(&c.ListenAddr)},
		{"METRICS_FILE", str(&c.MetricsFile)},
		{"REDIS_ADDR", str(&c.Redis.Addr)},
		{"REDIS_PASSWORD", str(&c.Redis.Password)},
		{"REDIS_DB", integer(&c.Redis.DB)},
		{"CACHE_TTL", duration(&c.Redis.TTL)},
		{"AMQP_URL", str(&c.AMQP.URL)},
		{"AMQP_QUEUE", str(&c.AMQP.Queue)},
		{"ARCHIVE_ENDPOINT", str(&c.Archive.Endpoint)},
		{"ARCHIVE_BUCKET", str(&c.Archive.Bucket)},
		{"ARCHIVE_ACCESS_KEY", str(&c.Archive.AccessKey)},
		{"ARCHIVE_SECRET_KEY", str(&c.Archive.SecretKey)},
		{"ARCHIVE_USE_SSL", boolean(&c.Archive.UseSSL)},
	}

	for _, k := range keys {
		v, ok := lookup(k.name)
		if !ok {
			continue
		}
		if err := k.set(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", k.name, v, err)
		}
	}
	return nil
}

// Validate normalises and checks the settings. ENVIRONMENT is upper-cased.
func (c *Config) Validate() error {
	c.Environment = strings.ToUpper(strings.TrimSpace(c.Environment))
	valid := false
	for _, e := range Environments {
		if c.Environment == e {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("environment must be one of %s, got %q", strings.Join(Environments, ", "), c.Environment)
	}

	if strings.TrimSpace(c.AppName) == "" {
		return errors.New("app name must not be empty")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("database URL must not be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.BatchDates < 1 {
		return fmt.Errorf("batch dates must be at least 1, got %d", c.BatchDates)
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("batch interval must be positive, got %s", c.BatchInterval)
	}
	return nil
}

// RequireTarget reports an error when no target URL is configured.
func (c *Config) RequireTarget() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return errors.New("TARGET_URL is required (set it in the environment, .env, config file or --target)")
	}
	return nil
}
