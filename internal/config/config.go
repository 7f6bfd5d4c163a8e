// Package config loads the typed configuration shared by the hosts and the
// worker core: an optional YAML file merged with ASSET_COMPUTE_ environment
// variables, defaults applied last.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/purplecabbage/asset-compute-sdk/internal/pkg/logger"
)

// EnvPrefix prefixes every environment override. Nested keys use "__",
// e.g. ASSET_COMPUTE_WORKER__UNIT_TEST_MODE=true.
const EnvPrefix = "ASSET_COMPUTE_"

type Config struct {
	Worker   WorkerConfig   `koanf:"worker"`
	Retry    RetryConfig    `koanf:"retry"`
	HTTP     HTTPConfig     `koanf:"http"`
	Log      logger.Config  `koanf:"log"`
	Redis    RedisConfig    `koanf:"redis"`
	Database DatabaseConfig `koanf:"database"`
	S3       S3Config       `koanf:"s3"`
}

// WorkerConfig holds the flags the worker core reads. They are threaded
// through construction; nothing below the hosts reads the environment.
type WorkerConfig struct {
	UnitTestMode          bool   `koanf:"unit_test_mode"`
	DisableRetries        bool   `koanf:"disable_retries"`
	DisableSourceDownload bool   `koanf:"disable_source_download"`
	TransformerCatalogRef string `koanf:"transformer_catalog_ref"`
	// InputRoot is where unit-test mode resolves local sources.
	InputRoot string `koanf:"input_root"`
	// WorkRoot parents the per-invocation temp directories. Empty means
	// the OS temp dir.
	WorkRoot    string `koanf:"work_root"`
	Concurrency int    `koanf:"concurrency"`
	// SourceToken, when set, is sent as a bearer token on source downloads.
	SourceToken string `koanf:"source_token"`
}

type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	InvocationTimeout time.Duration `koanf:"invocation_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// TransferTimeout bounds a single GET or PUT attempt.
	TransferTimeout time.Duration `koanf:"transfer_timeout"`
}

type RedisConfig struct {
	Addr       string        `koanf:"addr"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	Queue      string        `koanf:"queue"`
	PopTimeout time.Duration `koanf:"pop_timeout"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

type S3Config struct {
	Endpoint      string        `koanf:"endpoint"`
	AccessKey     string        `koanf:"access_key"`
	SecretKey     string        `koanf:"secret_key"`
	Bucket        string        `koanf:"bucket"`
	Region        string        `koanf:"region"`
	UseSSL        bool          `koanf:"use_ssl"`
	PresignExpiry time.Duration `koanf:"presign_expiry"`
}

// Load reads path (ignored when empty or missing) and the environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!stderrors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// Defaults returns a configuration with every default applied.
func Defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("retry.max_backoff (%s) is below retry.initial_backoff (%s)",
			c.Retry.MaxBackoff, c.Retry.InitialBackoff)
	}
	return nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.Worker.InputRoot == "" {
		c.Worker.InputRoot = "/in"
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 500 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 10 * time.Second
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.InvocationTimeout == 0 {
		c.HTTP.InvocationTimeout = 5 * time.Minute
	}
	if c.HTTP.ReadHeaderTimeout == 0 {
		c.HTTP.ReadHeaderTimeout = 10 * time.Second
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if c.HTTP.TransferTimeout == 0 {
		c.HTTP.TransferTimeout = 2 * time.Minute
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.ServiceName == "" {
		c.Log.ServiceName = "asset-compute"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Queue == "" {
		c.Redis.Queue = "asset-compute:activations"
	}
	if c.Redis.PopTimeout == 0 {
		c.Redis.PopTimeout = 5 * time.Second
	}

	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 4
	}

	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.S3.PresignExpiry == 0 {
		c.S3.PresignExpiry = time.Hour
	}
}
