// Package config loads tariffcore settings from an optional YAML file and
// TARIFFCORE_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers.
const (
	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Blob      Blob      `yaml:"blob"`
	Check     Check     `yaml:"check"`
	Hierarchy Hierarchy `yaml:"hierarchy"`
	Log       Log       `yaml:"log"`
}

// Storage selects the version store backend.
type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Blob selects the rule-run report archive.
type Blob struct {
	Driver      string `yaml:"driver"`
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Check tunes the rule-run orchestrator.
type Check struct {
	Workers int `yaml:"workers"`
	// Warn lists rules whose violations are reported as warnings.
	Warn []string `yaml:"warn"`
}

// Hierarchy tunes the commodity snapshot cache.
type Hierarchy struct {
	CacheSize int `yaml:"cache_size"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage:   Storage{Driver: StorageMemory, SQLitePath: "tariffcore.db"},
		Blob:      Blob{Driver: BlobMemory, FSRoot: "./rule-runs", S3Region: "us-east-1"},
		Check:     Check{Workers: 4},
		Hierarchy: Hierarchy{CacheSize: 128},
		Log:       Log{Level: "info", Format: "text"},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	str("TARIFFCORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("TARIFFCORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("TARIFFCORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("TARIFFCORE_BLOB_DRIVER", &cfg.Blob.Driver)
	str("TARIFFCORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("TARIFFCORE_BLOB_S3_BUCKET", &cfg.Blob.S3Bucket)
	str("TARIFFCORE_BLOB_S3_REGION", &cfg.Blob.S3Region)
	str("TARIFFCORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3Endpoint)
	if v, ok := lookup("TARIFFCORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TARIFFCORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		cfg.Blob.S3PathStyle = b
	}
	if err := num("TARIFFCORE_CHECK_WORKERS", &cfg.Check.Workers); err != nil {
		return err
	}
	if v, ok := lookup("TARIFFCORE_CHECK_WARN"); ok && v != "" {
		cfg.Check.Warn = splitList(v)
	}
	if err := num("TARIFFCORE_HIERARCHY_CACHE_SIZE", &cfg.Hierarchy.CacheSize); err != nil {
		return err
	}
	str("TARIFFCORE_LOG_LEVEL", &cfg.Log.Level)
	str("TARIFFCORE_LOG_FORMAT", &cfg.Log.Format)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FieldError names the configuration field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("config %s: %s", e.Field, e.Reason) }

// Validate checks every field, joining all failures.
func (c Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			bad("storage.sqlite_path", "required for the sqlite driver")
		}
	case StoragePostgres:
	default:
		bad("storage.driver", "unknown driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobMemory:
	case BlobFS:
		if c.Blob.FSRoot == "" {
			bad("blob.fs_root", "required for the fs driver")
		}
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			bad("blob.s3_bucket", "required for the s3 driver")
		}
	default:
		bad("blob.driver", "unknown driver %q", c.Blob.Driver)
	}
	if c.Check.Workers < 1 {
		bad("check.workers", "must be at least 1, got %d", c.Check.Workers)
	}
	if c.Hierarchy.CacheSize < 1 {
		bad("hierarchy.cache_size", "must be at least 1, got %d", c.Hierarchy.CacheSize)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		bad("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format", "unknown format %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, err
	}
	return level, nil
}
