// Package config loads the service configuration from an optional TOML file
// followed by KOLKO_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full service configuration.
type Config struct {
	Log     LogConfig     `toml:"log"`
	HTTP    HTTPConfig    `toml:"http"`
	Source  SourceConfig  `toml:"source"`
	Blob    BlobConfig    `toml:"blob"`
	Dataset DatasetConfig `toml:"dataset"`
	Session SessionConfig `toml:"session"`
	Exports ExportsConfig `toml:"exports"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// SourceConfig selects where raw documents are read from.
type SourceConfig struct {
	Kind        string `toml:"kind"` // blob | sqlite | postgres
	Prefix      string `toml:"prefix"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type BlobConfig struct {
	Driver string   `toml:"driver"` // fs | s3 | memory
	FSRoot string   `toml:"fs_root"`
	S3     S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	PathStyle       bool   `toml:"path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

type DatasetConfig struct {
	Layout    string `toml:"layout"` // star | flat
	Facts     string `toml:"facts"`
	Delimiter string `toml:"delimiter"`
}

type SessionConfig struct {
	CacheSize int `toml:"cache_size"`
}

type ExportsConfig struct {
	Prefix    string `toml:"prefix"`
	QueueSize int    `toml:"queue_size"`
}

// Source kinds.
const (
	SourceBlob     = "blob"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
)

// Default returns the zero-config setup: ETL output under ./data, star
// layout, listening on :8080.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Source:  SourceConfig{Kind: SourceBlob, SQLitePath: "kolkostruva.db"},
		Blob:    BlobConfig{Driver: "fs", FSRoot: "./data", S3: S3Config{Region: "us-east-1"}},
		Dataset: DatasetConfig{Layout: "star", Delimiter: ","},
		Session: SessionConfig{CacheSize: 256},
		Exports: ExportsConfig{Prefix: "exports/", QueueSize: 16},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with KOLKO_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"KOLKO_LOG_LEVEL":             &cfg.Log.Level,
		"KOLKO_LOG_FORMAT":            &cfg.Log.Format,
		"KOLKO_HTTP_ADDR":             &cfg.HTTP.Addr,
		"KOLKO_SOURCE":                &cfg.Source.Kind,
		"KOLKO_SOURCE_PREFIX":         &cfg.Source.Prefix,
		"KOLKO_SQLITE_PATH":           &cfg.Source.SQLitePath,
		"KOLKO_POSTGRES_DSN":          &cfg.Source.PostgresDSN,
		"KOLKO_BLOB_DRIVER":           &cfg.Blob.Driver,
		"KOLKO_BLOB_FS_ROOT":          &cfg.Blob.FSRoot,
		"KOLKO_BLOB_S3_BUCKET":        &cfg.Blob.S3.Bucket,
		"KOLKO_BLOB_S3_REGION":        &cfg.Blob.S3.Region,
		"KOLKO_BLOB_S3_ENDPOINT":      &cfg.Blob.S3.Endpoint,
		"KOLKO_BLOB_S3_PREFIX":        &cfg.Blob.S3.Prefix,
		"KOLKO_BLOB_S3_ACCESS_KEY_ID": &cfg.Blob.S3.AccessKeyID,
		"KOLKO_BLOB_S3_SECRET_KEY":    &cfg.Blob.S3.SecretAccessKey,
		"KOLKO_LAYOUT":                &cfg.Dataset.Layout,
		"KOLKO_FACTS":                 &cfg.Dataset.Facts,
		"KOLKO_DELIMITER":             &cfg.Dataset.Delimiter,
		"KOLKO_EXPORTS_PREFIX":        &cfg.Exports.Prefix,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		"KOLKO_CACHE_SIZE":         &cfg.Session.CacheSize,
		"KOLKO_EXPORTS_QUEUE_SIZE": &cfg.Exports.QueueSize,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	if v, ok := lookup("KOLKO_BLOB_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KOLKO_BLOB_S3_PATH_STYLE: %w", err)
		}
		cfg.Blob.S3.PathStyle = b
	}
	return nil
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	switch c.Source.Kind {
	case SourceBlob, SourceSQLite, SourcePostgres:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Dataset.Layout {
	case "star", "flat":
	default:
		return fmt.Errorf("unknown dataset layout %q", c.Dataset.Layout)
	}
	if utf8.RuneCountInString(c.Dataset.Delimiter) != 1 {
		return fmt.Errorf("dataset.delimiter must be a single character, got %q", c.Dataset.Delimiter)
	}
	if c.Session.CacheSize < 0 || c.Exports.QueueSize < 1 {
		return fmt.Errorf("cache_size must be >= 0 and queue_size >= 1")
	}
	return nil
}

// DelimiterRune returns the configured field delimiter.
func (c Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Dataset.Delimiter)
	return r
}
