// Package config loads the kvblob configuration from defaults, a TOML file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/kilupskalvis/kvblob/internal/metastore"
)

const (
	EnvPrefix      = "KVBLOB"
	DefaultFile    = "kvblob.toml"
	DefaultListen  = "0.0.0.0:3000"
	DefaultDataDir = "./kvdata"
	BlobDir        = "data"

	redacted = "<redacted>"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Storage StorageConfig `toml:"storage" mapstructure:"storage"`
	Meta    MetaConfig    `toml:"meta" mapstructure:"meta"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Sentry  SentryConfig  `toml:"sentry" mapstructure:"sentry"`
}

type ServerConfig struct {
	Listen            string        `toml:"listen" mapstructure:"listen"`
	MaxObjectSize     string        `toml:"max_object_size" mapstructure:"max_object_size"`
	RequestsPerSecond float64       `toml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `toml:"burst" mapstructure:"burst"`
	AdminToken        string        `toml:"admin_token" mapstructure:"admin_token"`
	TLSCert           string        `toml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey            string        `toml:"tls_key" mapstructure:"tls_key"`
	ReadTimeout       time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// WebhookURLs receive a JSON POST for every bucket and object mutation.
	WebhookURLs []string `toml:"webhook_urls" mapstructure:"webhook_urls"`
}

type StorageConfig struct {
	DataDir      string `toml:"data_dir" mapstructure:"data_dir"`
	StagedWrites bool   `toml:"staged_writes" mapstructure:"staged_writes"`
}

type MetaConfig struct {
	Engine string `toml:"engine" mapstructure:"engine"`
	// Path overrides the engine's file or directory. Dir overrides the
	// directory the default path is placed in (data_dir otherwise).
	Path          string `toml:"path" mapstructure:"path"`
	Dir           string `toml:"dir" mapstructure:"dir"`
	RedisAddr     string `toml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `toml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `toml:"redis_db" mapstructure:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix" mapstructure:"redis_prefix"`
}

type LogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`
	Format string `toml:"format" mapstructure:"format"`
}

type SentryConfig struct {
	DSN         string `toml:"dsn" mapstructure:"dsn"`
	Environment string `toml:"environment" mapstructure:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            DefaultListen,
			MaxObjectSize:     "512MiB",
			RequestsPerSecond: 50,
			Burst:             100,
			ReadTimeout:       5 * time.Minute,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   30 * time.Second,
			WebhookURLs:       []string{},
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Meta: MetaConfig{
			Engine:      metastore.EngineBbolt,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "kvblob:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// NewViper returns a viper instance with defaults and environment bindings.
// Every key can be set as KVBLOB_<SECTION>_<KEY>. DATA_DIR and KV_DIR are
// also read for the data root and metadata directory.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.max_object_size", d.Server.MaxObjectSize)
	v.SetDefault("server.requests_per_second", d.Server.RequestsPerSecond)
	v.SetDefault("server.burst", d.Server.Burst)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.webhook_urls", d.Server.WebhookURLs)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.staged_writes", false)
	v.SetDefault("meta.engine", d.Meta.Engine)
	v.SetDefault("meta.path", "")
	v.SetDefault("meta.dir", "")
	v.SetDefault("meta.redis_addr", d.Meta.RedisAddr)
	v.SetDefault("meta.redis_password", "")
	v.SetDefault("meta.redis_db", 0)
	v.SetDefault("meta.redis_prefix", d.Meta.RedisPrefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("storage.data_dir", EnvPrefix+"_STORAGE_DATA_DIR", "DATA_DIR")
	_ = v.BindEnv("meta.dir", EnvPrefix+"_META_DIR", "KV_DIR")

	return v
}

// Load reads path (if non-empty) into v and decodes the result. A missing
// file is an error only when the path was given explicitly.
func Load(v *viper.Viper, path string, explicit bool) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be caught by decoding.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}
	if _, err := c.Server.MaxObjectBytes(); err != nil {
		return err
	}
	if c.Server.RequestsPerSecond < 0 || c.Server.Burst < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	for _, u := range c.Server.WebhookURLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("server.webhook_urls: %q is not an http(s) URL", u)
		}
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir cannot be empty")
	}
	switch c.Meta.Engine {
	case metastore.EngineBbolt, metastore.EngineLevelDB, metastore.EngineSQLite,
		metastore.EngineRedis, metastore.EngineMemory:
	default:
		return fmt.Errorf("meta.engine: unknown engine %q", c.Meta.Engine)
	}
	return nil
}

// MaxObjectBytes parses max_object_size ("512MiB", "1GB", "1048576").
func (s ServerConfig) MaxObjectBytes() (int64, error) {
	n, err := humanize.ParseBytes(s.MaxObjectSize)
	if err != nil {
		return 0, fmt.Errorf("server.max_object_size: %w", err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("server.max_object_size: %q out of range", s.MaxObjectSize)
	}
	return int64(n), nil
}

// BlobRoot is the root of the sharded blob tree.
func (c *Config) BlobRoot() string {
	return filepath.Join(c.Storage.DataDir, BlobDir)
}

// MetaOptions converts the meta section into metastore options.
func (c *Config) MetaOptions() metastore.Options {
	dir := c.Meta.Dir
	if dir == "" {
		dir = c.Storage.DataDir
	}
	return metastore.Options{
		Engine: c.Meta.Engine,
		Path:   c.Meta.Path,
		Dir:    dir,
		Redis: metastore.RedisConfig{
			Addr:     c.Meta.RedisAddr,
			Password: c.Meta.RedisPassword,
			DB:       c.Meta.RedisDB,
			Prefix:   c.Meta.RedisPrefix,
		},
	}
}

// Marshal encodes c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Redacted returns a copy of c with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.WebhookURLs = append([]string(nil), c.Server.WebhookURLs...)
	for _, s := range []*string{&out.Server.AdminToken, &out.Meta.RedisPassword, &out.Sentry.DSN} {
		if *s != "" {
			*s = redacted
		}
	}
	return &out
}

// Save writes c to path as TOML.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	return Default().Save(path)
}
