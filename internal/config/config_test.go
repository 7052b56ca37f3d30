package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/kvblob/internal/metastore"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "", false)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultDataDir, cfg.Storage.DataDir)
	assert.Equal(t, metastore.EngineBbolt, cfg.Meta.Engine)
	assert.False(t, cfg.Storage.StagedWrites)

	n, err := cfg.Server.MaxObjectBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512<<20), n)
}

func TestLoad_MissingImplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.toml"), false)
	assert.NoError(t, err)

	_, err = Load(NewViper(), filepath.Join(t.TempDir(), "absent.toml"), true)
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvblob.toml")
	content := `
[server]
listen = "127.0.0.1:9000"
max_object_size = "1GiB"
webhook_urls = ["https://hooks.example.com/kv"]

[storage]
data_dir = "/srv/kv"
staged_writes = true

[meta]
engine = "sqlite"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(NewViper(), path, true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
	assert.Equal(t, "/srv/kv", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.StagedWrites)
	assert.Equal(t, metastore.EngineSQLite, cfg.Meta.Engine)
	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.Server.Burst)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"https://hooks.example.com/kv"}, cfg.Server.WebhookURLs)

	n, err := cfg.Server.MaxObjectBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), n)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kvblob.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nlisten = \"127.0.0.1:9000\"\n"), 0644))
	t.Setenv("KVBLOB_SERVER_LISTEN", "127.0.0.1:9100")
	t.Setenv("KVBLOB_LOG_LEVEL", "debug")

	cfg, err := Load(NewViper(), path, true)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_LegacyEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/blobs")
	t.Setenv("KV_DIR", "/var/lib/meta")

	cfg, err := Load(NewViper(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/blobs", cfg.Storage.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/blobs", "data"), cfg.BlobRoot())

	opts := cfg.MetaOptions()
	assert.Equal(t, "/var/lib/meta", opts.Dir)
	assert.Equal(t, filepath.Join("/var/lib/meta", "meta.db"), metastore.DefaultPath(opts.Engine, opts.Dir))
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("DATA_DIR", "/legacy")
	t.Setenv("KVBLOB_STORAGE_DATA_DIR", "/preferred")

	cfg, err := Load(NewViper(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "/preferred", cfg.Storage.DataDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
		{"bad size", func(c *Config) { c.Server.MaxObjectSize = "lots" }},
		{"zero size", func(c *Config) { c.Server.MaxObjectSize = "0" }},
		{"negative rate", func(c *Config) { c.Server.RequestsPerSecond = -1 }},
		{"half tls", func(c *Config) { c.Server.TLSCert = "cert.pem" }},
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"unknown engine", func(c *Config) { c.Meta.Engine = "rocksdb" }},
		{"bad webhook", func(c *Config) { c.Server.WebhookURLs = []string{"ftp://hooks"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", DefaultFile)
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false))
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(NewViper(), path, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, "512MiB", cfg.Server.MaxObjectSize)
	assert.Equal(t, 5*time.Minute, cfg.Server.ReadTimeout)
	assert.Equal(t, "kvblob:", cfg.Meta.RedisPrefix)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Server.AdminToken = "s3cret"
	cfg.Sentry.DSN = "https://key@sentry.example.com/1"

	r := cfg.Redacted()
	assert.Equal(t, "<redacted>", r.Server.AdminToken)
	assert.Equal(t, "<redacted>", r.Sentry.DSN)
	assert.Empty(t, r.Meta.RedisPassword)
	assert.Equal(t, "s3cret", cfg.Server.AdminToken)

	data, err := r.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.Contains(t, string(data), "[server]")
}
