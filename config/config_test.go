package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 100, cfg.Unit.CacheSize)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
}

func TestLoader_JSONLayer(t *testing.T) {
	path := writeFile(t, "base.json", `{
		"unit": {"name": "ledger", "cache_size": 7},
		"storage": {"backend": "sqlite", "path": "/var/lib/vatdata/ledger.db"},
		"nats": {"timeout": "750ms"}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "ledger", cfg.Unit.Name)
	assert.Equal(t, 7, cfg.Unit.CacheSize)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.NATS.Timeout)
	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_YAMLLayerOverridesJSON(t *testing.T) {
	base := writeFile(t, "base.json", `{"unit": {"name": "ledger"}, "log": {"level": "debug"}}`)
	override := writeFile(t, "override.yaml", `
unit:
  cache_size: 3
storage:
  backend: nats
  bucket: ledger-state
nats:
  url: nats://broker:4222
  reconnect_wait: 5s
log:
  format: json
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "ledger", cfg.Unit.Name)
	assert.Equal(t, 3, cfg.Unit.CacheSize)
	assert.Equal(t, BackendNATS, cfg.Storage.Backend)
	assert.Equal(t, "ledger-state", cfg.Storage.Bucket)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("VATDATA_UNIT_NAME", "from-env")
	t.Setenv("VATDATA_UNIT_CACHE_SIZE", "12")
	t.Setenv("VATDATA_METRICS_ENABLED", "true")
	t.Setenv("VATDATA_LOG_LEVEL", "WARN")

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Unit.Name)
	assert.Equal(t, 12, cfg.Unit.CacheSize)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level, "validation normalizes case")
}

func TestLoader_EnvPrefix(t *testing.T) {
	t.Setenv("LEDGER_UNIT_NAME", "prefixed")

	loader := NewLoader()
	loader.SetEnvPrefix("LEDGER")
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Unit.Name)
}

func TestLoader_BadEnvInt(t *testing.T) {
	t.Setenv("VATDATA_UNIT_CACHE_SIZE", "lots")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "VATDATA_UNIT_CACHE_SIZE")
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"malformed json", "bad.json", `{"unit": `},
		{"malformed yaml", "bad.yaml", "unit: [unclosed"},
		{"bad duration", "dur.json", `{"nats": {"timeout": "soon"}}`},
		{"too deep", "deep.json", strings.Repeat("[", maxNesting+1) + strings.Repeat("]", maxNesting+1)},
		{"unsupported extension", "cfg.toml", `unit = "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.body)
			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty unit name", func(c *Config) { c.Unit.Name = "" }, "unit.name"},
		{"zero cache", func(c *Config) { c.Unit.CacheSize = 0 }, "cache_size"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage.backend"},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = BackendSQLite }, "storage.path"},
		{"nats without bucket", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.Storage.Bucket = ""
		}, "storage.bucket"},
		{"nats without url", func(c *Config) {
			c.Storage.Backend = BackendNATS
			c.NATS.URL = ""
		}, "nats.url"},
		{"negative value size", func(c *Config) { c.Storage.MaxValueSize = -1 }, "max_value_size"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	for _, ext := range []string{".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Unit.Name = "saved"
			cfg.Storage.Backend = BackendSQLite
			cfg.Storage.Path = "state.db"

			path := filepath.Join(t.TempDir(), "cfg"+ext)
			require.NoError(t, cfg.SaveToFile(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := NewLoader().LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	got.Unit.Name = "mutated"
	assert.Equal(t, "unit", sc.Get().Unit.Name, "Get returns a copy")

	bad := Default()
	bad.Unit.CacheSize = -1
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	good := Default()
	good.Unit.Name = "next"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "next", sc.Get().Unit.Name)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original is untouched")
}

func TestCheckPath(t *testing.T) {
	assert.Error(t, checkPath(""))
	assert.Error(t, checkPath("../outside.json"))
	assert.Error(t, checkPath("config.ini"))
	assert.NoError(t, checkPath("vatdata.yml"))
	assert.NoError(t, checkPath(filepath.Join(t.TempDir(), "x.json")))
}
