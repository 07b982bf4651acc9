package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/vatdata/errors"
)

// Storage backends
const (
	BackendMemory = "memory" // in-memory, lost on exit
	BackendSQLite = "sqlite" // local SQLite file
	BackendNATS   = "nats"   // NATS JetStream KV bucket
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "VATDATA"

// Config is the complete configuration of a vatdata process.
type Config struct {
	Unit    UnitConfig    `json:"unit" yaml:"unit"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// UnitConfig configures the virtual object manager.
type UnitConfig struct {
	Name      string `json:"name" yaml:"name"`
	CacheSize int    `json:"cache_size" yaml:"cache_size"`
}

// StorageConfig selects and configures the durable backend.
type StorageConfig struct {
	Backend      string `json:"backend" yaml:"backend"`
	Path         string `json:"path,omitempty" yaml:"path,omitempty"`     // sqlite file
	Bucket       string `json:"bucket,omitempty" yaml:"bucket,omitempty"` // nats KV bucket
	MaxValueSize int    `json:"max_value_size,omitempty" yaml:"max_value_size,omitempty"`
}

// NATSConfig defines NATS connection settings for the nats backend.
type NATSConfig struct {
	URL           string        `json:"url" yaml:"url"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Unit: UnitConfig{
			Name:      "unit",
			CacheSize: 100,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Bucket:  "vatdata",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update replaces the configuration after validating it
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(nil, "SafeConfig", "Update", "config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	copied := *c
	return &copied
}

// Validate checks the configuration and normalizes case-insensitive fields.
func (c *Config) Validate() error {
	invalid := func(msg string, args ...any) error {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", fmt.Sprintf(msg, args...))
	}

	if c.Unit.Name == "" {
		return invalid("unit.name is required")
	}
	if c.Unit.CacheSize <= 0 {
		return invalid("unit.cache_size must be positive, got %d", c.Unit.CacheSize)
	}

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return invalid("storage.path is required for the sqlite backend")
		}
	case BackendNATS:
		if c.Storage.Bucket == "" {
			return invalid("storage.bucket is required for the nats backend")
		}
		if c.NATS.URL == "" {
			return invalid("nats.url is required for the nats backend")
		}
		if c.NATS.Timeout <= 0 {
			return invalid("nats.timeout must be positive")
		}
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.MaxValueSize < 0 {
		return invalid("storage.max_value_size must not be negative")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unknown log.level %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return invalid("unknown log.format %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return invalid("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with '/', got %q", c.Metrics.Path)
		}
	}
	return nil
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment, in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged, err := mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file, chosen by extension, into a map.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds so they unmarshal
// into time.Duration fields.
func parseDurations(raw map[string]any) error {
	nats, ok := raw["nats"].(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range []string{"reconnect_wait", "timeout"} {
		s, ok := nats[key].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("nats.%s: %w", key, err)
		}
		nats[key] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap overlays the keys present in override onto base.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies <prefix>_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"UNIT_NAME":       &cfg.Unit.Name,
		"STORAGE_BACKEND": &cfg.Storage.Backend,
		"STORAGE_PATH":    &cfg.Storage.Path,
		"STORAGE_BUCKET":  &cfg.Storage.Bucket,
		"NATS_URL":        &cfg.NATS.URL,
		"NATS_USERNAME":   &cfg.NATS.Username,
		"NATS_PASSWORD":   &cfg.NATS.Password,
		"NATS_TOKEN":      &cfg.NATS.Token,
		"LOG_LEVEL":       &cfg.Log.Level,
		"LOG_FORMAT":      &cfg.Log.Format,
		"METRICS_ADDR":    &cfg.Metrics.Addr,
	}
	for suffix, dst := range strs {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		if val != "" {
			*dst = val
		}
	}

	ints := map[string]*int{
		"UNIT_CACHE_SIZE":        &cfg.Unit.CacheSize,
		"STORAGE_MAX_VALUE_SIZE": &cfg.Storage.MaxValueSize,
	}
	for suffix, dst := range ints {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+key)
		}
		*dst = n
	}

	if val := os.Getenv(l.envPrefix + "_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_METRICS_ENABLED")
		}
		cfg.Metrics.Enabled = enabled
	}
	return nil
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode config")
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
