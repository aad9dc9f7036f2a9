// Package config loads process configuration for linkstreak.
// It uses koanf to merge an optional YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the process configuration. User-tunable ranking settings live in
// the store, not here.
type Config struct {
	DataDir  string `koanf:"data_dir"`
	DBPath   string `koanf:"db_path"`
	LogLevel string `koanf:"log_level"`
	Addr     string `koanf:"addr"` // HTTP listen address for serve

	Embed   EmbedConfig   `koanf:"embed"`
	Browser BrowserConfig `koanf:"browser"`
	Index   IndexConfig   `koanf:"index"`
	Search  SearchConfig  `koanf:"search"`
	Events  EventsConfig  `koanf:"events"`
}

// EmbedConfig selects and configures the embedding backend.
type EmbedConfig struct {
	Provider    string `koanf:"provider"` // "ollama" or "jina"
	OllamaURL   string `koanf:"ollama_url"`
	OllamaModel string `koanf:"ollama_model"`
	JinaAPIKey  string `koanf:"jina_api_key"`
	JinaModel   string `koanf:"jina_model"`
}

// BrowserConfig points at the snapshot exported by the browser extension.
type BrowserConfig struct {
	Snapshot string `koanf:"snapshot"`
}

// IndexConfig tunes background page indexing.
type IndexConfig struct {
	Interval     time.Duration `koanf:"interval"`      // 0 disables periodic indexing
	HostInterval time.Duration `koanf:"host_interval"` // minimum gap between fetches to one host
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// SearchConfig tunes the search engine.
type SearchConfig struct {
	EmbedConcurrency int `koanf:"embed_concurrency"`
}

// EventsConfig controls the JSONL event log.
type EventsConfig struct {
	Path string `koanf:"path"` // empty: <data_dir>/events.jsonl
}

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderJina   = "jina"
)

// Defaults for everything that is not a secret.
const (
	DefaultAddr             = "127.0.0.1:7878"
	DefaultLogLevel         = "info"
	DefaultProvider         = ProviderOllama
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultOllamaModel      = "nomic-embed-text"
	DefaultIndexInterval    = 5 * time.Minute
	DefaultHostInterval     = time.Second
	DefaultFetchTimeout     = 30 * time.Second
	DefaultEmbedConcurrency = 4
)

// Validation errors.
var (
	ErrMissingJinaKey   = errors.New("LINKSTREAK_JINA_API_KEY is required when embed.provider is jina")
	ErrUnknownProvider  = errors.New("embed.provider must be ollama or jina")
	ErrInvalidAddr      = errors.New("addr must be host:port")
	ErrInvalidLogLevel  = errors.New("log_level must be debug, info, warn or error")
	ErrInvalidNumber    = errors.New("must be a valid number")
	ErrNegativeInterval = errors.New("index intervals must not be negative")
)

// DefaultDataDir is ~/.linkstreak.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linkstreak"
	}
	return filepath.Join(home, ".linkstreak")
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	dir := DefaultDataDir()
	return &Config{
		DataDir:  dir,
		DBPath:   filepath.Join(dir, "linkstreak.db"),
		LogLevel: DefaultLogLevel,
		Addr:     DefaultAddr,
		Embed: EmbedConfig{
			Provider:    DefaultProvider,
			OllamaURL:   DefaultOllamaURL,
			OllamaModel: DefaultOllamaModel,
		},
		Index: IndexConfig{
			Interval:     DefaultIndexInterval,
			HostInterval: DefaultHostInterval,
			FetchTimeout: DefaultFetchTimeout,
		},
		Search: SearchConfig{EmbedConcurrency: DefaultEmbedConcurrency},
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// LoadDotEnv loads KEY=value files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads configuration from an optional YAML file, then applies
// LINKSTREAK_* environment overrides. A missing file at the default path is
// not an error; a missing explicit path is. The returned slice holds every
// validation problem and is empty when the config is usable.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")

	path := configFilePath
	if path == "" {
		path = ConfigPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}

	var loadErrs []error
	def := DefaultConfig()

	dataDir := getEnvOrDefault("LINKSTREAK_DATA_DIR", k.String("data_dir"), def.DataDir)
	cfg := &Config{
		DataDir:  dataDir,
		DBPath:   getEnvOrDefault("LINKSTREAK_DB", k.String("db_path"), filepath.Join(dataDir, "linkstreak.db")),
		LogLevel: strings.ToLower(getEnvOrDefault("LINKSTREAK_LOG_LEVEL", k.String("log_level"), def.LogLevel)),
		Addr:     getEnvOrDefault("LINKSTREAK_ADDR", k.String("addr"), def.Addr),
		Embed: EmbedConfig{
			Provider:    strings.ToLower(getEnvOrDefault("LINKSTREAK_EMBED_PROVIDER", k.String("embed.provider"), def.Embed.Provider)),
			OllamaURL:   getEnvOrDefault("LINKSTREAK_OLLAMA_URL", k.String("embed.ollama_url"), def.Embed.OllamaURL),
			OllamaModel: getEnvOrDefault("LINKSTREAK_OLLAMA_MODEL", k.String("embed.ollama_model"), def.Embed.OllamaModel),
			JinaAPIKey:  getEnvOrDefaultMulti([]string{"LINKSTREAK_JINA_API_KEY", "JINA_API_KEY"}, k.String("embed.jina_api_key"), ""),
			JinaModel:   getEnvOrDefault("LINKSTREAK_JINA_MODEL", k.String("embed.jina_model"), ""),
		},
		Browser: BrowserConfig{
			Snapshot: getEnvOrDefault("LINKSTREAK_SNAPSHOT", k.String("browser.snapshot"), ""),
		},
		Events: EventsConfig{
			Path: getEnvOrDefault("LINKSTREAK_EVENTS", k.String("events.path"), filepath.Join(dataDir, "events.jsonl")),
		},
	}

	durations := []struct {
		env string
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"LINKSTREAK_INDEX_INTERVAL", "index.interval", def.Index.Interval, &cfg.Index.Interval},
		{"LINKSTREAK_HOST_INTERVAL", "index.host_interval", def.Index.HostInterval, &cfg.Index.HostInterval},
		{"LINKSTREAK_FETCH_TIMEOUT", "index.fetch_timeout", def.Index.FetchTimeout, &cfg.Index.FetchTimeout},
	}
	for _, d := range durations {
		v, err := getEnvDurationOrDefault(d.env, k, d.key, d.def)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		*d.dst = v
	}

	conc, err := getEnvIntOrDefault("LINKSTREAK_EMBED_CONCURRENCY", k.Int("search.embed_concurrency"), def.Search.EmbedConcurrency)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	cfg.Search.EmbedConcurrency = conc

	return cfg, append(loadErrs, cfg.Validate()...)
}

// getEnvOrDefault returns the environment variable if set, otherwise the
// koanf value, or def.
func getEnvOrDefault(envKey, koanfVal, def string) string {
	return getEnvOrDefaultMulti([]string{envKey}, koanfVal, def)
}

// getEnvOrDefaultMulti tries several environment variables in order.
func getEnvOrDefaultMulti(envKeys []string, koanfVal, def string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return def
}

func getEnvIntOrDefault(envKey string, koanfVal, def int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return def, fmt.Errorf("%s %w: %q", envKey, ErrInvalidNumber, val)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return def, nil
}

// getEnvDurationOrDefault accepts Go durations ("90s", "5m") or a plain
// number of seconds. An explicit zero in the file is kept.
func getEnvDurationOrDefault(envKey string, k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := parseDuration(val)
		if err != nil {
			return def, fmt.Errorf("%s %w: %q", envKey, ErrInvalidNumber, val)
		}
		return d, nil
	}
	if !k.Exists(key) {
		return def, nil
	}
	d, err := parseDuration(k.String(key))
	if err != nil {
		return def, fmt.Errorf("%s %w: %q", key, ErrInvalidNumber, k.String(key))
	}
	return d, nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate returns every problem with c. Empty means valid.
func (c *Config) Validate() []error {
	var errs []error

	switch c.Embed.Provider {
	case ProviderOllama:
	case ProviderJina:
		if c.Embed.JinaAPIKey == "" {
			errs = append(errs, ErrMissingJinaKey)
		}
	default:
		errs = append(errs, fmt.Errorf("%w, got %q", ErrUnknownProvider, c.Embed.Provider))
	}

	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidAddr, c.Addr))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w, got %q", ErrInvalidLogLevel, c.LogLevel))
	}

	if c.Index.Interval < 0 || c.Index.HostInterval < 0 || c.Index.FetchTimeout < 0 {
		errs = append(errs, ErrNegativeInterval)
	}
	if c.Search.EmbedConcurrency < 1 {
		errs = append(errs, fmt.Errorf("search.embed_concurrency %w >= 1", ErrInvalidNumber))
	}
	return errs
}

// Save writes c to path as YAML, creating the directory. Secrets are
// written too, so the file is private to the user.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Parser().Marshal(c.toMap())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) toMap() map[string]interface{} {
	embed := map[string]interface{}{
		"provider":     c.Embed.Provider,
		"ollama_url":   c.Embed.OllamaURL,
		"ollama_model": c.Embed.OllamaModel,
	}
	if c.Embed.JinaAPIKey != "" {
		embed["jina_api_key"] = c.Embed.JinaAPIKey
	}
	if c.Embed.JinaModel != "" {
		embed["jina_model"] = c.Embed.JinaModel
	}
	return map[string]interface{}{
		"data_dir":  c.DataDir,
		"db_path":   c.DBPath,
		"log_level": c.LogLevel,
		"addr":      c.Addr,
		"embed":     embed,
		"browser":   map[string]interface{}{"snapshot": c.Browser.Snapshot},
		"index": map[string]interface{}{
			"interval":      c.Index.Interval.String(),
			"host_interval": c.Index.HostInterval.String(),
			"fetch_timeout": c.Index.FetchTimeout.String(),
		},
		"search": map[string]interface{}{"embed_concurrency": c.Search.EmbedConcurrency},
		"events": map[string]interface{}{"path": c.Events.Path},
	}
}
