// Package config loads pricecheck settings from a TOML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	perrors "github.com/matzehuels/pricecheck/pkg/errors"
	"github.com/matzehuels/pricecheck/pkg/httputil"
	"github.com/matzehuels/pricecheck/pkg/integrations"
)

const appName = "pricecheck"

// Environment variables consulted after the file is decoded.
const (
	EnvLogLevel       = "PRICECHECK_LOG_LEVEL"
	EnvRetryVerbosity = "PRICECHECK_RETRY_VERBOSITY"
	EnvUserAgent      = "PRICECHECK_USER_AGENT"
	EnvStatsdAddr     = "PRICECHECK_STATSD_ADDR"
)

// MaxRetriesLimit bounds max_retries for any upstream.
const MaxRetriesLimit = 10

var logLevels = []string{"debug", "info", "warn", "error"}

// Config is the whole configuration file.
type Config struct {
	Logging   Logging             `toml:"logging"`
	Metrics   Metrics             `toml:"metrics"`
	Server    Server              `toml:"server"`
	Upstreams map[string]Upstream `toml:"upstreams"`
}

// Logging selects the log level and how much retries log.
type Logging struct {
	Level          string `toml:"level"`
	RetryVerbosity string `toml:"retry_verbosity"`
}

// Metrics selects the metric sinks.
type Metrics struct {
	Prometheus   bool   `toml:"prometheus"`
	StatsdAddr   string `toml:"statsd_addr"`
	StatsdPrefix string `toml:"statsd_prefix"`
}

// Server configures the local proxy.
type Server struct {
	Addr              string  `toml:"addr"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Upstream configures one upstream client. Pointer fields distinguish an
// explicit zero from an omitted key.
type Upstream struct {
	BaseURL           string              `toml:"base_url"`
	RequestsPerSecond *float64            `toml:"requests_per_second"` // 0 disables limiting
	DefaultTTL        Duration            `toml:"default_ttl"`
	EndpointTTL       map[string]Duration `toml:"endpoint_ttl"`
	Timeout           Duration            `toml:"timeout"`
	UserAgent         string              `toml:"user_agent"`
	Headers           map[string]string   `toml:"headers"`
	CacheCapacity     int                 `toml:"cache_capacity"` // negative disables caching
	HashKeys          bool                `toml:"hash_keys"`
	MaxRetries        *int                `toml:"max_retries"`
	BaseDelay         Duration            `toml:"base_delay"`
	MaxDelay          Duration            `toml:"max_delay"`
	MaxConnsPerHost   int                 `toml:"max_conns_per_host"`
}

// Duration decodes TOML strings such as "5m" or "1h30m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the built-in configuration with no upstreams.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info", RetryVerbosity: httputil.VerbosityMinimal.String()},
		Metrics: Metrics{Prometheus: true, StatsdPrefix: appName},
		Server: Server{
			Addr:              "127.0.0.1:8787",
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Upstreams: map[string]Upstream{},
	}
}

// DefaultPath returns the config file location using the XDG standard
// (~/.config/pricecheck/config.toml).
func DefaultPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// Load reads the file at path over [Default], applies environment overrides
// and validates the result. An empty path means [DefaultPath], which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			p = ""
		}
		path = p
	}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case err == nil:
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return nil, perrors.New(perrors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "load %s", path)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML text over [Default] without touching the environment.
func Parse(data string) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRetryVerbosity); v != "" {
		c.Logging.RetryVerbosity = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStatsdAddr); v != "" {
		c.Metrics.StatsdAddr = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		for name, u := range c.Upstreams {
			u.UserAgent = v
			c.Upstreams[name] = u
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Logging.validate(); err != nil {
		return perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "logging")
	}
	if err := c.Server.validate(); err != nil {
		return perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "server")
	}
	for _, name := range c.UpstreamNames() {
		if err := c.Upstreams[name].validate(); err != nil {
			return perrors.Wrap(perrors.ErrCodeInvalidConfig, err, "upstream %s", name)
		}
	}
	return nil
}

func (l Logging) validate() error {
	if !slices.Contains(logLevels, l.Level) {
		return fmt.Errorf("level %q must be one of %s", l.Level, strings.Join(logLevels, ", "))
	}
	if _, ok := httputil.ParseVerbosity(l.RetryVerbosity); !ok {
		return fmt.Errorf("retry_verbosity %q must be minimal or detailed", l.RetryVerbosity)
	}
	return nil
}

func (s Server) validate() error {
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if s.Burst < 0 {
		return fmt.Errorf("burst must be >= 0")
	}
	return nil
}

func (u Upstream) validate() error {
	parsed, err := url.Parse(u.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", u.BaseURL)
	}
	if u.RequestsPerSecond != nil && *u.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if u.MaxRetries != nil && (*u.MaxRetries < 0 || *u.MaxRetries > MaxRetriesLimit) {
		return fmt.Errorf("max_retries must be between 0 and %d", MaxRetriesLimit)
	}
	for key, d := range map[string]Duration{
		"default_ttl": u.DefaultTTL,
		"timeout":     u.Timeout,
		"base_delay":  u.BaseDelay,
		"max_delay":   u.MaxDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	for endpoint, d := range u.EndpointTTL {
		if d < 0 {
			return fmt.Errorf("endpoint_ttl %q must be >= 0", endpoint)
		}
	}
	return nil
}

// UpstreamNames returns the configured upstream names in sorted order.
func (c *Config) UpstreamNames() []string {
	names := make([]string, 0, len(c.Upstreams))
	for name := range c.Upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// RetryVerbosity returns the configured retry verbosity.
func (c *Config) RetryVerbosity() httputil.Verbosity {
	v, _ := httputil.ParseVerbosity(c.Logging.RetryVerbosity)
	return v
}

// ClientConfigs converts every upstream for [integrations.NewRegistry].
func (c *Config) ClientConfigs() map[string]integrations.Config {
	out := make(map[string]integrations.Config, len(c.Upstreams))
	for name, u := range c.Upstreams {
		out[name] = u.ClientConfig(name)
	}
	return out
}

// ClientConfig converts u into an [integrations.Config]. Omitted values
// are left zero so the client applies its own defaults; explicit zeros
// that mean "off" are translated to the client's negative convention.
func (u Upstream) ClientConfig(name string) integrations.Config {
	cfg := integrations.Config{
		Name:            name,
		BaseURL:         u.BaseURL,
		DefaultTTL:      time.Duration(u.DefaultTTL),
		Timeout:         time.Duration(u.Timeout),
		UserAgent:       u.UserAgent,
		Headers:         u.Headers,
		CacheCapacity:   u.CacheCapacity,
		HashKeys:        u.HashKeys,
		BaseDelay:       time.Duration(u.BaseDelay),
		MaxDelay:        time.Duration(u.MaxDelay),
		MaxConnsPerHost: u.MaxConnsPerHost,
	}
	if u.RequestsPerSecond != nil {
		cfg.RequestsPerSecond = *u.RequestsPerSecond
		if cfg.RequestsPerSecond == 0 {
			cfg.RequestsPerSecond = -1
		}
	}
	if u.MaxRetries != nil {
		cfg.MaxRetries = *u.MaxRetries
		if cfg.MaxRetries == 0 {
			cfg.MaxRetries = -1
		}
	}
	if len(u.EndpointTTL) > 0 {
		cfg.EndpointTTL = make(map[string]time.Duration, len(u.EndpointTTL))
		for endpoint, d := range u.EndpointTTL {
			cfg.EndpointTTL[endpoint] = time.Duration(d)
		}
	}
	return cfg
}
