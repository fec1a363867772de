// Package config loads the swcache configuration from viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/network"
	"github.com/dgnsrekt/swcache/internal/worker"
	"github.com/dgnsrekt/swcache/utils"
)

var (
	// ErrNoSource is returned when neither an upstream nor a root is configured
	ErrNoSource = errors.New("no origin source: set upstream or root")

	// ErrInvalid wraps every validation failure
	ErrInvalid = errors.New("invalid configuration")
)

// Config is the complete swcache configuration.
type Config struct {
	// Public origin of the app; relative cache keys resolve against it
	Origin string `mapstructure:"origin"`

	// Where responses come from: an upstream base URL or a local directory
	Upstream string `mapstructure:"upstream"`
	Root     string `mapstructure:"root"`

	Listen string `mapstructure:"listen"`

	StaticCache  string   `mapstructure:"static_cache"`
	DynamicCache string   `mapstructure:"dynamic_cache"`
	StaticFiles  []string `mapstructure:"static_files"`
	OfflinePage  string   `mapstructure:"offline_page"`

	// Serve absolute-form requests for other origins (forward proxying)
	AllowCrossOrigin bool `mapstructure:"allow_cross_origin"`

	Install InstallConfig `mapstructure:"install"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Network NetworkConfig `mapstructure:"network"`
}

// InstallConfig tunes the precache step.
type InstallConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// CacheConfig selects and tunes the cache storage.
type CacheConfig struct {
	Backend          string        `mapstructure:"backend"`
	Dir              string        `mapstructure:"dir"`
	MemorySize       int           `mapstructure:"memory_size"` // MB
	CompressionLevel int           `mapstructure:"compression_level"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	DynamicWarnSize  int           `mapstructure:"dynamic_warn_size"` // MB
}

// NetworkConfig tunes the upstream fetcher.
type NetworkConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	wc := worker.DefaultConfig()
	return Config{
		Origin:       cache.DefaultOrigin,
		Listen:       "localhost:8080",
		StaticCache:  wc.StaticCache,
		DynamicCache: wc.DynamicCache,
		StaticFiles:  wc.Manifest,
		Install: InstallConfig{
			Concurrency: wc.InstallConcurrency,
		},
		Cache: CacheConfig{
			Backend:          cache.BackendDisk,
			MemorySize:       64,
			CompressionLevel: 3,
			FlushInterval:    time.Minute,
			DynamicWarnSize:  256,
		},
		Network: NetworkConfig{
			Burst: 1,
		},
	}
}

// SetDefaults registers the built-in values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("origin", d.Origin)
	v.SetDefault("upstream", "")
	v.SetDefault("root", "")
	v.SetDefault("listen", d.Listen)
	v.SetDefault("static_cache", d.StaticCache)
	v.SetDefault("dynamic_cache", d.DynamicCache)
	v.SetDefault("static_files", d.StaticFiles)
	v.SetDefault("offline_page", "")
	v.SetDefault("allow_cross_origin", false)
	v.SetDefault("install.concurrency", d.Install.Concurrency)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.memory_size", d.Cache.MemorySize)
	v.SetDefault("cache.compression_level", d.Cache.CompressionLevel)
	v.SetDefault("cache.flush_interval", d.Cache.FlushInterval)
	v.SetDefault("cache.dynamic_warn_size", d.Cache.DynamicWarnSize)
	v.SetDefault("network.requests_per_second", 0.0)
	v.SetDefault("network.burst", d.Network.Burst)
	v.SetDefault("network.timeout", time.Duration(0))
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	c.Root = utils.ExpandPath(c.Root)
	c.Cache.Dir = utils.ExpandPath(c.Cache.Dir)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.OfflinePage != "" && !worker.Manifest(c.StaticFiles).Contains(c.OfflinePage) {
		log.Warn("Offline page is not precached and can only be served once cached", "page", c.OfflinePage)
	}
	return &c, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: origin %q must be an absolute http(s) URL", ErrInvalid, c.Origin)
	}
	if c.Upstream != "" && c.Root != "" {
		return fmt.Errorf("%w: upstream and root are mutually exclusive", ErrInvalid)
	}

	switch c.Cache.Backend {
	case cache.BackendDisk, cache.BackendSQLite, cache.BackendMemory:
	default:
		return fmt.Errorf("%w: cache backend %q (use disk, sqlite or memory)", ErrInvalid, c.Cache.Backend)
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		return fmt.Errorf("%w: compression level must be between 0 and 22, got %d", ErrInvalid, c.Cache.CompressionLevel)
	}
	if c.Cache.MemorySize < 0 || c.Cache.DynamicWarnSize < 0 {
		return fmt.Errorf("%w: cache sizes must not be negative", ErrInvalid)
	}
	if c.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must not be negative", ErrInvalid)
	}

	for _, p := range c.StaticFiles {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: static_files contains an empty entry", ErrInvalid)
		}
	}

	if err := c.Worker().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Worker returns the worker settings.
func (c *Config) Worker() worker.Config {
	return worker.Config{
		StaticCache:        c.StaticCache,
		DynamicCache:       c.DynamicCache,
		Manifest:           worker.Manifest(c.StaticFiles),
		InstallConcurrency: c.Install.Concurrency,
		OfflinePage:        c.OfflinePage,
		AllowCrossOrigin:   c.AllowCrossOrigin,
		DynamicWarnSize:    int64(c.Cache.DynamicWarnSize) << 20,
	}
}

// Storage returns the cache storage settings.
func (c *Config) Storage() *cache.CacheConfig {
	return &cache.CacheConfig{
		Backend:          c.Cache.Backend,
		Dir:              c.Cache.Dir,
		Origin:           c.Origin,
		MemoryCapacity:   int64(c.Cache.MemorySize) << 20,
		CompressionLevel: c.Cache.CompressionLevel,
		FlushInterval:    c.Cache.FlushInterval,
	}
}

// Fetcher builds the network fetcher for the configured source.
func (c *Config) Fetcher() (network.Fetcher, error) {
	if c.Root != "" {
		return network.Dir(c.Root), nil
	}
	if c.Upstream == "" {
		return nil, ErrNoSource
	}
	f, err := network.NewHTTPFetcher(network.HTTPConfig{
		Upstream:          c.Upstream,
		Origin:            c.Origin,
		RequestsPerSecond: c.Network.RequestsPerSecond,
		Burst:             c.Network.Burst,
		Timeout:           c.Network.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SameVersion reports whether other describes the same worker version:
// same cache names, the same manifest and the same request handling.
func (c *Config) SameVersion(other *Config) bool {
	if c.StaticCache != other.StaticCache || c.DynamicCache != other.DynamicCache {
		return false
	}
	if c.AllowCrossOrigin != other.AllowCrossOrigin {
		return false
	}
	if c.OfflinePage != other.OfflinePage || len(c.StaticFiles) != len(other.StaticFiles) {
		return false
	}
	for i := range c.StaticFiles {
		if c.StaticFiles[i] != other.StaticFiles[i] {
			return false
		}
	}
	return true
}
