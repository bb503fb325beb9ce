package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Config represents the application configuration
type Config struct {
	Addr       string          `yaml:"addr,omitempty"`
	Manifest   string          `yaml:"manifest,omitempty"`
	PhotosDir  string          `yaml:"photos_dir,omitempty"`
	BucketMode string          `yaml:"bucket_mode,omitempty"`
	Playback   *PlaybackConfig `yaml:"playback,omitempty"`
	Geocoder   *GeocoderConfig `yaml:"geocoder,omitempty"`
	Cache      *CacheConfig    `yaml:"cache,omitempty"`
	Immich     *ImmichConfig   `yaml:"immich,omitempty"`
}

// PlaybackConfig holds slideshow pacing
type PlaybackConfig struct {
	BaseInterval time.Duration `yaml:"base_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	Speed        float64       `yaml:"speed"`
}

// GeocoderConfig holds reverse geocoding settings
type GeocoderConfig struct {
	URL         string        `yaml:"url"`
	UserAgent   string        `yaml:"user_agent"`
	Zoom        int           `yaml:"zoom"`
	MinInterval time.Duration `yaml:"min_interval"`
	Timeout     time.Duration `yaml:"timeout"`
	Disabled    bool          `yaml:"disabled"`
}

// CacheConfig holds the place name cache location
type CacheConfig struct {
	// Path of the SQLite database; empty keeps the cache in memory
	Path string `yaml:"path"`
}

// ImmichConfig holds Immich server connection details
type ImmichConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	// Optional RFC 3339 bounds on capture time
	After  string `yaml:"after,omitempty"`
	Before string `yaml:"before,omitempty"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		Addr:       ":8080",
		Manifest:   "photos.json",
		BucketMode: string(BucketHour),
		Playback: &PlaybackConfig{
			BaseInterval: DefaultPacing.Base,
			MinInterval:  DefaultPacing.Minimum,
			Speed:        1,
		},
		Geocoder: &GeocoderConfig{
			URL:         defaultNominatimURL,
			UserAgent:   defaultUserAgent,
			Zoom:        defaultGeocodeZoom,
			MinInterval: time.Second,
			Timeout:     30 * time.Second,
		},
		Cache: &CacheConfig{
			Path: filepath.Join(defaultDataDir(), "places.db"),
		},
	}
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "tripmap")
}

// DefaultConfigPath returns the default config file path following XDG spec
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "tripmap", "config.yaml")
}

// LoadConfig loads configuration from the specified path over the defaults.
// A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores sections a config file set to null
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Playback == nil {
		c.Playback = def.Playback
	}
	if c.Geocoder == nil {
		c.Geocoder = def.Geocoder
	}
	if c.Cache == nil {
		c.Cache = def.Cache
	}
}

// EnvLookup returns a lookup over the process environment, falling back to
// the given .env files. Missing files are ignored.
func EnvLookup(paths ...string) func(string) (string, bool) {
	fileVals := map[string]string{}
	for _, p := range paths {
		vals, err := godotenv.Read(p)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				klog.Warningf("ignoring env file %s: %v", p, err)
			}
			continue
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}
}

// ApplyEnv overrides settings with TRIPMAP_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("TRIPMAP_ADDR", &c.Addr)
	str("TRIPMAP_MANIFEST", &c.Manifest)
	str("TRIPMAP_PHOTOS_DIR", &c.PhotosDir)
	str("TRIPMAP_BUCKET_MODE", &c.BucketMode)
	str("TRIPMAP_CACHE_PATH", &c.Cache.Path)
	str("TRIPMAP_GEOCODER_URL", &c.Geocoder.URL)
	str("TRIPMAP_GEOCODER_USER_AGENT", &c.Geocoder.UserAgent)

	if v, ok := lookup("TRIPMAP_SPEED"); ok && v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRIPMAP_SPEED: %w", err)
		}
		c.Playback.Speed = speed
	}
	if v, ok := lookup("TRIPMAP_GEOCODER_DISABLED"); ok && v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRIPMAP_GEOCODER_DISABLED: %w", err)
		}
		c.Geocoder.Disabled = disabled
	}

	url, _ := lookup("TRIPMAP_IMMICH_URL")
	key, _ := lookup("TRIPMAP_IMMICH_API_KEY")
	if url != "" || key != "" {
		if c.Immich == nil {
			c.Immich = &ImmichConfig{}
		}
		str("TRIPMAP_IMMICH_URL", &c.Immich.URL)
		str("TRIPMAP_IMMICH_API_KEY", &c.Immich.APIKey)
	}
	return nil
}

// Validate checks values that would otherwise fail later
func (c *Config) Validate() error {
	if _, err := ParseBucketMode(c.BucketMode); err != nil {
		return err
	}
	if c.Playback.BaseInterval < c.Playback.MinInterval {
		return fmt.Errorf("playback base_interval %v is below min_interval %v", c.Playback.BaseInterval, c.Playback.MinInterval)
	}
	if c.Immich != nil {
		if _, err := c.Immich.bounds(); err != nil {
			return err
		}
	}
	return nil
}

// Pacing returns the slideshow timing
func (c *Config) Pacing() Pacing {
	p := Pacing{Base: c.Playback.BaseInterval, Minimum: c.Playback.MinInterval}
	if p.Base <= 0 {
		p.Base = DefaultPacing.Base
	}
	if p.Minimum <= 0 {
		p.Minimum = DefaultPacing.Minimum
	}
	return p
}

// ImmichConfigured returns true if Immich is configured
func (c *Config) ImmichConfigured() bool {
	return c != nil && c.Immich != nil && c.Immich.URL != "" && c.Immich.APIKey != ""
}

// bounds parses the optional capture time window
func (ic *ImmichConfig) bounds() ([2]*time.Time, error) {
	var out [2]*time.Time
	for i, s := range []string{ic.After, ic.Before} {
		if s == "" {
			continue
		}
		t, err := ParseCaptureTime(s)
		if err != nil {
			return out, fmt.Errorf("immich time bound: %w", err)
		}
		out[i] = &t
	}
	return out, nil
}
