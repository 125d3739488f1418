// Package config loads the validator configuration file and parses the textual
// collector, interval and mode inputs shared by the CLIs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"roafetch/pkg/logger"
	"roafetch/pkg/model"
	"roafetch/pkg/util/workers"
)

const (
	DefaultMode            = "historical"
	DefaultRouterID        = "192.0.2.1"
	DefaultLocalASN        = 65000
	DefaultSyncTimeout     = 30 * time.Second
	DefaultRefreshInterval = time.Minute
	DefaultCacheEntries    = 64
)

// Config is the validator configuration file
type Config struct {
	Collectors string `yaml:"collectors"`  // P:C;P:C
	Intervals  string `yaml:"intervals"`   // t0-t1,t2-t3
	Unified    bool   `yaml:"unified"`     // Merge all collectors into one table
	Mode       string `yaml:"mode"`        // historical or live
	BrokerURL  string `yaml:"broker_url"`  // Broker base URL, empty for the public broker
	SSHOptions string `yaml:"ssh_options"` // user,hostkey,privkey

	Broker  BrokerConfig  `yaml:"broker"`
	Dumps   DumpConfig    `yaml:"dumps"`
	Live    LiveConfig    `yaml:"live"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
}

// BrokerConfig tunes broker requests
type BrokerConfig struct {
	Timeout     time.Duration       `yaml:"timeout"`
	RateLimit   float64             `yaml:"rate_limit"`
	Burst       int                 `yaml:"burst"`
	MaxBodySize int                 `yaml:"max_body_size"`
	Retry       workers.RetryConfig `yaml:"retry"`
}

// DumpConfig tunes ROA dump downloads
type DumpConfig struct {
	Timeout      time.Duration       `yaml:"timeout"`
	RateLimit    float64             `yaml:"rate_limit"`
	Burst        int                 `yaml:"burst"`
	MaxBodySize  int                 `yaml:"max_body_size"`
	CacheEntries int                 `yaml:"cache_entries"`
	Retry        workers.RetryConfig `yaml:"retry"`
}

// LiveConfig configures the local RPKI client used in live mode
type LiveConfig struct {
	RouterID        string        `yaml:"router_id"`
	ASN             uint32        `yaml:"asn"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// MetricsConfig enables the prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. :9108, empty disables
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Broker.Retry.MaxAttempts <= 0 {
		c.Broker.Retry = workers.DefaultRetryConfig()
	}
	if c.Dumps.Retry.MaxAttempts <= 0 {
		c.Dumps.Retry = workers.DefaultRetryConfig()
	}
	if c.Dumps.CacheEntries == 0 {
		c.Dumps.CacheEntries = DefaultCacheEntries
	}
	if c.Live.RouterID == "" {
		c.Live.RouterID = DefaultRouterID
	}
	if c.Live.ASN == 0 {
		c.Live.ASN = DefaultLocalASN
	}
	if c.Live.SyncTimeout <= 0 {
		c.Live.SyncTimeout = DefaultSyncTimeout
	}
	if c.Live.RefreshInterval <= 0 {
		c.Live.RefreshInterval = DefaultRefreshInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the textual inputs without contacting anything
func (c *Config) Validate() error {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if _, err := ParseCollectors(c.Collectors); err != nil {
		return err
	}
	intervals, err := ParseIntervals(c.Intervals)
	if err != nil {
		return err
	}
	if mode == model.ModeHistorical && len(intervals) == 0 {
		return fmt.Errorf("%w: historical mode needs at least one interval", errInput)
	}
	return nil
}
