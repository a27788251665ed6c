// Package config loads and validates service configuration from an
// optional YAML file, environment variables (SENTINEL_*), and defaults.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/viper"

	"sentinel/core"
)

// StartupMode defines how initialization failures are handled.
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default).
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings.
	StartupModeGraceful StartupMode = "graceful"
)

// Config holds all configuration for the detection core.
type Config struct {
	StartupMode StartupMode `mapstructure:"startup_mode"`

	Buffer struct {
		// MaxEvents is the rolling event buffer capacity.
		MaxEvents int `mapstructure:"max_events"`
	} `mapstructure:"buffer"`

	Retention struct {
		// Days is how long persisted events are kept before the
		// maintenance purge removes them.
		Days int `mapstructure:"days"`
		// PurgeIntervalMinutes is the purge cadence.
		PurgeIntervalMinutes int `mapstructure:"purge_interval_minutes"`
	} `mapstructure:"retention"`

	Window struct {
		// SweepIntervalSeconds is the counter-store reclaim cadence.
		SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
		// MaxPerKey bounds occurrences retained per counter key.
		MaxPerKey int `mapstructure:"max_per_key"`
	} `mapstructure:"window"`

	Baseline struct {
		MaxSamples int `mapstructure:"max_samples"`
		MinSamples int `mapstructure:"min_samples"`
	} `mapstructure:"baseline"`

	MongoDB struct {
		Enabled        bool   `mapstructure:"enabled"`
		URI            string `mapstructure:"uri"`
		Database       string `mapstructure:"database"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"mongodb"`

	Notifications struct {
		Enabled       bool   `mapstructure:"enabled"`
		MinSeverity   string `mapstructure:"min_severity"`
		RatePerMinute int    `mapstructure:"rate_per_minute"`
		SMTP          struct {
			Host     string `mapstructure:"host"`
			Port     int    `mapstructure:"port"`
			From     string `mapstructure:"from"`
			Username string `mapstructure:"username"`
			Password string `mapstructure:"password"`
		} `mapstructure:"smtp"`
		// Recipients maps severity tiers (low/medium/high/critical) to
		// recipient lists.
		Recipients map[string][]string `mapstructure:"recipients"`
	} `mapstructure:"notifications"`

	Intel struct {
		// BlacklistedIPs is the static block list loaded at startup
		// under the source name "config_blacklist".
		BlacklistedIPs []string `mapstructure:"blacklisted_ips"`
		// SourceFiles maps source names to YAML indicator files.
		SourceFiles map[string]string `mapstructure:"source_files"`
	} `mapstructure:"intel"`

	Containment struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"containment"`

	Metrics struct {
		// ListenAddress serves Prometheus metrics; empty disables the
		// listener.
		ListenAddress string `mapstructure:"listen_address"`
	} `mapstructure:"metrics"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("startup_mode", string(StartupModeStrict))

	v.SetDefault("buffer.max_events", 10000)

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.purge_interval_minutes", 60)

	v.SetDefault("window.sweep_interval_seconds", 60)
	v.SetDefault("window.max_per_key", 10000)

	v.SetDefault("baseline.max_samples", 100)
	v.SetDefault("baseline.min_samples", 10)

	v.SetDefault("mongodb.enabled", false)
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "sentinel")
	v.SetDefault("mongodb.timeout_seconds", 5)

	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.min_severity", string(core.SeverityHigh))
	v.SetDefault("notifications.rate_per_minute", 30)
	v.SetDefault("notifications.smtp.port", 587)

	v.SetDefault("containment.enabled", true)

	v.SetDefault("metrics.listen_address", ":9108")

	v.SetDefault("log.level", "info")
}

// Load reads configuration from the given file path (optional; empty
// means defaults plus environment only) and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("startup_mode must be %q or %q, got %q",
			StartupModeStrict, StartupModeGraceful, c.StartupMode)
	}
	if c.Buffer.MaxEvents < 1 {
		return fmt.Errorf("buffer.max_events must be at least 1")
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1")
	}
	if sev := core.Severity(c.Notifications.MinSeverity); !sev.IsValid() {
		return fmt.Errorf("notifications.min_severity %q is not a severity", c.Notifications.MinSeverity)
	}
	for tier := range c.Notifications.Recipients {
		if !core.Severity(tier).IsValid() {
			return fmt.Errorf("notifications.recipients key %q is not a severity", tier)
		}
	}
	for _, ip := range c.Intel.BlacklistedIPs {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("intel.blacklisted_ips entry %q is not an IP address", ip)
		}
	}
	return nil
}
