// Package config loads the engine configuration from a YAML or JSON file,
// with CONVOY_-prefixed environment variables overriding individual keys.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/secutrans/convoy/core/scheduler"
	"github.com/secutrans/convoy/infra/fleet"
	"github.com/secutrans/convoy/infra/notify"
)

type Config struct {
	Store     StoreConfig      `json:"store"`
	Scheduler scheduler.Config `json:"scheduler"`
	Fleet     FleetConfig      `json:"fleet"`
	Metrics   MetricsConfig    `json:"metrics"`
	MQTT      MQTTConfig       `json:"mqtt"`
	API       APIConfig        `json:"api"`
	Notify    notify.Config    `json:"notify"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend string `json:"backend"`
	// Path is the sqlite database file.
	Path string `json:"path"`
	// DSN is the postgres connection string.
	DSN string `json:"dsn"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "sqlite" && c.Path == "" {
		c.Path = "convoy.db"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	return nil
}

// ResourceSeed declares one crew or vehicle known at startup. The MQTT status
// feed adds to and amends this initial roster at runtime.
type ResourceSeed struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Capacity int    `json:"capacity"`
}

// FleetConfig parameterizes grouping and proposal.
type FleetConfig struct {
	// FullDayVehicleAllocation is the vehicle count reserved for a full-day
	// route and the cap on partial-day tasks per route.
	FullDayVehicleAllocation int `json:"full_day_vehicle_allocation"`
	// UsageWindowDays is the lookback window for fairness ranking.
	UsageWindowDays int            `json:"usage_window_days"`
	Resources       []ResourceSeed `json:"resources"`
}

func (c *FleetConfig) SetDefaults() {
	if c.FullDayVehicleAllocation == 0 {
		c.FullDayVehicleAllocation = 3
	}
	if c.UsageWindowDays == 0 {
		c.UsageWindowDays = 30
	}
}

func (c FleetConfig) Validate() error {
	if c.FullDayVehicleAllocation < 1 {
		return fmt.Errorf("fleet.full_day_vehicle_allocation must be at least 1")
	}
	if c.UsageWindowDays < 1 {
		return fmt.Errorf("fleet.usage_window_days must be at least 1")
	}
	for _, r := range c.Resources {
		if r.ID == "" {
			return fmt.Errorf("fleet resource without id")
		}
		switch r.Kind {
		case "crew", "lead_vehicle", "chase_vehicle":
		default:
			return fmt.Errorf("fleet resource %s has unknown kind %q", r.ID, r.Kind)
		}
	}
	return nil
}

// MetricsConfig controls the Prometheus and InfluxDB sinks.
type MetricsConfig struct {
	PrometheusEnabled bool `json:"prometheus_enabled"`
	PrometheusPort    int  `json:"prometheus_port"`

	InfluxEnabled bool   `json:"influx_enabled"`
	InfluxURL     string `json:"influx_url"`
	InfluxToken   string `json:"influx_token"`
	InfluxOrg     string `json:"influx_org"`
	InfluxBucket  string `json:"influx_bucket"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusPort == 0 {
		c.PrometheusPort = 9090
	}
}

func (c MetricsConfig) Validate() error {
	if c.InfluxEnabled && c.InfluxURL == "" {
		return fmt.Errorf("metrics.influx_url is required when influx is enabled")
	}
	return nil
}

// MQTTConfig wraps the fleet status feed connection.
type MQTTConfig struct {
	Enabled bool         `json:"enabled"`
	Config  fleet.Config `json:",squash"`
}

func (c MQTTConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Config.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when the feed is enabled")
	}
	if c.Config.StatusTopic == "" {
		return fmt.Errorf("mqtt.status_topic is required when the feed is enabled")
	}
	return nil
}

// APIConfig controls the assignment HTTP API.
type APIConfig struct {
	Addr string `json:"addr"`
}

func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("CONVOY_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "convoy_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Store.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Fleet.SetDefaults()
	c.Metrics.SetDefaults()
	c.API.SetDefaults()
	c.Notify.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}
	if err := c.Fleet.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	return c.Notify.Validate()
}
