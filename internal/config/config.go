// Package config loads and validates the meshctl TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/meshctl/internal/connector"
	"github.com/danmuck/meshctl/internal/delivery"
	"github.com/danmuck/meshctl/internal/protocol/timing"
	"github.com/danmuck/meshctl/internal/transport/tcpbridge"
)

// Config is the on-disk shape of meshctl.toml.
type Config struct {
	Name       string         `toml:"name"`
	BridgeAddr string         `toml:"bridge_addr"`
	DataDir    string         `toml:"data_dir"`
	Delivery   DeliveryConfig `toml:"delivery"`
	Login      LoginConfig    `toml:"login"`
	Trace      TraceConfig    `toml:"trace"`
	Timing     TimingConfig   `toml:"timing"`
}

type DeliveryConfig struct {
	MaxAttempts     int   `toml:"max_attempts"`
	BackoffMS       int64 `toml:"backoff_ms"`
	BackoffMaxMS    int64 `toml:"backoff_max_ms"`
	BackoffNoJitter bool  `toml:"backoff_no_jitter"`
}

type LoginConfig struct {
	Attempts int `toml:"attempts"`
}

type TraceConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type TimingConfig struct {
	BaseMS    int64 `toml:"base_ms"`
	PerHopMS  int64 `toml:"per_hop_ms"`
	PerByteMS int64 `toml:"per_byte_ms"`
	FloodHops int   `toml:"flood_hops"`
}

// Load reads path and applies defaults. A missing file is an error; use
// Default() for a config-less run.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg = cfg.withDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a runnable default configuration.
func Default() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "meshctl"
	}
	if c.BridgeAddr == "" {
		c.BridgeAddr = "127.0.0.1:5000"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Delivery.MaxAttempts == 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Login.Attempts == 0 {
		c.Login.Attempts = 3
	}
	if c.Trace.TimeoutSeconds == 0 {
		c.Trace.TimeoutSeconds = 30
	}
	return c
}

// Validate rejects configurations the connector cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.BridgeAddr) == "" {
		return fmt.Errorf("config missing bridge_addr")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config missing data_dir")
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be >= 1")
	}
	if cfg.Login.Attempts < 1 {
		return fmt.Errorf("login.attempts must be >= 1")
	}
	if cfg.Trace.TimeoutSeconds < 1 {
		return fmt.Errorf("trace.timeout_seconds must be >= 1")
	}
	if cfg.Timing.FloodHops < 0 {
		return fmt.Errorf("timing.flood_hops must be >= 0")
	}
	return nil
}

// TimingModel converts the timing section; zero fields take model
// defaults.
func (c Config) TimingModel() timing.Model {
	return timing.Model{
		Base:      time.Duration(c.Timing.BaseMS) * time.Millisecond,
		PerHop:    time.Duration(c.Timing.PerHopMS) * time.Millisecond,
		PerByte:   time.Duration(c.Timing.PerByteMS) * time.Millisecond,
		FloodHops: c.Timing.FloodHops,
	}.WithDefaults()
}

// ConnectorConfig builds the connector policy from the file.
func (c Config) ConnectorConfig() connector.Config {
	return connector.Config{
		AppName:       c.Name,
		LoginAttempts: c.Login.Attempts,
		TraceTimeout:  time.Duration(c.Trace.TimeoutSeconds) * time.Second,
		Timing:        c.TimingModel(),
	}
}

// DeliveryServiceConfig builds the delivery policy from the file.
func (c Config) DeliveryServiceConfig() delivery.Config {
	out := delivery.Config{
		MaxAttempts: c.Delivery.MaxAttempts,
		Backoff:     timing.DefaultBackoff(),
	}
	if c.Delivery.BackoffMS > 0 {
		out.Backoff.InitialDelay = time.Duration(c.Delivery.BackoffMS) * time.Millisecond
	}
	if c.Delivery.BackoffMaxMS > 0 {
		out.Backoff.MaxDelay = time.Duration(c.Delivery.BackoffMaxMS) * time.Millisecond
	}
	if c.Delivery.BackoffNoJitter {
		out.Backoff.Jitter = false
	}
	return out
}

// BridgeConfig builds the transport config from the file.
func (c Config) BridgeConfig() tcpbridge.Config {
	cfg := tcpbridge.DefaultConfig()
	cfg.Address = c.BridgeAddr
	return cfg
}
