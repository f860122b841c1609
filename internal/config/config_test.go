package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
name = "field-unit"
bridge_addr = "10.0.0.7:5000"
data_dir = "/var/lib/meshctl"

[delivery]
max_attempts = 5
backoff_ms = 250
backoff_max_ms = 4000
backoff_no_jitter = true

[login]
attempts = 2

[trace]
timeout_seconds = 45

[timing]
base_ms = 2000
per_hop_ms = 250
per_byte_ms = 5
flood_hops = 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "field-unit" || cfg.BridgeAddr != "10.0.0.7:5000" || cfg.DataDir != "/var/lib/meshctl" {
		t.Fatalf("top level: %+v", cfg)
	}

	dc := cfg.DeliveryServiceConfig()
	if dc.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d", dc.MaxAttempts)
	}
	if dc.Backoff.InitialDelay != 250*time.Millisecond || dc.Backoff.MaxDelay != 4*time.Second || dc.Backoff.Jitter {
		t.Fatalf("backoff: %+v", dc.Backoff)
	}

	cc := cfg.ConnectorConfig()
	if cc.AppName != "field-unit" || cc.LoginAttempts != 2 || cc.TraceTimeout != 45*time.Second {
		t.Fatalf("connector: %+v", cc)
	}

	tm := cfg.TimingModel()
	if tm.Base != 2*time.Second || tm.PerHop != 250*time.Millisecond || tm.PerByte != 5*time.Millisecond || tm.FloodHops != 6 {
		t.Fatalf("timing: %+v", tm)
	}

	bc := cfg.BridgeConfig()
	if bc.Address != "10.0.0.7:5000" || bc.MaxFrameLen == 0 {
		t.Fatalf("bridge: %+v", bc)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `name = "bare"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BridgeAddr != "127.0.0.1:5000" || cfg.DataDir != "./data" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Delivery.MaxAttempts != 3 || cfg.Login.Attempts != 3 || cfg.Trace.TimeoutSeconds != 30 {
		t.Fatalf("policy defaults not applied: %+v", cfg)
	}
	// An omitted timing section falls back to the model defaults.
	tm := cfg.TimingModel()
	if tm.Base != 4*time.Second || tm.FloodHops != 8 {
		t.Fatalf("timing defaults: %+v", tm)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("missing file should be an error")
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, `name = [unclosed`)
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed file should be an error")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"blank name", func(c *Config) { c.Name = "  " }},
		{"blank bridge addr", func(c *Config) { c.BridgeAddr = "" }},
		{"blank data dir", func(c *Config) { c.DataDir = "" }},
		{"zero attempts", func(c *Config) { c.Delivery.MaxAttempts = -1 }},
		{"zero login attempts", func(c *Config) { c.Login.Attempts = -1 }},
		{"zero trace timeout", func(c *Config) { c.Trace.TimeoutSeconds = -1 }},
		{"negative flood hops", func(c *Config) { c.Timing.FloodHops = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNegativeAttemptsRejectedAtLoad(t *testing.T) {
	path := writeConfig(t, `
name = "x"
[delivery]
max_attempts = -2
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("negative attempts should be rejected")
	}
}
