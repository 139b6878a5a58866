package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUnexploredExits != 4 || cfg.MaxNewExitsPerRoom != 3 {
		t.Fatalf("branching defaults = %d/%d", cfg.MaxUnexploredExits, cfg.MaxNewExitsPerRoom)
	}
	if cfg.JoinWindow() != time.Minute || cfg.IdleTimeout() != 10*time.Minute {
		t.Fatalf("window defaults = %v/%v", cfg.JoinWindow(), cfg.IdleTimeout())
	}
	if cfg.GatewayResetProbability != 0.75 {
		t.Fatalf("reset probability default = %v", cfg.GatewayResetProbability)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delve.yaml")
	data := []byte("max_unexplored_exits: 6\njoin_window_seconds: 0\ngateway_reset_probability: 1\nseed: 42\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxUnexploredExits != 6 {
		t.Fatalf("max_unexplored_exits = %d", cfg.MaxUnexploredExits)
	}
	// Zero is a legal join window; Normalize must not replace it.
	if cfg.JoinWindow() != 0 {
		t.Fatalf("join window = %v, want 0", cfg.JoinWindow())
	}
	if cfg.GatewayResetProbability != 1 {
		t.Fatalf("reset probability = %v", cfg.GatewayResetProbability)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxNewExitsPerRoom != 3 || cfg.IdleTimeout() != 10*time.Minute {
		t.Fatal("unset fields lost their defaults")
	}
	if cfg.Seed != 42 {
		t.Fatalf("seed = %d", cfg.Seed)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_unexplored_exits", func(c *Config) { c.MaxUnexploredExits = 0 }},
		{"negative max_new_exits_per_room", func(c *Config) { c.MaxNewExitsPerRoom = -1 }},
		{"negative join window", func(c *Config) { c.JoinWindowSeconds = -1 }},
		{"zero idle timeout", func(c *Config) { c.IdleTimeoutSeconds = 0 }},
		{"zero reaper interval", func(c *Config) { c.ReaperIntervalSeconds = 0 }},
		{"probability above one", func(c *Config) { c.GatewayResetProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.GatewayResetProbability = -0.1 }},
		{"zero sweep interval", func(c *Config) { c.ResetSweepIntervalSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
