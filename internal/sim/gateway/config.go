package gateway

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"delvecraft.io/internal/sim/dungeon"
)

// Config is the recognized tuning surface for the gateway and its instances.
type Config struct {
	MaxUnexploredExits int `yaml:"max_unexplored_exits"`
	MaxNewExitsPerRoom int `yaml:"max_new_exits_per_room"`

	// JoinWindowSeconds is how long a freshly bound gateway direction keeps
	// admitting agents into the same instance.
	JoinWindowSeconds float64 `yaml:"join_window_seconds"`
	// IdleTimeoutSeconds is how long an instance may go without activity
	// before the reaper dissolves it.
	IdleTimeoutSeconds    float64 `yaml:"idle_timeout_seconds"`
	ReaperIntervalSeconds float64 `yaml:"reaper_interval_seconds"`
	// GatewayResetProbability is the per-direction chance, each reset sweep,
	// of re-arming a direction whose join window has elapsed.
	GatewayResetProbability   float64 `yaml:"gateway_reset_probability"`
	ResetSweepIntervalSeconds float64 `yaml:"reset_sweep_interval_seconds"`

	// Seed makes instance generation reproducible when non-zero.
	Seed int64 `yaml:"seed"`
}

func defaults() Config {
	return Config{
		MaxUnexploredExits:        4,
		MaxNewExitsPerRoom:        3,
		JoinWindowSeconds:         60,
		IdleTimeoutSeconds:        600,
		ReaperIntervalSeconds:     30,
		GatewayResetProbability:   0.75,
		ResetSweepIntervalSeconds: 15,
	}
}

// Load reads a YAML config file, falling back to defaults for an empty path.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("gateway config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("gateway config: %w", err)
	}
	return cfg, nil
}

// Normalize fills unset interval fields from defaults. Zero is a legal value
// for the join window and the reset probability, so those are left alone.
func (c *Config) Normalize() {
	d := defaults()
	if c.MaxUnexploredExits == 0 {
		c.MaxUnexploredExits = d.MaxUnexploredExits
	}
	if c.MaxNewExitsPerRoom == 0 {
		c.MaxNewExitsPerRoom = d.MaxNewExitsPerRoom
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = d.IdleTimeoutSeconds
	}
	if c.ReaperIntervalSeconds == 0 {
		c.ReaperIntervalSeconds = d.ReaperIntervalSeconds
	}
	if c.ResetSweepIntervalSeconds == 0 {
		c.ResetSweepIntervalSeconds = d.ResetSweepIntervalSeconds
	}
}

func (c Config) Validate() error {
	if c.MaxUnexploredExits < 1 {
		return fmt.Errorf("max_unexplored_exits must be >= 1, got %d", c.MaxUnexploredExits)
	}
	if c.MaxNewExitsPerRoom < 1 {
		return fmt.Errorf("max_new_exits_per_room must be >= 1, got %d", c.MaxNewExitsPerRoom)
	}
	if c.JoinWindowSeconds < 0 {
		return fmt.Errorf("join_window_seconds must be >= 0, got %v", c.JoinWindowSeconds)
	}
	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be > 0, got %v", c.IdleTimeoutSeconds)
	}
	if c.ReaperIntervalSeconds <= 0 {
		return fmt.Errorf("reaper_interval_seconds must be > 0, got %v", c.ReaperIntervalSeconds)
	}
	if c.GatewayResetProbability < 0 || c.GatewayResetProbability > 1 {
		return fmt.Errorf("gateway_reset_probability must be in [0,1], got %v", c.GatewayResetProbability)
	}
	if c.ResetSweepIntervalSeconds <= 0 {
		return fmt.Errorf("reset_sweep_interval_seconds must be > 0, got %v", c.ResetSweepIntervalSeconds)
	}
	return nil
}

func (c Config) JoinWindow() time.Duration {
	return time.Duration(c.JoinWindowSeconds * float64(time.Second))
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds * float64(time.Second))
}

func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds * float64(time.Second))
}

func (c Config) ResetSweepInterval() time.Duration {
	return time.Duration(c.ResetSweepIntervalSeconds * float64(time.Second))
}

// Generation is the per-instance branching policy slice of the config.
func (c Config) Generation() dungeon.Config {
	return dungeon.Config{
		MaxUnexploredExits: c.MaxUnexploredExits,
		MaxNewExitsPerRoom: c.MaxNewExitsPerRoom,
	}
}
