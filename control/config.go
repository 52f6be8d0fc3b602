// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Scheduler configuration: defaults, validation and file loading.
// Configuration is read once when a registry is created.

package control

import (
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/hioload-hpts/api"
)

// BindPolicy selects how entry workers are pinned.
type BindPolicy string

const (
	BindNone BindPolicy = "none"
	BindCPU  BindPolicy = "cpu"
	BindNUMA BindPolicy = "numa"
)

// Limits enforced by Validate.
const (
	MinSlotCount = 16
	MaxSlotCount = 1 << 22
	MaxMinSleep  = 100 * time.Millisecond
)

// Duration is a time.Duration that reads and writes as "10us" style text.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all scheduler configuration parameters.
type Config struct {
	Policy          BindPolicy `toml:"policy" json:"policy"`
	SlotQuantum     Duration   `toml:"slot_quantum" json:"slot_quantum"`         // time covered by one slot
	SlotCount       int        `toml:"slot_count" json:"slot_count"`             // wheel size, power of two
	MinSleep        Duration   `toml:"min_sleep" json:"min_sleep"`               // sleep floor between passes
	MaxEntries      int        `toml:"max_entries" json:"max_entries"`           // 0 = one entry per available CPU
	FallbackCPU     int        `toml:"fallback_cpu" json:"fallback_cpu"`         // -1 = first healthy entry
	BehindThreshold int        `toml:"behind_threshold" json:"behind_threshold"` // slots of lag before a direct pass
	DirectRate      float64    `toml:"direct_rate" json:"direct_rate"`           // direct passes/sec per entry
	Diagnostics     bool       `toml:"diagnostics" json:"diagnostics"`
	LogLevel        string     `toml:"log_level" json:"log_level"`
	LogFormat       string     `toml:"log_format" json:"log_format"` // console | json
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy:          BindNone,
		SlotQuantum:     Duration(10 * time.Microsecond),
		SlotCount:       1 << 17,
		MinSleep:        Duration(250 * time.Microsecond),
		MaxEntries:      0,
		FallbackCPU:     -1,
		BehindThreshold: 4,
		DirectRate:      2000,
		Diagnostics:     true,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Quantum returns the slot quantum as a time.Duration.
func (c *Config) Quantum() time.Duration { return time.Duration(c.SlotQuantum) }

// Floor returns the minimum sleep as a time.Duration.
func (c *Config) Floor() time.Duration { return time.Duration(c.MinSleep) }

// Horizon is the span of one wheel revolution.
func (c *Config) Horizon() time.Duration {
	return c.Quantum() * time.Duration(c.SlotCount)
}

// Validate checks the configuration and reports the first violation.
func (c *Config) Validate() error {
	fail := func(key string, v any, why string) error {
		return api.NewError(api.ErrCodeInvalidConfig, why).
			Wrap(api.ErrInvalidConfig).
			WithContext(key, v)
	}
	switch c.Policy {
	case BindNone, BindCPU, BindNUMA:
	default:
		return fail("policy", c.Policy, "unknown binding policy")
	}
	if c.Quantum() <= 0 {
		return fail("slot_quantum", c.Quantum(), "slot quantum must be positive")
	}
	if c.SlotCount < MinSlotCount || c.SlotCount > MaxSlotCount || bits.OnesCount(uint(c.SlotCount)) != 1 {
		return fail("slot_count", c.SlotCount, "slot count must be a power of two in range")
	}
	if c.Floor() < 0 || c.Floor() > MaxMinSleep {
		return fail("min_sleep", c.Floor(), "min sleep out of range")
	}
	if c.MaxEntries < 0 {
		return fail("max_entries", c.MaxEntries, "max entries must not be negative")
	}
	if c.BehindThreshold < 1 {
		return fail("behind_threshold", c.BehindThreshold, "behind threshold must be at least one slot")
	}
	if c.DirectRate <= 0 {
		return fail("direct_rate", c.DirectRate, "direct rate must be positive")
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fail("log_format", c.LogFormat, "unknown log format")
	}
	return nil
}

// Snapshot flattens the configuration for api.Control consumers.
func (c *Config) Snapshot() map[string]any {
	return map[string]any{
		"policy":           string(c.Policy),
		"slot_quantum":     c.Quantum().String(),
		"slot_count":       c.SlotCount,
		"min_sleep":        c.Floor().String(),
		"max_entries":      c.MaxEntries,
		"fallback_cpu":     c.FallbackCPU,
		"behind_threshold": c.BehindThreshold,
		"direct_rate":      c.DirectRate,
		"diagnostics":      c.Diagnostics,
		"log_level":        c.LogLevel,
		"log_format":       c.LogFormat,
	}
}

// LoadConfigFile reads a .toml or .json file over DefaultConfig and validates it.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("control: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("control: %s: unknown keys %v: %w", path, undecoded, api.ErrInvalidConfig)
		}
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("control: read %s: %w", path, err)
		}
		if err := sonnet.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("control: decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("control: unsupported config extension %q: %w", ext, api.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
