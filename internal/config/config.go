// Package config loads sapphire.toml, modeled directly on
// dsmmcken-dh-cli's internal/config package: a plain struct, go-toml/v2
// for marshal/unmarshal, and a directory-resolution precedence chain.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk shape of sapphire.toml: device geometry, VM
// scheduling budgets, and the pixel-frame period, per SPEC_FULL.md §2
// "device geometry, VM cycle/thread budgets, and pixel-frame period".
type Config struct {
	Device DeviceConfig `toml:"device,omitempty"`
	Vm     VmConfig     `toml:"vm,omitempty"`
	Gfx    GfxConfig    `toml:"gfx,omitempty"`
}

// DeviceConfig describes the simulated flash device the FFS layer mounts.
type DeviceConfig struct {
	ImagePath  string `toml:"image_path,omitempty"`
	BlockSize  int    `toml:"block_size,omitempty"`
	BlockCount int    `toml:"block_count,omitempty"`
}

// VmConfig bounds the interpreter's cooperative scheduling budgets.
type VmConfig struct {
	MaxCycles uint32 `toml:"max_cycles,omitempty"`
	MaxThreads int   `toml:"max_threads,omitempty"`
	TickMs    uint64 `toml:"tick_ms,omitempty"`
}

// GfxConfig carries the pixel-frame period and process-wide layout flags
// gfx.Buffer needs but a program image doesn't itself carry.
type GfxConfig struct {
	FramePeriodMs int  `toml:"frame_period_ms,omitempty"`
	InterleaveX   bool `toml:"interleave_x,omitempty"`
	InvertX       bool `toml:"invert_x,omitempty"`
	Transpose     bool `toml:"transpose,omitempty"`
}

// Default returns a Config with Sapphire's built-in defaults, used when
// no sapphire.toml is present — mirroring the original firmware's
// compiled-in constants (§2's "the teacher has no config file").
func Default() Config {
	return Config{
		Vm: VmConfig{
			MaxCycles:  32000,
			MaxThreads: 8,
			TickMs:     100,
		},
		Gfx: GfxConfig{
			FramePeriodMs: 20,
		},
	}
}

var dirOverride string

// SetDir overrides the directory sapphire.toml is resolved from, e.g.
// from a --config-dir flag.
func SetDir(dir string) { dirOverride = dir }

// Dir returns the directory to look for sapphire.toml in. Precedence:
// SetDir override > SAPPHIRE_HOME env var > current directory.
func Dir() string {
	if dirOverride != "" {
		return dirOverride
	}
	if v := os.Getenv("SAPPHIRE_HOME"); v != "" {
		return v
	}
	return "."
}

// Path returns the full path to sapphire.toml.
func Path() string { return filepath.Join(Dir(), "sapphire.toml") }

// Load reads sapphire.toml, falling back to Default() if it does not
// exist — a missing config file is not an error, exactly as
// dsmmcken-dh-cli's Load treats a missing config.toml.
func Load() (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading sapphire.toml: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing sapphire.toml: %w", err)
	}
	return cfg, nil
}

// Save writes cfg back to sapphire.toml.
func Save(cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling sapphire.toml: %w", err)
	}
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(Path(), data, 0o644)
}
