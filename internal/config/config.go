// Package config loads loxvm.toml, the interpreter's tuning file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name searched for by Find.
const FileName = "loxvm.toml"

// Default tuning, used when loxvm.toml omits a key.
const (
	DefaultInitialThreshold = 1024 * 1024
	DefaultGrowFactor       = 2.0
	DefaultMinHeap          = 64 * 1024
	DefaultFramesMax        = 64
	MaxFramesMax            = 4096
)

// Config is the full configuration.
type Config struct {
	GC  GC  `toml:"gc"`
	VM  VM  `toml:"vm"`
	Log Log `toml:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-"`
}

// GC tunes collector pacing.
type GC struct {
	// InitialThreshold is the number of allocated bytes that triggers the
	// first collection.
	InitialThreshold int `toml:"initial-threshold"`
	// GrowFactor multiplies the live heap after a collection to get the next
	// threshold.
	GrowFactor float64 `toml:"grow-factor"`
	// MinHeap is the floor for the next threshold.
	MinHeap int `toml:"min-heap"`
	// Stress collects at every opportunity.
	Stress bool `toml:"stress"`
}

// VM sizes the execution engine.
type VM struct {
	FramesMax int `toml:"frames-max"`
	// Color is "auto", "on" or "off".
	Color string `toml:"color"`
}

// Log controls diagnostic logging.
type Log struct {
	// Verbosity 0 logs errors only; 1 adds info; 2 and above add debug,
	// which includes one line per GC cycle.
	Verbosity int `toml:"verbosity"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GC: GC{
			InitialThreshold: DefaultInitialThreshold,
			GrowFactor:       DefaultGrowFactor,
			MinHeap:          DefaultMinHeap,
		},
		VM: VM{
			FramesMax: DefaultFramesMax,
			Color:     "auto",
		},
	}
}

// Load reads path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Find walks upward from startDir looking for loxvm.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Resolve loads explicit if set, else the nearest loxvm.toml above
// startDir, else the defaults.
func Resolve(explicit, startDir string) (Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.GC.InitialThreshold <= 0 {
		return fmt.Errorf("gc.initial-threshold must be positive, got %d", c.GC.InitialThreshold)
	}
	if c.GC.GrowFactor < 1 {
		return fmt.Errorf("gc.grow-factor must be at least 1, got %g", c.GC.GrowFactor)
	}
	if c.GC.MinHeap < 0 {
		return fmt.Errorf("gc.min-heap must not be negative, got %d", c.GC.MinHeap)
	}
	if c.VM.FramesMax < 1 || c.VM.FramesMax > MaxFramesMax {
		return fmt.Errorf("vm.frames-max must be in [1, %d], got %d", MaxFramesMax, c.VM.FramesMax)
	}
	switch c.VM.Color {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("vm.color must be auto, on or off, got %q", c.VM.Color)
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}
