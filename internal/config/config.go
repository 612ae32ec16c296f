// Package config loads the ceilings, tolerance ratio, and cache
// directory template the core's image store is configured with.
package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// Config holds the cache ceilings and related knobs.
type Config struct {
	SingleImageDiskCapMB int64   `toml:"single_image_disk_cap_mb"`
	TotalDiskCapMB       int64   `toml:"total_disk_cap_mb"`
	SingleImageRAMCapMB  int64   `toml:"single_image_ram_cap_mb"`
	TotalRAMCapMB        int64   `toml:"total_ram_cap_mb"`
	MaxImages            int     `toml:"max_images"`
	MaxPlacements        int     `toml:"max_placements"`
	Tolerance            float64 `toml:"tolerance"`
	CacheDirTemplate     string  `toml:"cache_dir_template"`
	Debug                bool    `toml:"debug"`
}

// Limits converts the MB-denominated config into the byte-denominated
// store.Limits the eviction passes operate on.
func (c *Config) Limits() store.Limits {
	const mib = 1 << 20
	return store.Limits{
		SingleImageDiskCap: c.SingleImageDiskCapMB * mib,
		TotalDiskCap:       c.TotalDiskCapMB * mib,
		SingleImageRAMCap:  c.SingleImageRAMCapMB * mib,
		TotalRAMCap:        c.TotalRAMCapMB * mib,
		MaxImages:          c.MaxImages,
		MaxPlacements:      c.MaxPlacements,
		Tolerance:          c.Tolerance,
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		SingleImageDiskCapMB: 20,
		TotalDiskCapMB:       300,
		SingleImageRAMCapMB:  100,
		TotalRAMCapMB:        300,
		MaxImages:            400,
		MaxPlacements:        1024,
		Tolerance:            0.0,
		CacheDirTemplate:     filepath.Join(os.TempDir(), "st-images-*"),
		Debug:                false,
	}
}

// Load reads configuration from the standard XDG search path.
func Load() (*Config, error) {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	return DefaultConfig(), nil
}

// LoadFromFile reads configuration from a specific TOML file.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes configuration from r, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets a handful of environment variables override
// values from the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TMPDIR"); v != "" {
		cfg.CacheDirTemplate = filepath.Join(v, "st-images-*")
	}
	if os.Getenv("ST_GRAPHICS_DEBUG") != "" {
		cfg.Debug = true
	}
}

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var paths []string

	xdg := xdgConfigHome(home)
	paths = append(paths, filepath.Join(xdg, "st-graphics", "config.toml"))

	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		paths = append(paths, filepath.Join(defaultXDG, "st-graphics", "config.toml"))
	}
	return paths
}

func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}
