// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Drill  DrillConfig  `toml:"drill"`
	Mirror MirrorConfig `toml:"mirror"`
}

// DrillConfig maps drill-related settings.
type DrillConfig struct {
	Operation  *string  `toml:"operation"`
	Problems   *int     `toml:"problems"`
	MaxOperand *int     `toml:"max"`
	FocusWeak  *bool    `toml:"focus-weak"`
	WeakTop    *int     `toml:"weak-top"`
	WeakFactor *float64 `toml:"weak-factor"`
}

// MirrorConfig maps remote mirror settings. An absent endpoint disables
// mirroring entirely.
type MirrorConfig struct {
	Endpoint *string `toml:"endpoint"`
	Timeout  *string `toml:"timeout"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
