package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"plugman/internal/fsutil"
)

// Load reads the registry at path. A missing file yields the default
// registry; any other read failure or a TOML parse failure is an error.
// Unknown keys in a hand-edited file are tolerated, missing optional
// fields take their zero defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultStatePath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("CFG_PARSE: %w", err)
	}
	return Normalize(cfg), nil
}

// Save writes the registry atomically. Marshalling emits map keys in
// sorted order, so saved files are deterministic and diff-friendly.
func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultStatePath()
	}
	cfg = Normalize(cfg)
	blob, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("CFG_ENCODE: %w", err)
	}
	return fsutil.AtomicWrite(path, blob, 0o644)
}
