package config

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicate reports an add for a name the registry already tracks.
	ErrDuplicate = errors.New("CFG_DUPLICATE: plugin already exists")
	// ErrNotFound reports an operation on a name the registry does not track.
	ErrNotFound = errors.New("CFG_NOT_FOUND: plugin not found")
)

// AddPlugin inserts a new record. The name and record are validated and the
// duplicate check happens before anything else touches the network or disk.
func AddPlugin(cfg *Config, name string, rec PluginRecord) error {
	if cfg == nil {
		return fmt.Errorf("CFG_MUTATE: nil config")
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateRepository(rec.Repository); err != nil {
		return err
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginRecord{}
	}
	if _, ok := cfg.Plugins[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	cfg.Plugins[name] = rec
	return nil
}

// RemovePlugin deletes a record by name.
func RemovePlugin(cfg *Config, name string) error {
	if cfg == nil {
		return fmt.Errorf("CFG_MUTATE: nil config")
	}
	if _, ok := cfg.Plugins[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(cfg.Plugins, name)
	return nil
}

// SetVersion records the tag of a successful install.
func SetVersion(cfg *Config, name, version string) error {
	if cfg == nil {
		return fmt.Errorf("CFG_MUTATE: nil config")
	}
	rec, ok := cfg.Plugins[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	rec.Version = version
	cfg.Plugins[name] = rec
	return nil
}

// SetPinned flips the pinned flag for one plugin.
func SetPinned(cfg *Config, name string, pinned bool) error {
	if cfg == nil {
		return fmt.Errorf("CFG_MUTATE: nil config")
	}
	rec, ok := cfg.Plugins[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	rec.Pinned = pinned
	cfg.Plugins[name] = rec
	return nil
}

// ResetPins clears every pinned flag and reports how many were set.
func ResetPins(cfg *Config) int {
	if cfg == nil {
		return 0
	}
	cleared := 0
	for name, rec := range cfg.Plugins {
		if rec.Pinned {
			rec.Pinned = false
			cfg.Plugins[name] = rec
			cleared++
		}
	}
	return cleared
}

// FindPlugin looks up a record by name.
func FindPlugin(cfg Config, name string) (PluginRecord, bool) {
	rec, ok := cfg.Plugins[name]
	return rec, ok
}

// Names returns all plugin names in sorted order.
func Names(cfg Config) []string {
	out := make([]string, 0, len(cfg.Plugins))
	for name := range cfg.Plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UnpinnedNames returns the sorted names eligible for bulk updates.
func UnpinnedNames(cfg Config) []string {
	out := make([]string, 0, len(cfg.Plugins))
	for name, rec := range cfg.Plugins {
		if !rec.Pinned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PinnedNames returns the sorted names excluded from bulk updates.
func PinnedNames(cfg Config) []string {
	out := make([]string, 0, len(cfg.Plugins))
	for name, rec := range cfg.Plugins {
		if rec.Pinned {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
