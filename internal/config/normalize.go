package config

import "strings"

// Normalize trims stray whitespace from hand-edited fields and guarantees
// the plugins map is usable. It never rejects anything; garbage values
// surface later with a precise error from the operation that needs them.
func Normalize(cfg Config) Config {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginRecord{}
		return cfg
	}
	out := make(map[string]PluginRecord, len(cfg.Plugins))
	for name, rec := range cfg.Plugins {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		rec.Repository = strings.TrimSpace(rec.Repository)
		rec.Version = strings.TrimSpace(rec.Version)
		rec.Pattern = strings.TrimSpace(rec.Pattern)
		out[name] = rec
	}
	cfg.Plugins = out
	return cfg
}
