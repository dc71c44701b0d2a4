package config

// Config is the persisted registry: process-wide settings plus the table of
// managed plugins, all in one hand-editable TOML file.
type Config struct {
	Admin     bool                    `toml:"admin"`
	Token     string                  `toml:"token,omitempty"`
	NoRestart bool                    `toml:"no_restart"`
	Plugins   map[string]PluginRecord `toml:"plugins,omitempty"`
}

// PluginRecord describes one managed plugin. The registry map key is the
// plugin name and doubles as its install directory name.
type PluginRecord struct {
	// Repository is the source repository as "owner/name".
	Repository string `toml:"repository"`
	// Version is the release tag of the last successful install. It is an
	// opaque string; no semver semantics are assumed.
	Version string `toml:"version"`
	// Pattern optionally selects the release asset by regular expression
	// instead of the CPU-architecture heuristic.
	Pattern string `toml:"pattern,omitempty"`
	// Pinned excludes the plugin from bulk updates. Explicit updates by
	// name still apply.
	Pinned bool `toml:"pinned,omitempty"`
}

// Default returns the registry used when no state file exists yet.
func Default() Config {
	return Config{Plugins: map[string]PluginRecord{}}
}
