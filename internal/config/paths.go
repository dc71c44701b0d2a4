package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// StateFileName is the registry file kept inside the plugins root, next to
// the plugin directories it describes.
const StateFileName = "plugman.toml"

// PluginsRoot returns the directory holding one subdirectory per installed
// plugin. PLUGMAN_PLUGINS_ROOT overrides; on Windows the default is the
// host launcher's plugin directory, elsewhere a per-user config location.
func PluginsRoot() string {
	if v := os.Getenv("PLUGMAN_PLUGINS_ROOT"); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Microsoft", "PowerToys", "PowerToys Run", "Plugins")
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "plugman", "plugins")
	}
	return filepath.Join(dir, "plugman", "plugins")
}

// DefaultStatePath returns the registry location: PLUGMAN_CONFIG if set,
// otherwise the state file inside the plugins root.
func DefaultStatePath() string {
	if v := os.Getenv("PLUGMAN_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(PluginsRoot(), StateFileName)
}

// PluginDir returns the install directory for a named plugin.
func PluginDir(root, name string) string {
	return filepath.Join(root, name)
}

// ExpandPath resolves a leading "~" to the user home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
