package config

import (
	"fmt"
	"strings"
)

// ValidateName rejects plugin names that cannot serve as a single install
// directory component. The name goes straight into filesystem paths, so
// separators and dot-relative components are refused outright.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("CFG_NAME: plugin name is required")
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("CFG_NAME: plugin name %q has leading or trailing whitespace", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("CFG_NAME: plugin name %q must not contain path separators", name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("CFG_NAME: plugin name %q is not a valid directory name", name)
	}
	if strings.ContainsRune(name, ':') {
		return fmt.Errorf("CFG_NAME: plugin name %q must not contain %q", name, ':')
	}
	return nil
}

// ValidateRepository requires the "owner/name" shape used by the forge's
// release endpoints.
func ValidateRepository(repo string) error {
	if strings.TrimSpace(repo) == "" {
		return fmt.Errorf("CFG_REPO: repository is required")
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("CFG_REPO: repository %q must be owner/name", repo)
	}
	if strings.ContainsAny(repo, " \t") {
		return fmt.Errorf("CFG_REPO: repository %q must not contain whitespace", repo)
	}
	return nil
}

// Validate checks every record in the registry. Loading stays tolerant of
// hand-edited files; this full check is for diagnostics.
func Validate(cfg Config) error {
	for name, rec := range cfg.Plugins {
		if err := ValidateName(name); err != nil {
			return err
		}
		if err := ValidateRepository(rec.Repository); err != nil {
			return fmt.Errorf("plugin %q: %w", name, err)
		}
	}
	return nil
}
