package doctor

import (
	"os"
	"strings"

	"plugman/internal/config"
	"plugman/internal/host"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
	HostPath string    `json:"hostPath,omitempty"`
}

type Service struct {
	StatePath   string
	PluginsRoot string
	Process     host.Process
}

// Run compares the state file against the plugins root and probes the
// host install, reporting everything a user would want fixed. Warnings
// leave the report healthy; errors do not.
func (s *Service) Run() Report {
	findings := []Finding{}

	cfg, loadErr := config.Load(s.StatePath)
	if loadErr != nil {
		findings = append(findings, Finding{Code: "DOC_STATE_INVALID", Level: "error", Message: loadErr.Error()})
	} else if err := config.Validate(cfg); err != nil {
		findings = append(findings, Finding{Code: "DOC_RECORD_INVALID", Level: "error", Message: err.Error()})
	}

	rootExists := false
	if _, err := os.Stat(s.PluginsRoot); err == nil {
		rootExists = true
	} else {
		findings = append(findings, Finding{Code: "DOC_ROOT_MISSING", Level: "warn", Message: s.PluginsRoot + " does not exist yet (created on first install)"})
	}

	var hostPath string
	if s.Process != nil {
		path, err := s.Process.Locate()
		if err != nil {
			findings = append(findings, Finding{Code: "DOC_HOST_MISSING", Level: "warn", Message: err.Error()})
		} else {
			hostPath = path
		}
	}

	if loadErr == nil && rootExists {
		findings = append(findings, s.crossCheck(cfg)...)
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, HostPath: hostPath}
}

// crossCheck compares the registry against the directories actually on
// disk: records without an install, installs without a record.
func (s *Service) crossCheck(cfg config.Config) []Finding {
	var findings []Finding
	for _, name := range config.Names(cfg) {
		if _, err := os.Stat(config.PluginDir(s.PluginsRoot, name)); err != nil {
			findings = append(findings, Finding{
				Code:    "DOC_PLUGIN_DIR_MISSING",
				Level:   "warn",
				Message: name + " has a record but no installed directory",
			})
		}
	}
	entries, err := os.ReadDir(s.PluginsRoot)
	if err != nil {
		return findings
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := config.FindPlugin(cfg, e.Name()); ok {
			continue
		}
		findings = append(findings, Finding{
			Code:    "DOC_PLUGIN_UNTRACKED",
			Level:   "warn",
			Message: e.Name() + " is installed but not tracked in the state file",
		})
	}
	return findings
}
