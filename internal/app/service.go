package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"plugman/internal/archive"
	"plugman/internal/audit"
	"plugman/internal/config"
	"plugman/internal/doctor"
	"plugman/internal/forge"
	"plugman/internal/host"
	"plugman/internal/selfupdate"
)

// Chooser picks an asset index when automatic matching finds no single
// candidate. The interactive prompt lives in the cmd layer; the core
// only ever sees the chosen index.
type Chooser func(plugin string, choice *forge.ManualChoice) (int, error)

type Options struct {
	StatePath  string
	Version    string
	HTTPClient *http.Client
	Process    host.Process
	Chooser    Chooser
}

type Service struct {
	StatePath   string
	Config      config.Config
	PluginsRoot string

	Forge     *forge.Client
	Installer *archive.Installer
	Process   host.Process
	Audit     *audit.Logger
	Doctor    *doctor.Service
	Updater   *selfupdate.Service
	Chooser   Chooser
}

func New(opts Options) (*Service, error) {
	statePath := opts.StatePath
	if statePath == "" {
		statePath = config.DefaultStatePath()
	}
	cfg, err := config.Load(statePath)
	if err != nil {
		return nil, err
	}
	root := config.PluginsRoot()
	fc := forge.NewClient(opts.HTTPClient, cfg.Token)
	proc := opts.Process
	if proc == nil {
		proc = host.NewProcess()
	}
	return &Service{
		StatePath:   statePath,
		Config:      cfg,
		PluginsRoot: root,
		Forge:       fc,
		Installer:   archive.New(root, opts.HTTPClient),
		Process:     proc,
		Audit:       audit.New(filepath.Join(filepath.Dir(statePath), "audit.log")),
		Doctor:      &doctor.Service{StatePath: statePath, PluginsRoot: root, Process: proc},
		Updater:     selfupdate.New(fc, opts.Version),
		Chooser:     opts.Chooser,
	}, nil
}

const (
	StatusInstalled = "installed"
	StatusUpdated   = "updated"
	StatusCurrent   = "current"
	StatusRemoved   = "removed"
	StatusFailed    = "failed"
	StatusPinned    = "pinned"
	StatusUnpinned  = "unpinned"
	StatusRecorded  = "recorded"
)

// PluginResult is the outcome for one plugin within a command.
type PluginResult struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type Report struct {
	Results []PluginResult `json:"results"`
	Notes   []string       `json:"notes,omitempty"`
}

func (r *Report) fail(name string, err error) {
	r.Results = append(r.Results, PluginResult{Name: name, Status: StatusFailed, Error: err.Error()})
}

// Failed counts plugins that did not complete.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Add installs a new plugin and records it in the state file. The
// duplicate check runs before any network or host activity.
func (s *Service) Add(ctx context.Context, name, repo, version, pattern string) (Report, error) {
	name = strings.TrimSpace(name)
	repo = strings.TrimSpace(repo)
	pattern = strings.TrimSpace(pattern)
	if err := config.ValidateName(name); err != nil {
		return Report{}, err
	}
	if err := config.ValidateRepository(repo); err != nil {
		return Report{}, err
	}
	if _, ok := config.FindPlugin(s.Config, name); ok {
		return Report{}, fmt.Errorf("%w: %q", config.ErrDuplicate, name)
	}

	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	asset, err := s.resolveAsset(ctx, name, repo, strings.TrimSpace(version), pattern)
	if err != nil {
		s.log("add", name, version, "resolve", audit.StatusError, err.Error())
		return Report{}, err
	}

	ctrl := s.controller()
	if err := ctrl.Begin(ctx, host.PluginFiles(s.PluginsRoot, []string{name})); err != nil {
		return Report{}, err
	}
	var report Report
	installErr := s.Installer.Install(ctx, name, asset)
	if installErr == nil {
		rec := config.PluginRecord{Repository: repo, Version: asset.Tag, Pattern: pattern}
		if installErr = config.AddPlugin(&s.Config, name, rec); installErr == nil {
			installErr = config.Save(s.StatePath, s.Config)
		}
	}
	if installErr == nil {
		report.Results = append(report.Results, PluginResult{Name: name, Version: asset.Tag, Status: StatusInstalled})
		s.log("add", name, asset.Tag, "install", audit.StatusOK, "")
	} else {
		s.log("add", name, asset.Tag, "install", audit.StatusError, installErr.Error())
	}
	notes, endErr := ctrl.End(ctx)
	report.Notes = notes
	if installErr != nil {
		return report, installErr
	}
	return report, endErr
}

type workItem struct {
	name  string
	asset forge.SelectedAsset
}

// Update re-resolves the targets and reinstalls the ones whose
// resolved tag moved. A plugin already at the resolved tag is a no-op
// and triggers no download. Explicit versions align positionally with
// names. With all set, every unpinned plugin is targeted; pinned
// plugins still update when named explicitly.
func (s *Service) Update(ctx context.Context, names, versions []string, all bool) (Report, error) {
	if all {
		names = config.UnpinnedNames(s.Config)
		versions = nil
	}
	if len(names) == 0 {
		if all {
			return Report{}, nil
		}
		return Report{}, fmt.Errorf("CFG_TARGET: at least one plugin name or --all is required")
	}

	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	var report Report
	var work []workItem
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		rec, ok := config.FindPlugin(s.Config, name)
		if !ok {
			report.fail(name, fmt.Errorf("%w: %q", config.ErrNotFound, name))
			continue
		}
		version := ""
		if i < len(versions) {
			version = strings.TrimSpace(versions[i])
		}
		asset, err := s.resolveAsset(ctx, name, rec.Repository, version, rec.Pattern)
		if err != nil {
			report.fail(name, err)
			s.log("update", name, version, "resolve", audit.StatusError, err.Error())
			continue
		}
		if asset.Tag == rec.Version {
			report.Results = append(report.Results, PluginResult{Name: name, Version: rec.Version, Status: StatusCurrent})
			s.log("update", name, rec.Version, "resolve", audit.StatusSkip, "already current")
			continue
		}
		work = append(work, workItem{name: name, asset: asset})
	}
	if len(work) == 0 {
		return report, nil
	}

	targets := make([]string, len(work))
	for i, w := range work {
		targets[i] = w.name
	}
	ctrl := s.controller()
	if err := ctrl.Begin(ctx, host.PluginFiles(s.PluginsRoot, targets)); err != nil {
		return report, err
	}
	var abort error
	for _, w := range work {
		err := s.Installer.Install(ctx, w.name, w.asset)
		if err == nil {
			err = config.SetVersion(&s.Config, w.name, w.asset.Tag)
		}
		if err != nil {
			report.fail(w.name, err)
			s.log("update", w.name, w.asset.Tag, "install", audit.StatusError, err.Error())
			continue
		}
		if err := config.Save(s.StatePath, s.Config); err != nil {
			abort = err
			break
		}
		report.Results = append(report.Results, PluginResult{Name: w.name, Version: w.asset.Tag, Status: StatusUpdated})
		s.log("update", w.name, w.asset.Tag, "install", audit.StatusOK, "")
	}
	notes, endErr := ctrl.End(ctx)
	report.Notes = notes
	if abort != nil {
		return report, abort
	}
	return report, endErr
}

// Remove deletes installs and their records. An already-absent install
// directory is tolerated; an unknown name fails just that target.
func (s *Service) Remove(ctx context.Context, names []string) (Report, error) {
	if len(names) == 0 {
		return Report{}, fmt.Errorf("CFG_TARGET: at least one plugin name is required")
	}

	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	var report Report
	var targets []string
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if _, ok := config.FindPlugin(s.Config, name); !ok {
			report.fail(name, fmt.Errorf("%w: %q", config.ErrNotFound, name))
			continue
		}
		targets = append(targets, name)
	}
	if len(targets) == 0 {
		return report, nil
	}

	ctrl := s.controller()
	if err := ctrl.Begin(ctx, host.PluginFiles(s.PluginsRoot, targets)); err != nil {
		return report, err
	}
	var abort error
	for _, name := range targets {
		err := s.Installer.Remove(name)
		if err == nil {
			err = config.RemovePlugin(&s.Config, name)
		}
		if err != nil {
			report.fail(name, err)
			s.log("remove", name, "", "remove", audit.StatusError, err.Error())
			continue
		}
		if err := config.Save(s.StatePath, s.Config); err != nil {
			abort = err
			break
		}
		report.Results = append(report.Results, PluginResult{Name: name, Status: StatusRemoved})
		s.log("remove", name, "", "remove", audit.StatusOK, "")
	}
	notes, endErr := ctrl.End(ctx)
	report.Notes = notes
	if abort != nil {
		return report, abort
	}
	return report, endErr
}

// Pin marks plugins so update --all passes them by.
func (s *Service) Pin(names []string) (Report, error) {
	return s.setPinned(names, true, StatusPinned)
}

func (s *Service) Unpin(names []string) (Report, error) {
	return s.setPinned(names, false, StatusUnpinned)
}

func (s *Service) setPinned(names []string, pinned bool, status string) (Report, error) {
	if len(names) == 0 {
		return Report{}, fmt.Errorf("CFG_TARGET: at least one plugin name is required")
	}
	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	var report Report
	changed := false
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if err := config.SetPinned(&s.Config, name, pinned); err != nil {
			report.fail(name, err)
			continue
		}
		changed = true
		rec, _ := config.FindPlugin(s.Config, name)
		report.Results = append(report.Results, PluginResult{Name: name, Version: rec.Version, Status: status})
	}
	if changed {
		if err := config.Save(s.StatePath, s.Config); err != nil {
			return report, err
		}
	}
	return report, nil
}

// PinReset clears every pin and reports how many there were.
func (s *Service) PinReset() (int, error) {
	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return 0, err
	}
	defer unlock()

	count := config.ResetPins(&s.Config)
	if count == 0 {
		return 0, nil
	}
	return count, config.Save(s.StatePath, s.Config)
}

func (s *Service) Pins() []string {
	return config.PinnedNames(s.Config)
}

// PluginInfo is one row of the listing.
type PluginInfo struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Version    string `json:"version"`
	Pattern    string `json:"pattern,omitempty"`
	Pinned     bool   `json:"pinned"`
	Installed  bool   `json:"installed"`
}

func (s *Service) List() []PluginInfo {
	names := config.Names(s.Config)
	out := make([]PluginInfo, 0, len(names))
	for _, name := range names {
		rec, _ := config.FindPlugin(s.Config, name)
		_, statErr := os.Stat(config.PluginDir(s.PluginsRoot, name))
		out = append(out, PluginInfo{
			Name:       name,
			Repository: rec.Repository,
			Version:    rec.Version,
			Pattern:    rec.Pattern,
			Pinned:     rec.Pinned,
			Installed:  statErr == nil,
		})
	}
	return out
}

// Import reconciles the state file with the disk: every record whose
// install directory is missing is resolved at its recorded version and
// installed. Records whose install fails are reported and kept. With
// dryRun only the file itself is rewritten in normalized form and
// nothing touches the network or the host.
func (s *Service) Import(ctx context.Context, dryRun bool) (Report, error) {
	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	var report Report
	if dryRun {
		for _, name := range config.Names(s.Config) {
			rec, _ := config.FindPlugin(s.Config, name)
			report.Results = append(report.Results, PluginResult{Name: name, Version: rec.Version, Status: StatusRecorded})
		}
		return report, config.Save(s.StatePath, s.Config)
	}

	type importItem struct {
		name string
		rec  config.PluginRecord
	}
	var work []importItem
	for _, name := range config.Names(s.Config) {
		rec, _ := config.FindPlugin(s.Config, name)
		if _, err := os.Stat(config.PluginDir(s.PluginsRoot, name)); err == nil {
			report.Results = append(report.Results, PluginResult{Name: name, Version: rec.Version, Status: StatusCurrent})
			continue
		}
		work = append(work, importItem{name: name, rec: rec})
	}
	if len(work) == 0 {
		return report, config.Save(s.StatePath, s.Config)
	}

	ctrl := s.controller()
	if err := ctrl.Begin(ctx, nil); err != nil {
		return report, err
	}
	var abort error
	for _, item := range work {
		asset, err := s.resolveAsset(ctx, item.name, item.rec.Repository, item.rec.Version, item.rec.Pattern)
		if err == nil {
			err = s.Installer.Install(ctx, item.name, asset)
		}
		if err != nil {
			report.fail(item.name, err)
			s.log("import", item.name, item.rec.Version, "install", audit.StatusError, err.Error())
			continue
		}
		if err := config.SetVersion(&s.Config, item.name, asset.Tag); err == nil {
			err = config.Save(s.StatePath, s.Config)
		}
		if err != nil {
			abort = err
			break
		}
		report.Results = append(report.Results, PluginResult{Name: item.name, Version: asset.Tag, Status: StatusInstalled})
		s.log("import", item.name, asset.Tag, "install", audit.StatusOK, "")
	}
	notes, endErr := ctrl.End(ctx)
	report.Notes = notes
	if abort != nil {
		return report, abort
	}
	return report, endErr
}

// Restart bounces the host with no mutation in between. The configured
// no_restart is deliberately ignored: an explicit restart always
// relaunches.
func (s *Service) Restart(ctx context.Context) ([]string, error) {
	unlock, err := config.AcquireLock(s.StatePath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctrl := host.NewController(host.ControllerOptions{Process: s.Process, Admin: s.Config.Admin})
	if err := ctrl.Begin(ctx, nil); err != nil {
		s.log("restart", "", "", "restart", audit.StatusError, err.Error())
		return nil, err
	}
	notes, err := ctrl.End(ctx)
	if err != nil {
		s.log("restart", "", "", "restart", audit.StatusError, err.Error())
		return notes, err
	}
	s.log("restart", "", "", "restart", audit.StatusOK, "")
	return notes, nil
}

func (s *Service) DoctorRun() doctor.Report {
	return s.Doctor.Run()
}

func (s *Service) SelfUpdate(ctx context.Context) (selfupdate.Result, error) {
	return s.Updater.Update(ctx)
}

func (s *Service) SaveConfig() error {
	return config.Save(s.StatePath, s.Config)
}

// resolveAsset runs the release resolver and, when it yields a manual
// choice, defers to the injected chooser.
func (s *Service) resolveAsset(ctx context.Context, name, repo, version, pattern string) (forge.SelectedAsset, error) {
	outcome, err := s.Forge.Resolve(ctx, repo, version, pattern)
	if err != nil {
		return forge.SelectedAsset{}, err
	}
	if outcome.Resolved != nil {
		return *outcome.Resolved, nil
	}
	if s.Chooser == nil {
		return forge.SelectedAsset{}, fmt.Errorf("FRG_ASSET_AMBIGUOUS: %d candidates for %s@%s and no chooser available",
			len(outcome.Choice.Candidates), name, outcome.Choice.Tag)
	}
	index, err := s.Chooser(name, outcome.Choice)
	if err != nil {
		return forge.SelectedAsset{}, err
	}
	return forge.SelectFromChoice(outcome.Choice, index)
}

func (s *Service) controller() *host.Controller {
	return host.NewController(host.ControllerOptions{
		Process:   s.Process,
		Admin:     s.Config.Admin,
		NoRestart: s.Config.NoRestart,
	})
}

func (s *Service) log(op, plugin, version, phase, status, msg string) {
	_ = s.Audit.Log(audit.Event{
		Operation: op,
		Plugin:    plugin,
		Version:   version,
		Phase:     phase,
		Status:    status,
		Message:   msg,
	})
}
