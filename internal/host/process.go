package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrHostNotFound reports that no host launcher executable could be
// located on this machine.
var ErrHostNotFound = errors.New("HST_NOT_FOUND: host executable not found")

// Process abstracts locating and controlling the host launcher so the
// batch logic can run against a fake without real OS privilege prompts.
type Process interface {
	Locate() (string, error)
	Terminate(ctx context.Context, elevated bool) error
	Launch(ctx context.Context, path string, elevated bool) error
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Start(name string, args ...string) error
}

type execRunner struct{}

func (r execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

// Start launches detached: the spawned process must outlive this one,
// so no context and no wait.
func (r execRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// LauncherProcess controls the host launcher through exec'd OS tools.
type LauncherProcess struct {
	osName string
	runner Runner
}

func NewProcess() *LauncherProcess {
	return &LauncherProcess{osName: runtime.GOOS, runner: execRunner{}}
}

const defaultImageName = "PowerToys.exe"

// Locate returns the host executable path, preferring the
// PLUGMAN_HOST_EXE override, then per-machine install locations.
func (p *LauncherProcess) Locate() (string, error) {
	if exe := os.Getenv("PLUGMAN_HOST_EXE"); exe != "" {
		if _, err := os.Stat(exe); err == nil {
			return exe, nil
		}
		return "", fmt.Errorf("%w: PLUGMAN_HOST_EXE points at %q", ErrHostNotFound, exe)
	}
	for _, candidate := range p.candidates() {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrHostNotFound
}

func (p *LauncherProcess) candidates() []string {
	if p.osName != "windows" {
		return nil
	}
	var out []string
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		out = append(out, filepath.Join(local, "PowerToys", defaultImageName))
	}
	if programs := os.Getenv("ProgramFiles"); programs != "" {
		out = append(out, filepath.Join(programs, "PowerToys", defaultImageName))
	}
	return out
}

func (p *LauncherProcess) imageName() string {
	if exe := os.Getenv("PLUGMAN_HOST_EXE"); exe != "" {
		return filepath.Base(exe)
	}
	return defaultImageName
}

// Terminate stops the running host. A host that is not running is a
// no-op, not an error.
func (p *LauncherProcess) Terminate(ctx context.Context, elevated bool) error {
	image := p.imageName()
	var err error
	switch p.osName {
	case "windows":
		if elevated {
			err = p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
				fmt.Sprintf("Start-Process taskkill -ArgumentList '/F','/IM',%s -Verb RunAs -WindowStyle Hidden -Wait", psQuote(image)))
		} else {
			err = p.runner.Run(ctx, "taskkill", "/F", "/IM", image)
		}
	default:
		err = p.runner.Run(ctx, "pkill", "-x", strings.TrimSuffix(image, ".exe"))
	}
	if err == nil || processAbsent(err) {
		return nil
	}
	return fmt.Errorf("HST_TERMINATE: %w", err)
}

// Launch starts the host from path and returns without waiting.
func (p *LauncherProcess) Launch(ctx context.Context, path string, elevated bool) error {
	var err error
	switch p.osName {
	case "windows":
		if elevated {
			err = p.runner.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
				fmt.Sprintf("Start-Process -FilePath %s -Verb RunAs", psQuote(path)))
		} else {
			// The empty string is the window title slot of start.
			err = p.runner.Run(ctx, "cmd", "/C", "start", "", path)
		}
	default:
		err = p.runner.Start(path)
	}
	if err != nil {
		return fmt.Errorf("HST_LAUNCH: %w", err)
	}
	return nil
}

// processAbsent reports whether a kill failed only because the host was
// not running: pkill exits 1 on no match, taskkill prints "not found".
func processAbsent(err error) bool {
	var exit *exec.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 1 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func psQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
