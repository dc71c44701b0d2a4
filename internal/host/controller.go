package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"plugman/internal/fsutil"
)

// ErrFileLocked reports that plugin files stayed locked after the
// bounded poll; the batch must abort before touching anything.
var ErrFileLocked = errors.New("HST_LOCKED: plugin files are still locked")

// State names a position in the batch lifecycle.
type State string

const (
	Idle             State = "idle"
	Stopping         State = "stopping"
	WaitingForUnlock State = "waiting-for-unlock"
	Mutating         State = "mutating"
	Restarting       State = "restarting"
	Failed           State = "failed"
)

// Controller brackets one batch of filesystem mutations with a single
// stop and a single restart of the host, so a multi-plugin command
// raises at most two elevation prompts.
type Controller struct {
	proc      Process
	admin     bool
	noRestart bool

	state    State
	hostPath string

	probe    func(path string) error
	attempts int
	delay    time.Duration
}

type ControllerOptions struct {
	Process   Process
	Admin     bool
	NoRestart bool
}

func NewController(opts ControllerOptions) *Controller {
	proc := opts.Process
	if proc == nil {
		proc = NewProcess()
	}
	return &Controller{
		proc:      proc,
		admin:     opts.Admin,
		noRestart: opts.NoRestart,
		state:     Idle,
		probe:     openProbe,
		attempts:  fsutil.LockRetryAttempts,
		delay:     fsutil.LockRetryDelay,
	}
}

func (c *Controller) State() State { return c.state }

// Begin stops the host and waits for the given files to shed their
// locks. A host that cannot be located is simply not running. On
// ErrFileLocked the controller lands in Failed and no mutation may
// follow.
func (c *Controller) Begin(ctx context.Context, files []string) error {
	if err := c.transition(Idle, Stopping); err != nil {
		return err
	}
	if path, err := c.proc.Locate(); err == nil {
		c.hostPath = path
		if err := c.proc.Terminate(ctx, c.admin); err != nil {
			c.state = Failed
			return err
		}
	}
	if err := c.transition(Stopping, WaitingForUnlock); err != nil {
		return err
	}
	for _, file := range files {
		if err := fsutil.Retry(c.attempts, c.delay, func() error { return c.probe(file) }); err != nil {
			c.state = Failed
			return fmt.Errorf("%w: %q", ErrFileLocked, file)
		}
	}
	return c.transition(WaitingForUnlock, Mutating)
}

// End restarts the host and closes the batch. Restart problems come
// back as notes rather than an error: by this point the plugin state on
// disk is already correct, so a missing host must not fail the command.
func (c *Controller) End(ctx context.Context) ([]string, error) {
	if err := c.transition(Mutating, Restarting); err != nil {
		return nil, err
	}
	var notes []string
	switch {
	case c.noRestart:
		notes = append(notes, "host restart suppressed by no_restart")
	default:
		path := c.hostPath
		if path == "" {
			located, err := c.proc.Locate()
			if err != nil {
				notes = append(notes, "host restart skipped: "+err.Error())
			}
			path = located
		}
		if path != "" {
			if err := c.proc.Launch(ctx, path, c.admin); err != nil {
				notes = append(notes, "host restart failed: "+err.Error())
			}
		}
	}
	if err := c.transition(Restarting, Idle); err != nil {
		return nil, err
	}
	return notes, nil
}

func (c *Controller) transition(from, to State) error {
	if c.state != from {
		return fmt.Errorf("HST_STATE: cannot enter %s from %s", to, c.state)
	}
	c.state = to
	return nil
}

// openProbe attempts a non-exclusive read open. A file the host still
// maps stays unopenable on Windows until its handle is released.
func openProbe(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

// PluginFiles lists the regular files currently installed for the
// given plugin names, the set Begin probes for released locks. Absent
// plugin directories contribute nothing: a fresh install has no locks
// to wait for.
func PluginFiles(root string, names []string) []string {
	var out []string
	for _, name := range names {
		dir := filepath.Join(root, name)
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.Type().IsRegular() {
				out = append(out, path)
			}
			return nil
		})
	}
	return out
}
