package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AcquireLock creates an exclusive guard file next to the registry so two
// invocations cannot mutate the same state concurrently. The returned
// release func removes the guard and is safe to call more than once.
func AcquireLock(statePath string) (func(), error) {
	lockPath := statePath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("CFG_LOCKED: another instance holds %s (remove the file if stale)", lockPath)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()

	var once sync.Once
	release := func() {
		once.Do(func() { _ = os.Remove(lockPath) })
	}
	return release, nil
}
