package fsutil

import (
	"os"
	"time"
)

// How long to keep retrying filesystem operations that fail while the OS
// releases file handles after a process exits. Windows in particular holds
// mapped plugin DLLs for a short window after the owning process dies.
const (
	LockRetryAttempts = 10
	LockRetryDelay    = 50 * time.Millisecond
)

// Retry runs fn up to attempts times with delay between failures and
// returns the last error if every attempt fails.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// RemoveAllRetry deletes path and everything under it, retrying while
// delayed handle release makes the removal fail. A missing path is not
// an error.
func RemoveAllRetry(path string) error {
	return Retry(LockRetryAttempts, LockRetryDelay, func() error {
		return os.RemoveAll(path)
	})
}

// RenameRetry renames oldpath to newpath with the same retry policy.
func RenameRetry(oldpath, newpath string) error {
	return Retry(LockRetryAttempts, LockRetryDelay, func() error {
		return os.Rename(oldpath, newpath)
	})
}
