// Package lockfile guards the data directory: the SQLite store and the
// debounced chat saver assume a single writing process.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another running process holds the lock.
var ErrLocked = errors.New("another instance is already using this data directory")

// staleAfter bounds how long a lock from a live PID is trusted.
const staleAfter = time.Hour

// Lock is a pidfile-style lock on a data directory.
type Lock struct {
	path string
	held bool
}

// Acquire locks the data directory, stealing the lockfile when its owner is
// gone or the lock has expired.
func Acquire(dataDir string) (*Lock, error) {
	l := &Lock{path: filepath.Join(dataDir, "personachat.lock")}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := l.create(); err == nil {
		return l, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create lockfile: %w", err)
	}

	stale, reason := l.stale()
	if !stale {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, reason)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lockfile: %w", err)
	}
	if err := l.create(); err != nil {
		return nil, fmt.Errorf("failed to create lockfile: %w", err)
	}
	return l, nil
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err != nil {
		os.Remove(l.path)
		return err
	}
	l.held = true
	return nil
}

// stale reports whether the existing lockfile can be stolen.
func (l *Lock) stale() (bool, string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return true, "unreadable lockfile"
	}

	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return true, "malformed lockfile"
	}
	if !processAlive(pid) {
		return true, "owner exited"
	}

	if len(lines) == 2 {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil &&
			time.Since(ts) > staleAfter {
			return true, "lock expired"
		}
	}
	return false, fmt.Sprintf("held by pid %d", pid)
}

// Release removes the lockfile.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

// Path returns the lockfile location.
func (l *Lock) Path() string {
	return l.path
}
