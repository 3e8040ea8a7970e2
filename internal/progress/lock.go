package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Acquire while another process owns the storage.
var ErrLocked = errors.New("progress: storage is in use by a running bot")

const defaultLockPath = "hr-intake.lock"

// Lock marks a storage as owned by one writer. The running bot keeps the
// whole state in memory and rewrites it on every change, so any other writer
// would be overwritten.
type Lock struct {
	file *flock.Flock
}

// Acquire takes the lock at path without waiting. The lock is released by the
// OS when the process exits.
func Acquire(path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}

	f := flock.New(path)
	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return &Lock{file: f}, nil
}

func (l *Lock) Path() string {
	return l.file.Path()
}

func (l *Lock) Release() error {
	return l.file.Unlock()
}

// LockPath is the lock file guarding the configured storage: an explicit
// path, or one next to the file and sqlite databases.
func (c Config) LockPath() string {
	if p := strings.TrimSpace(c.Lock); p != "" {
		return p
	}

	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendFile:
		if p := strings.TrimSpace(c.File); p != "" {
			return p + ".lock"
		}
		return defaultFilePath + ".lock"
	case BackendSQLite:
		if p := strings.TrimSpace(c.SQLite); p != "" {
			return p + ".lock"
		}
		return defaultSQLitePath + ".lock"
	default:
		return defaultLockPath
	}
}
