package task

import (
	"os"
	"path/filepath"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// locksDirName is the directory under the coordination directory holding
// per-task locks. A lock is a directory whose existence means "held":
// mkdir is atomic on every supported filesystem, so creation doubles as
// acquisition without any read-check-write race.
const locksDirName = ".locks"

// dirLock provides per-task mutual exclusion via directory creation.
// Acquisition is fail-fast: a second attempt while the lock is held returns
// ErrLockHeld rather than blocking. Callers use CAS conflicts as the retry
// signal, so blocking here would only hide contention.
type dirLock struct {
	baseDir string
}

// newDirLock creates a lock manager rooted at coordDir/.locks.
func newDirLock(coordDir string) (*dirLock, error) {
	baseDir := filepath.Join(coordDir, locksDirName)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.NewTaskError("failed to create locks directory", err)
	}
	return &dirLock{baseDir: baseDir}, nil
}

// lockPath returns the lock directory path for a task.
func (l *dirLock) lockPath(id ID) string {
	return filepath.Join(l.baseDir, string(id))
}

// Acquire takes the lock for the given task. Returns ErrLockHeld if the
// lock directory already exists.
func (l *dirLock) Acquire(id ID) error {
	err := os.Mkdir(l.lockPath(id), 0755)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		return errors.NewTaskError("task is locked", errors.ErrLockHeld).WithTaskID(string(id))
	}
	return errors.NewTaskError("failed to acquire lock", err).WithTaskID(string(id))
}

// Release drops the lock for the given task. Releasing an unheld lock is a
// no-op so that deferred releases are safe on every exit path.
func (l *dirLock) Release(id ID) error {
	err := os.Remove(l.lockPath(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.NewTaskError("failed to release lock", err).WithTaskID(string(id))
	}
	return nil
}

// Held reports whether the lock for the given task is currently held.
func (l *dirLock) Held(id ID) bool {
	_, err := os.Stat(l.lockPath(id))
	return err == nil
}
