package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
)

// Directory names under the coordination directory.
const (
	tasksDirName  = "tasks"
	runsDirName   = "runs"
	checksDirName = "checks"
)

// Store persists Task, Run, and Check records as one JSON file per record
// under the coordination directory. All writes are atomic (write to a
// temporary file, then rename), so readers never observe a torn record.
//
// Task mutations go exclusively through UpdateCAS, which holds the per-task
// lock across the read-modify-write and enforces the version check.
type Store struct {
	coordDir string
	locks    *dirLock
	logger   *logging.Logger
}

// NewStore creates a Store rooted at the given coordination directory,
// creating the tasks, runs, checks, and locks subdirectories if needed.
func NewStore(coordDir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	for _, sub := range []string{tasksDirName, runsDirName, checksDirName} {
		if err := os.MkdirAll(filepath.Join(coordDir, sub), 0755); err != nil {
			return nil, errors.NewTaskError("failed to create store directory", err)
		}
	}
	locks, err := newDirLock(coordDir)
	if err != nil {
		return nil, err
	}
	return &Store{coordDir: coordDir, locks: locks, logger: logger}, nil
}

// CoordDir returns the coordination directory this store is rooted at.
func (s *Store) CoordDir() string {
	return s.coordDir
}

func (s *Store) taskPath(id ID) string {
	return filepath.Join(s.coordDir, tasksDirName, string(id)+".json")
}

func (s *Store) runPath(id RunID) string {
	return filepath.Join(s.coordDir, runsDirName, string(id)+".json")
}

func (s *Store) checkPath(id CheckID) string {
	return filepath.Join(s.coordDir, checksDirName, string(id)+".json")
}

// -----------------------------------------------------------------------------
// Task Operations
// -----------------------------------------------------------------------------

// CreateTask persists a new task with version 0. Returns ErrAlreadyExists if
// a task with the same ID is already present.
func (s *Store) CreateTask(t *Task) (*Task, error) {
	if t.ID == "" {
		return nil, errors.NewValidationError("task").Add("id is empty")
	}
	if _, err := os.Stat(s.taskPath(t.ID)); err == nil {
		return nil, errors.NewTaskError("task already exists", errors.ErrAlreadyExists).WithTaskID(string(t.ID))
	}

	stored := *t
	stored.Version = 0
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if err := stored.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeTask(&stored); err != nil {
		return nil, err
	}
	s.logger.Debug("task created", "task_id", string(stored.ID), "state", stored.State.String())
	return &stored, nil
}

// ReadTask loads a task by ID. Returns ErrNotFound if no record exists, and
// a ValidationError if the record on disk is malformed.
func (s *Store) ReadTask(id ID) (*Task, error) {
	data, err := os.ReadFile(s.taskPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("task", string(id))
		}
		return nil, errors.NewTaskError("failed to read task", err).WithTaskID(string(id))
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.NewValidationError("task " + string(id)).Add("malformed JSON: %v", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns all tasks in the store. Ordering is unspecified.
// Malformed records fail the listing rather than being silently dropped.
func (s *Store) ListTasks() ([]*Task, error) {
	entries, err := os.ReadDir(filepath.Join(s.coordDir, tasksDirName))
	if err != nil {
		return nil, errors.NewTaskError("failed to list tasks", err)
	}

	var tasks []*Task
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := ID(strings.TrimSuffix(entry.Name(), ".json"))
		t, err := s.ReadTask(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// DeleteTask removes a task record. Only terminal tasks may be deleted.
func (s *Store) DeleteTask(id ID) error {
	t, err := s.ReadTask(id)
	if err != nil {
		return err
	}
	if !t.State.IsTerminal() {
		return errors.NewValidationError("task " + string(id)).
			Add("cannot delete non-terminal task in state %s", t.State)
	}
	if err := os.Remove(s.taskPath(id)); err != nil {
		return errors.NewTaskError("failed to delete task", err).WithTaskID(string(id))
	}
	return nil
}

// UpdateCAS applies fn to the current task record under the per-task lock.
//
// The operation fails with ErrVersionConflict if the stored version differs
// from expectedVersion, and with ErrLockHeld if another mutation is in
// flight. On success the stored version is expectedVersion+1 and UpdatedAt
// strictly increases. The lock is released on every exit path.
func (s *Store) UpdateCAS(id ID, expectedVersion int, fn func(Task) (Task, error)) (*Task, error) {
	if err := s.locks.Acquire(id); err != nil {
		return nil, err
	}
	defer func() { _ = s.locks.Release(id) }()

	current, err := s.ReadTask(id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, errors.NewTaskError(
			fmt.Sprintf("expected version %d, found %d", expectedVersion, current.Version),
			errors.ErrVersionConflict,
		).WithTaskID(string(id))
	}

	updated, err := fn(*current)
	if err != nil {
		return nil, err
	}

	// Immutable fields and CAS bookkeeping.
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	now := time.Now().UTC()
	if !now.After(current.UpdatedAt) {
		// Clock did not advance between mutations; nudge forward so
		// UpdatedAt stays strictly increasing.
		now = current.UpdatedAt.Add(time.Nanosecond)
	}
	updated.UpdatedAt = now

	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeTask(&updated); err != nil {
		return nil, err
	}
	s.logger.Debug("task updated",
		"task_id", string(updated.ID),
		"state", updated.State.String(),
		"version", updated.Version,
	)
	return &updated, nil
}

// writeTask atomically persists a task record.
func (s *Store) writeTask(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.NewTaskError("failed to marshal task", err).WithTaskID(string(t.ID))
	}
	if err := atomicWriteFile(s.taskPath(t.ID), data, 0644); err != nil {
		return errors.NewTaskError("failed to write task", err).WithTaskID(string(t.ID))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Run and Check Operations
// -----------------------------------------------------------------------------

// WriteRun persists a run record. Runs are append-only: overwriting a
// finalized run is a validation error.
func (s *Store) WriteRun(r *Run) error {
	if r.ID == "" {
		return errors.NewValidationError("run").Add("id is empty")
	}
	if existing, err := s.ReadRun(r.ID); err == nil && existing.Finalized() {
		return errors.NewValidationError("run " + string(r.ID)).
			Add("run is finalized and immutable")
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.NewTaskError("failed to marshal run", err)
	}
	if err := atomicWriteFile(s.runPath(r.ID), data, 0644); err != nil {
		return errors.NewTaskError("failed to write run", err)
	}
	return nil
}

// ReadRun loads a run record by ID.
func (s *Store) ReadRun(id RunID) (*Run, error) {
	data, err := os.ReadFile(s.runPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("run", string(id))
		}
		return nil, errors.NewTaskError("failed to read run", err)
	}
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.NewValidationError("run " + string(id)).Add("malformed JSON: %v", err)
	}
	return &r, nil
}

// WriteCheck persists a validator result. Checks are append-only; an
// existing check is never overwritten.
func (s *Store) WriteCheck(c *Check) error {
	if c.ID == "" {
		return errors.NewValidationError("check").Add("id is empty")
	}
	if _, err := os.Stat(s.checkPath(c.ID)); err == nil {
		return errors.NewTaskError("check already exists", errors.ErrAlreadyExists)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.NewTaskError("failed to marshal check", err)
	}
	if err := atomicWriteFile(s.checkPath(c.ID), data, 0644); err != nil {
		return errors.NewTaskError("failed to write check", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Atomic Write
// -----------------------------------------------------------------------------

// atomicWriteFile writes data to path via a temporary file and rename, so a
// partially written record is never visible to readers.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
