package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Runs manages run log files under <coord>/runs. Metadata lives next to the
// logs as <runId>.json and goes through the task store so finalized runs
// stay immutable.
type Runs struct {
	dir   string
	store *task.Store
}

// NewRuns creates a Runs manager rooted at the store's coordination
// directory.
func NewRuns(store *task.Store) *Runs {
	return &Runs{dir: filepath.Join(store.CoordDir(), "runs"), store: store}
}

// Dir returns the runs directory.
func (r *Runs) Dir() string {
	return r.dir
}

// LogPath returns the on-disk path of a run's log file.
func (r *Runs) LogPath(id task.RunID) string {
	return filepath.Join(r.dir, string(id)+".log")
}

// EnsureDir creates the runs directory if needed.
func (r *Runs) EnsureDir() error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return errors.NewAgentError("failed to create runs directory", err)
	}
	return nil
}

// InitializeLogFile creates an empty log file for the run and records its
// path on the run record.
func (r *Runs) InitializeLogFile(run *task.Run) error {
	if err := r.EnsureDir(); err != nil {
		return err
	}
	path := r.LogPath(run.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.NewAgentError("failed to create log file", err).WithRunID(string(run.ID))
	}
	if err := f.Close(); err != nil {
		return errors.NewAgentError("failed to close log file", err).WithRunID(string(run.ID))
	}
	run.LogPath = path
	return nil
}

// AppendLog appends text to the run's log file.
func (r *Runs) AppendLog(id task.RunID, text string) error {
	f, err := os.OpenFile(r.LogPath(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.NewAgentError("failed to open log file", err).WithRunID(string(id))
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(text); err != nil {
		return errors.NewAgentError("failed to append to log", err).WithRunID(string(id))
	}
	return nil
}

// ReadLog returns the run's full log content.
func (r *Runs) ReadLog(id task.RunID) (string, error) {
	data, err := os.ReadFile(r.LogPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("run log", string(id))
		}
		return "", errors.NewAgentError("failed to read log", err).WithRunID(string(id))
	}
	return string(data), nil
}

// SaveRunMetadata persists the run record.
func (r *Runs) SaveRunMetadata(run *task.Run) error {
	return r.store.WriteRun(run)
}

// LoadRunMetadata loads the run record.
func (r *Runs) LoadRunMetadata(id task.RunID) (*task.Run, error) {
	return r.store.ReadRun(id)
}

// ListRunLogs returns the IDs of all runs with a log file, sorted.
func (r *Runs) ListRunLogs() ([]task.RunID, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewAgentError("failed to list run logs", err)
	}
	var ids []task.RunID
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		ids = append(ids, task.RunID(strings.TrimSuffix(name, ".log")))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
