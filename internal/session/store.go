package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// Directory names for the session families under the coordination directory.
const (
	planningDirName    = "planning-sessions"
	plannerDirName     = "planner-sessions"
	leaderDirName      = "leader-sessions"
	explorationDirName = "exploration-sessions"
)

// fileStore persists one session family as a JSON file per session under a
// family subdirectory. Writes are atomic (temp file, then rename).
type fileStore[T any] struct {
	dir      string
	subject  string
	id       func(*T) bool // reports whether sess has an ID; false means unsaveable
	key      func(*T) string
	stamp    func(*T, time.Time)
	validate func(*T) error
}

func (fs *fileStore[T]) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

func (fs *fileStore[T]) ensureDir() error {
	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return errors.NewSessionError("failed to create "+fs.subject+" directory", err)
	}
	return nil
}

// Save atomically persists a session, stamping UpdatedAt first.
func (fs *fileStore[T]) Save(sess *T) error {
	if !fs.id(sess) {
		return errors.NewValidationError(fs.subject).Add("sessionId is empty")
	}
	fs.stamp(sess, time.Now().UTC())
	if err := fs.validate(sess); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.NewSessionError("failed to marshal "+fs.subject, err).WithSessionID(fs.key(sess))
	}
	path := fs.path(fs.key(sess))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.NewSessionError("failed to write "+fs.subject, err).WithSessionID(fs.key(sess))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewSessionError("failed to finalize "+fs.subject, err).WithSessionID(fs.key(sess))
	}
	return nil
}

// Load reads a session by ID, validating the record on the way in.
func (fs *fileStore[T]) Load(id string) (*T, error) {
	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError(fs.subject, id)
		}
		return nil, errors.NewSessionError("failed to read "+fs.subject, err).WithSessionID(id)
	}
	sess := new(T)
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("%s %s", fs.subject, id)).
			Add("malformed JSON: %v", err)
	}
	if err := fs.validate(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Exists reports whether a session with the given ID is on disk.
func (fs *fileStore[T]) Exists(id string) bool {
	_, err := os.Stat(fs.path(id))
	return err == nil
}

// List returns the IDs of all sessions in this family, sorted by filename.
func (fs *fileStore[T]) List() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewSessionError("failed to list "+fs.subject+"s", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Store gives access to all four session families under one coordination
// directory.
type Store struct {
	coordDir    string
	planning    fileStore[PlanningSession]
	planner     fileStore[PlannerSession]
	leader      fileStore[LeaderSession]
	exploration fileStore[ExplorationSession]
}

// NewStore creates a session store rooted at the coordination directory,
// creating the per-family subdirectories if needed.
func NewStore(coordDir string) (*Store, error) {
	s := &Store{
		coordDir: coordDir,
		planning: fileStore[PlanningSession]{
			dir:      filepath.Join(coordDir, planningDirName),
			subject:  "planning session",
			id:       func(sess *PlanningSession) bool { return sess.SessionID != "" },
			key:      func(sess *PlanningSession) string { return sess.SessionID },
			stamp:    func(sess *PlanningSession, t time.Time) { sess.UpdatedAt = t },
			validate: func(sess *PlanningSession) error { return sess.Validate() },
		},
		planner: fileStore[PlannerSession]{
			dir:      filepath.Join(coordDir, plannerDirName),
			subject:  "planner session",
			id:       func(sess *PlannerSession) bool { return sess.SessionID != "" },
			key:      func(sess *PlannerSession) string { return sess.SessionID },
			stamp:    func(sess *PlannerSession, t time.Time) { sess.UpdatedAt = t },
			validate: func(sess *PlannerSession) error { return sess.Validate() },
		},
		leader: fileStore[LeaderSession]{
			dir:      filepath.Join(coordDir, leaderDirName),
			subject:  "leader session",
			id:       func(sess *LeaderSession) bool { return sess.SessionID != "" },
			key:      func(sess *LeaderSession) string { return sess.SessionID },
			stamp:    func(sess *LeaderSession, t time.Time) { sess.UpdatedAt = t },
			validate: func(sess *LeaderSession) error { return sess.Validate() },
		},
		exploration: fileStore[ExplorationSession]{
			dir:      filepath.Join(coordDir, explorationDirName),
			subject:  "exploration session",
			id:       func(sess *ExplorationSession) bool { return sess.SessionID != "" },
			key:      func(sess *ExplorationSession) string { return sess.SessionID },
			stamp:    func(sess *ExplorationSession, t time.Time) { sess.UpdatedAt = t },
			validate: func(sess *ExplorationSession) error { return sess.Validate() },
		},
	}
	for _, ensure := range []func() error{
		s.planning.ensureDir, s.planner.ensureDir, s.leader.ensureDir, s.exploration.ensureDir,
	} {
		if err := ensure(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CoordDir returns the coordination directory this store is rooted at.
func (s *Store) CoordDir() string {
	return s.coordDir
}

// SavePlanning persists a planning session, pruning conversation history
// to the retention bound first.
func (s *Store) SavePlanning(sess *PlanningSession) error {
	sess.ConversationHistory = PruneHistory(sess.ConversationHistory)
	return s.planning.Save(sess)
}

// LoadPlanning reads a planning session by ID.
func (s *Store) LoadPlanning(id string) (*PlanningSession, error) {
	return s.planning.Load(id)
}

// PlanningExists reports whether a planning session exists.
func (s *Store) PlanningExists(id string) bool {
	return s.planning.Exists(id)
}

// ListPlanning returns all planning session IDs.
func (s *Store) ListPlanning() ([]string, error) {
	return s.planning.List()
}

// SavePlanner persists a planner session, pruning conversation history
// to the retention bound first.
func (s *Store) SavePlanner(sess *PlannerSession) error {
	sess.ConversationHistory = PruneHistory(sess.ConversationHistory)
	return s.planner.Save(sess)
}

// LoadPlanner reads a planner session by ID.
func (s *Store) LoadPlanner(id string) (*PlannerSession, error) {
	return s.planner.Load(id)
}

// PlannerExists reports whether a planner session exists.
func (s *Store) PlannerExists(id string) bool {
	return s.planner.Exists(id)
}

// ListPlanner returns all planner session IDs.
func (s *Store) ListPlanner() ([]string, error) {
	return s.planner.List()
}

// SaveLeader persists a leader session.
func (s *Store) SaveLeader(sess *LeaderSession) error {
	return s.leader.Save(sess)
}

// LoadLeader reads a leader session by ID.
func (s *Store) LoadLeader(id string) (*LeaderSession, error) {
	return s.leader.Load(id)
}

// LeaderExists reports whether a leader session exists.
func (s *Store) LeaderExists(id string) bool {
	return s.leader.Exists(id)
}

// ListLeader returns all leader session IDs.
func (s *Store) ListLeader() ([]string, error) {
	return s.leader.List()
}

// LeaderPath returns the on-disk path of a leader session file, used by
// watchers that wait for out-of-band resolution writes.
func (s *Store) LeaderPath(id string) string {
	return s.leader.path(id)
}

// SaveExploration persists an exploration session, pruning conversation
// history to the retention bound first.
func (s *Store) SaveExploration(sess *ExplorationSession) error {
	sess.ConversationHistory = PruneHistory(sess.ConversationHistory)
	return s.exploration.Save(sess)
}

// LoadExploration reads an exploration session by ID.
func (s *Store) LoadExploration(id string) (*ExplorationSession, error) {
	return s.exploration.Load(id)
}

// ExplorationExists reports whether an exploration session exists.
func (s *Store) ExplorationExists(id string) bool {
	return s.exploration.Exists(id)
}

// ListExploration returns all exploration session IDs.
func (s *Store) ListExploration() ([]string, error) {
	return s.exploration.List()
}
