package session

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// WaitForLeaderChange blocks until the leader session file is written, then
// reloads and returns the session. The predicate, if non-nil, filters
// reloads: the wait continues until pred returns true for a freshly loaded
// session. Returns immediately if the current state already satisfies pred.
//
// This is how a paused leader waits for an out-of-band escalation resolution
// written by `maestro resolve` in another process.
func (s *Store) WaitForLeaderChange(ctx context.Context, id string, pred func(*LeaderSession) bool) (*LeaderSession, error) {
	if pred != nil {
		sess, err := s.LoadLeader(id)
		if err == nil && pred(sess) {
			return sess, nil
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewSessionError("failed to create watcher", err).WithSessionID(id)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: atomic saves replace the file via
	// rename, which would silently drop a file-level watch.
	if err := watcher.Add(s.leader.dir); err != nil {
		return nil, errors.NewSessionError("failed to watch session directory", err).WithSessionID(id)
	}

	// Re-check after establishing the watch so a write that landed between
	// the first load and watcher.Add is not missed.
	if pred != nil {
		sess, err := s.LoadLeader(id)
		if err == nil && pred(sess) {
			return sess, nil
		}
	}

	target := s.leader.path(id)
	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewSessionError("wait cancelled", ctx.Err()).WithSessionID(id)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, errors.NewSessionError("watcher closed", nil).WithSessionID(id)
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			sess, err := s.LoadLeader(id)
			if err != nil {
				// A torn read should be impossible with atomic saves; a
				// transient miss between rename steps is retried on the
				// next event.
				continue
			}
			if pred == nil || pred(sess) {
				return sess, nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil, errors.NewSessionError("watcher closed", nil).WithSessionID(id)
			}
			return nil, errors.NewSessionError("watcher failed", werr).WithSessionID(id)
		}
	}
}
