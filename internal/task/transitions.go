package task

import (
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
)

// casRetryLimit bounds local retries on version conflicts and held locks.
// Contention on a single task is short-lived (the lock spans one
// read-modify-write), so a small fixed bound is enough; persistent conflict
// means another actor changed the task's fate and the caller should re-read.
const casRetryLimit = 3

// applyWithRetry re-reads the task and applies fn via UpdateCAS, retrying a
// bounded number of times when the version moved or the lock was held.
func applyWithRetry(s *Store, id ID, fn func(Task) (Task, error)) (*Task, error) {
	var lastErr error
	for attempt := 0; attempt < casRetryLimit; attempt++ {
		current, err := s.ReadTask(id)
		if err != nil {
			return nil, err
		}
		updated, err := s.UpdateCAS(id, current.Version, fn)
		if err == nil {
			return updated, nil
		}
		if !errors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.NewTaskError("gave up after repeated conflicts", lastErr).WithTaskID(string(id))
}

// Claim transitions a READY task to RUNNING owned by the given worker.
// Unlike the other helpers, Claim does not retry on conflict: the caller's
// scheduling loop must re-read the ready set when a claim races.
func Claim(s *Store, id ID, expectedVersion int, worker WorkerID) (*Task, error) {
	return s.UpdateCAS(id, expectedVersion, func(t Task) (Task, error) {
		if t.State != StateReady {
			return t, errors.NewValidationError("task " + string(id)).
				Add("cannot claim task in state %s", t.State)
		}
		t.State = StateRunning
		t.Owner = worker
		return t, nil
	})
}

// MarkCompleted transitions a task to DONE and clears its owner.
// Completing an already-DONE task is a no-op re-CAS, never an error that
// leaves the task in another state.
func MarkCompleted(s *Store, id ID) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.State = StateDone
		t.Owner = ""
		return t, nil
	})
}

// MarkSkipped transitions a task to SKIPPED (acceptance criteria already
// satisfied) and clears its owner.
func MarkSkipped(s *Store, id ID) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.State = StateSkipped
		t.Owner = ""
		return t, nil
	})
}

// MarkCancelled transitions a task to CANCELLED and clears its owner.
func MarkCancelled(s *Store, id ID) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.State = StateCancelled
		t.Owner = ""
		return t, nil
	})
}

// MarkBlocked transitions a task to BLOCKED with an optional reason and
// clears its owner.
func MarkBlocked(s *Store, id ID, reason string) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.State = StateBlocked
		t.Owner = ""
		if reason != "" {
			t.BlockedReason = reason
		}
		return t, nil
	})
}

// MarkForContinuation re-queues a task as READY with accumulated judge
// feedback for another attempt.
//
// The continuation counter must stay strictly below maxIterations while the
// task is queued; when the increment would reach the maximum the call fails
// with ErrMaxRetries and leaves the task untouched, so the caller can block
// it instead.
func MarkForContinuation(s *Store, id ID, note JudgementNote, maxIterations int) (*Task, error) {
	if note.EvaluatedAt.IsZero() {
		note.EvaluatedAt = time.Now().UTC()
	}
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		fb := t.JudgementFeedback
		if fb == nil {
			fb = &JudgementFeedback{MaxIterations: maxIterations}
		}
		next := fb.Iteration + 1
		if next >= fb.MaxIterations {
			return t, errors.NewTaskError("continuation budget exhausted", errors.ErrMaxRetries).
				WithTaskID(string(id))
		}
		noteCopy := note
		t.JudgementFeedback = &JudgementFeedback{
			Iteration:     next,
			MaxIterations: fb.MaxIterations,
			LastJudgement: &noteCopy,
		}
		t.State = StateReady
		t.Owner = ""
		return t, nil
	})
}

// MarkReplanned transitions a task to REPLACED_BY_REPLAN, recording its
// successor task IDs and the replan reason.
//
// The replanning counter may reach but never exceed maxIterations; crossing
// it fails with a ValidationError so the caller can block the task instead
// of silently replanning forever.
func MarkReplanned(s *Store, id ID, successors []ID, reason string, maxIterations int) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		ri := t.ReplanningInfo
		if ri == nil {
			ri = &ReplanningInfo{MaxIterations: maxIterations, OriginalTaskID: t.ID}
		}
		next := ri.Iteration + 1
		if next > ri.MaxIterations {
			return t, errors.NewValidationError("task " + string(id)).
				Add("replanning budget exhausted (%d/%d)", ri.Iteration, ri.MaxIterations)
		}
		t.ReplanningInfo = &ReplanningInfo{
			Iteration:      next,
			MaxIterations:  ri.MaxIterations,
			OriginalTaskID: ri.OriginalTaskID,
			ReplacedBy:     successors,
			ReplanReason:   reason,
		}
		t.State = StateReplacedByReplan
		t.Owner = ""
		return t, nil
	})
}

// SetBranch updates the task's branch, used for chain branch continuity
// when a serial chain keeps later tasks on the first task's branch.
func SetBranch(s *Store, id ID, branch git.BranchName) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.Branch = branch
		return t, nil
	})
}

// SetLatestRun records the most recent run for a task.
func SetLatestRun(s *Store, id ID, runID RunID) (*Task, error) {
	return applyWithRetry(s, id, func(t Task) (Task, error) {
		t.LatestRunID = runID
		return t, nil
	})
}
