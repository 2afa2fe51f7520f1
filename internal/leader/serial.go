package leader

import (
	"context"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/loopdetect"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
	"github.com/Iron-Ham/maestro/internal/worker"
)

// executeChain runs a serial chain in one shared worktree on the head
// task's branch.
//
// Later tasks are CAS-updated onto that branch before they run (chain
// branch continuity), and each receives the previous task's final response
// as a hint. Every task is judged right after its commit; a continuation
// restarts just that task in the same worktree, bounded by
// SerialChainTaskRetries. Any block or replan aborts the rest of the chain.
// The branch is pushed by the last task's commit.
func (l *Leader) executeChain(ctx context.Context, ex *execution, chain []task.ID) (bool, error) {
	log := l.logger.WithSession(ex.sess.SessionID)
	log.Info("executing serial chain", "head", string(chain[0]), "length", len(chain))

	var worktree git.WorktreePath
	var chainBranch git.BranchName
	prevOutput := ""

	for i, id := range chain {
		t, err := l.store.ReadTask(id)
		if err != nil {
			return false, err
		}
		if i > 0 && t.Branch != chainBranch {
			if t, err = task.SetBranch(l.store, id, chainBranch); err != nil {
				return false, err
			}
		}

		running, err := task.Claim(l.store, id, t.Version, l.cfg.WorkerID)
		if err != nil {
			if errors.IsConflict(err) {
				// Raced by another actor; give the whole chain back to the
				// next planning pass.
				return false, nil
			}
			return false, err
		}
		if i == 0 {
			chainBranch = running.Branch
		}

		opts := worker.Options{
			PreviousOutput: prevOutput,
			Push:           i == len(chain)-1,
		}
		if i > 0 {
			opts.ReuseWorktree = worktree
		}

		output, halt, abort, err := l.runChainTask(ctx, ex, running, opts, &worktree)
		if err != nil || halt || abort {
			return halt, err
		}
		prevOutput = output
	}

	l.teardown(chain[0])
	return false, nil
}

// runChainTask drives one chain member through its attempt-judge loop.
// Returns the task's final response for the next member's hint; abort stops
// the chain without halting the leader loop.
func (l *Leader) runChainTask(ctx context.Context, ex *execution, running *task.Task, opts worker.Options, worktree *git.WorktreePath) (output string, halt, abort bool, err error) {
	id := running.ID

	for attempt := 0; ; attempt++ {
		res, werr := l.worker.Execute(ctx, running, opts)
		if werr != nil {
			if _, err := task.MarkBlocked(l.store, id, werr.Error()); err != nil {
				return "", false, false, err
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, "", "blocked: worker failure, chain aborted")
			return "", false, true, nil
		}
		if *worktree == "" {
			*worktree = res.Worktree
		}

		verdict, jerr := l.judge.Evaluate(ctx, id, res.RunID, res.Worktree)
		if jerr != nil {
			if _, err := task.MarkBlocked(l.store, id, jerr.Error()); err != nil {
				return "", false, false, err
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, res.RunID, "blocked: judge failure, chain aborted")
			return "", false, true, nil
		}

		step := "work:" + string(id)
		for _, r := range []loopdetect.Result{
			l.detect.RecordStepExecution(step),
			l.detect.RecordResponse(step, res.Response),
		} {
			action := l.detect.ActionFor(r)
			switch action.Kind {
			case loopdetect.ActionAbort, loopdetect.ActionEscalate:
				if _, err := task.MarkBlocked(l.store, id, "livelock: "+action.Reason); err != nil {
					return "", false, false, err
				}
				ex.failed = append(ex.failed, id)
				ex.record(id, res.RunID, "blocked: livelock, chain aborted")
				if action.Kind == loopdetect.ActionAbort {
					return "", false, true, nil
				}
				pending, eerr := l.escalate(ctx, ex, escalationRequest{
					target: session.EscalateLogicValidator,
					reason: action.Reason,
					taskID: id,
					runID:  res.RunID,
				})
				if eerr != nil {
					return "", false, false, eerr
				}
				ex.pending = pending
				return "", true, true, nil
			case loopdetect.ActionRetryWithHint:
				// Chain restarts already feed the previous response back;
				// the hint adds nothing on this path.
				l.logger.Debug("near-duplicate chain response", "task_id", string(id))
			}
		}

		switch {
		case verdict.AlreadySatisfied:
			if _, err := task.MarkSkipped(l.store, id); err != nil {
				return "", false, false, err
			}
			ex.record(id, res.RunID, "skipped")
			return res.Response, false, false, nil

		case verdict.Success:
			if _, err := task.MarkCompleted(l.store, id); err != nil {
				return "", false, false, err
			}
			ex.completed = append(ex.completed, id)
			ex.record(id, res.RunID, "completed")
			return res.Response, false, false, nil

		case verdict.ShouldReplan:
			pending, err := l.escalate(ctx, ex, escalationRequest{
				target:  session.EscalatePlanner,
				reason:  verdict.Reason,
				taskID:  id,
				runID:   res.RunID,
				verdict: verdict,
			})
			if err != nil {
				return "", false, false, err
			}
			ex.record(id, res.RunID, "replanned, chain aborted")
			if pending != nil {
				ex.pending = pending
				return "", true, true, nil
			}
			return "", false, true, nil

		case verdict.ShouldContinue && attempt < l.cfg.SerialChainTaskRetries:
			if _, err := task.MarkForContinuation(l.store, id, verdict.Note(), l.cfg.MaxContinuationIterations); err != nil {
				if !errors.Is(err, errors.ErrMaxRetries) {
					return "", false, false, err
				}
				if _, berr := task.MarkBlocked(l.store, id, "continuation budget exhausted: "+verdict.Reason); berr != nil {
					return "", false, false, berr
				}
				ex.failed = append(ex.failed, id)
				ex.record(id, res.RunID, "blocked: continuation budget exhausted, chain aborted")
				return "", false, true, nil
			}
			requeued, err := l.store.ReadTask(id)
			if err != nil {
				return "", false, false, err
			}
			running, err = task.Claim(l.store, id, requeued.Version, l.cfg.WorkerID)
			if err != nil {
				return "", false, false, err
			}
			ex.record(id, res.RunID, "restarting in chain worktree")
			opts.ReuseWorktree = res.Worktree

		default:
			reason := "chain task failed: " + verdict.Reason
			if verdict.ShouldContinue {
				reason = "chain task retries exhausted: " + verdict.Reason
			}
			if _, err := task.MarkBlocked(l.store, id, reason); err != nil {
				return "", false, false, err
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, res.RunID, "blocked, chain aborted")
			return "", false, true, nil
		}
	}
}
