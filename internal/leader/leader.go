// Package leader runs the execution loop of a leader session: claim ready
// tasks, run the worker and judge on each, and dispatch the verdicts onto
// task transitions or escalations until the task set is terminal.
package leader

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/loopdetect"
	"github.com/Iron-Ham/maestro/internal/planner"
	"github.com/Iron-Ham/maestro/internal/scheduler"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
	"github.com/Iron-Ham/maestro/internal/worker"
)

const (
	// DefaultMaxIterations is the hard wall on leader loop passes.
	DefaultMaxIterations = 1000
	// DefaultMaxContinuationIterations bounds judge-driven retries per task.
	DefaultMaxContinuationIterations = 3
	// DefaultSerialChainTaskRetries bounds continuation restarts of a single
	// chain task in its shared worktree.
	DefaultSerialChainTaskRetries = 2
)

// Config carries the leader's tunables.
type Config struct {
	WorkerID                  task.WorkerID
	MaxWorkers                int
	MaxIterations             int
	MaxContinuationIterations int
	SerialChainTaskRetries    int
	Limits                    EscalationLimits
	LoopThresholds            loopdetect.Thresholds
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = task.WorkerID("worker-" + uuid.NewString()[:8])
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxContinuationIterations <= 0 {
		c.MaxContinuationIterations = DefaultMaxContinuationIterations
	}
	if c.SerialChainTaskRetries <= 0 {
		c.SerialChainTaskRetries = DefaultSerialChainTaskRetries
	}
	if c.Limits == (EscalationLimits{}) {
		c.Limits = DefaultEscalationLimits()
	}
	if c.LoopThresholds == (loopdetect.Thresholds{}) {
		c.LoopThresholds = loopdetect.DefaultThresholds()
	}
	return c
}

// Result is what one leader run produced.
type Result struct {
	Session           *session.LeaderSession
	CompletedTaskIDs  []task.ID
	FailedTaskIDs     []task.ID
	PendingEscalation *session.EscalationRecord
}

// Leader drives a leader session to a terminal status.
type Leader struct {
	store    *task.Store
	sessions *session.Store
	runs     *agent.Runs
	worker   *worker.Worker
	judge    *judge.Judge
	planner  *planner.Planner
	detect   *loopdetect.Detector
	cfg      Config
	logger   *logging.Logger
}

// New creates a Leader.
func New(store *task.Store, sessions *session.Store, runs *agent.Runs, w *worker.Worker, j *judge.Judge, p *planner.Planner, cfg Config, logger *logging.Logger) *Leader {
	if logger == nil {
		logger = logging.NopLogger()
	}
	cfg = cfg.withDefaults()
	return &Leader{
		store:    store,
		sessions: sessions,
		runs:     runs,
		worker:   w,
		judge:    j,
		planner:  p,
		detect:   loopdetect.New(cfg.LoopThresholds),
		cfg:      cfg,
		logger:   logger,
	}
}

// execution accumulates the mutable state of one Run call.
type execution struct {
	sess        *session.LeaderSession
	plannerSess *session.PlannerSession
	completed   []task.ID
	failed      []task.ID
	pending     *session.EscalationRecord
	// hints carries loop-detector retry hints into a task's next attempt.
	hints map[task.ID]string
}

func (ex *execution) record(id task.ID, runID task.RunID, outcome string) {
	ex.sess.MemberTaskHistory = append(ex.sess.MemberTaskHistory, session.TaskHistoryEntry{
		TaskID:     id,
		RunID:      runID,
		Outcome:    outcome,
		RecordedAt: time.Now().UTC(),
	})
}

// Run executes the leader loop until the task set is terminal, nothing is
// dispatchable, an escalation halts it, or the iteration wall is hit.
//
// Each pass reloads every task from the store: replans append tasks behind
// the loop's back, and freshness is what lets it pick those up. Serial
// chains dispatch before parallel batches because a chain occupies its
// branch end to end.
func (l *Leader) Run(ctx context.Context, sess *session.LeaderSession, plannerSess *session.PlannerSession) (*Result, error) {
	ex := &execution{sess: sess, plannerSess: plannerSess, hints: make(map[task.ID]string)}

	sess.Status = session.LeaderExecuting
	if err := l.sessions.SaveLeader(sess); err != nil {
		return nil, err
	}
	log := l.logger.WithSession(sess.SessionID)
	log.Info("leader loop starting", "max_iterations", l.cfg.MaxIterations, "max_workers", l.cfg.MaxWorkers)

	for iter := 0; iter < l.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}

		tasks, err := l.store.ListTasks()
		if err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}
		l.updateCounts(sess, tasks)

		if allTerminal(tasks) {
			return l.finish(ex, session.LeaderCompleted, nil)
		}

		plan, err := scheduler.BuildPlan(tasks)
		if err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}
		if err := plan.Validate(); err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}

		chains := plan.ReadyChains()
		capacity := scheduler.NewState(l.cfg.MaxWorkers)
		batch := plan.ParallelBatch(capacity.AvailableSlots())
		if len(chains) == 0 && len(batch) == 0 {
			return l.finish(ex, session.LeaderReviewing, nil)
		}

		var halt bool
		if len(chains) > 0 {
			halt, err = l.executeChain(ctx, ex, chains[0])
		} else {
			halt, err = l.executeBatch(ctx, ex, batch, tasks)
		}
		if err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}
		if halt {
			return l.finish(ex, session.LeaderEscalating, nil)
		}
		if err := l.sessions.SaveLeader(sess); err != nil {
			return l.finish(ex, session.LeaderFailed, err)
		}
	}

	log.Warn("leader loop hit the iteration wall", "iterations", l.cfg.MaxIterations)
	return l.finish(ex, session.LeaderReviewing, nil)
}

// finish sets the terminal status, persists the session, and assembles the
// result. A passed-in error is returned alongside the partial result.
func (l *Leader) finish(ex *execution, status session.LeaderStatus, cause error) (*Result, error) {
	ex.sess.Status = status
	if err := l.sessions.SaveLeader(ex.sess); err != nil {
		if cause == nil {
			cause = err
		} else {
			l.logger.Error("failed to persist leader session",
				"session_id", ex.sess.SessionID, "error", err.Error())
		}
	}
	res := &Result{
		Session:           ex.sess,
		CompletedTaskIDs:  ex.completed,
		FailedTaskIDs:     ex.failed,
		PendingEscalation: ex.pending,
	}
	l.logger.Info("leader loop finished",
		"session_id", ex.sess.SessionID,
		"status", string(status),
		"completed", len(ex.completed),
		"failed", len(ex.failed),
	)
	return res, cause
}

func (l *Leader) updateCounts(sess *session.LeaderSession, tasks []*task.Task) {
	done := 0
	for _, t := range tasks {
		if t.State == task.StateDone || t.State == task.StateSkipped {
			done++
		}
	}
	sess.TotalTaskCount = len(tasks)
	sess.CompletedTaskCount = done
}

func allTerminal(tasks []*task.Task) bool {
	for _, t := range tasks {
		if !t.State.IsTerminal() {
			return false
		}
	}
	return true
}

// attemptOutcome is what one worker+judge pass over a claimed task produced.
type attemptOutcome struct {
	t         *task.Task
	res       *worker.Result
	workerErr error
	verdict   *judge.Judgement
	judgeErr  error
}

func (o *attemptOutcome) runID() task.RunID {
	if o.res == nil {
		return ""
	}
	return o.res.RunID
}

// executeBatch claims the batch, runs worker and judge on each task
// concurrently, and dispatches the verdicts in order. Claim conflicts are
// not errors; the raced task is simply left for the next pass.
func (l *Leader) executeBatch(ctx context.Context, ex *execution, batch []task.ID, tasks []*task.Task) (bool, error) {
	byID := make(map[task.ID]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var claimed []*task.Task
	for i, id := range batch {
		t := byID[id]
		wid := task.WorkerID(fmt.Sprintf("%s-%d", l.cfg.WorkerID, i))
		running, err := task.Claim(l.store, id, t.Version, wid)
		if err != nil {
			if errors.IsConflict(err) {
				continue
			}
			return false, err
		}
		claimed = append(claimed, running)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	outcomes := make([]attemptOutcome, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range claimed {
		i, t := i, t
		hint := ex.hints[t.ID]
		g.Go(func() error {
			outcomes[i] = l.attempt(gctx, t, hint)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for i := range outcomes {
		halt, err := l.dispatch(ctx, ex, &outcomes[i])
		if err != nil || halt {
			return halt, err
		}
	}
	return false, nil
}

// attempt runs worker then judge for one claimed task. An existing worktree
// is reused: continuations come back through here after the first attempt
// created it.
func (l *Leader) attempt(ctx context.Context, t *task.Task, hint string) attemptOutcome {
	out := attemptOutcome{t: t}

	opts := worker.Options{Push: true, PreviousOutput: hint}
	if wt := l.worker.WorktreePathFor(t.ID); pathExists(string(wt)) {
		opts.ReuseWorktree = wt
	}

	out.res, out.workerErr = l.worker.Execute(ctx, t, opts)
	if out.workerErr != nil {
		return out
	}
	out.verdict, out.judgeErr = l.judge.Evaluate(ctx, t.ID, out.res.RunID, out.res.Worktree)
	return out
}

// dispatch maps one attempt outcome onto a task transition or an
// escalation. Returns halt=true when a pending escalation must stop the
// loop.
func (l *Leader) dispatch(ctx context.Context, ex *execution, out *attemptOutcome) (bool, error) {
	id := out.t.ID
	log := l.logger.WithSession(ex.sess.SessionID).WithTask(string(id))

	if out.workerErr != nil {
		if _, err := task.MarkBlocked(l.store, id, out.workerErr.Error()); err != nil {
			return false, err
		}
		ex.failed = append(ex.failed, id)
		ex.record(id, out.runID(), "blocked: worker failure")
		log.Warn("worker failed", "error", out.workerErr.Error())
		return false, nil
	}
	if out.judgeErr != nil {
		if _, err := task.MarkBlocked(l.store, id, out.judgeErr.Error()); err != nil {
			return false, err
		}
		ex.failed = append(ex.failed, id)
		ex.record(id, out.runID(), "blocked: judge failure")
		log.Warn("judge failed", "error", out.judgeErr.Error())
		return false, nil
	}

	halt, handled, err := l.consultDetector(ctx, ex, out)
	if handled || err != nil {
		return halt, err
	}

	v := out.verdict
	switch {
	case v.AlreadySatisfied:
		if _, err := task.MarkSkipped(l.store, id); err != nil {
			return false, err
		}
		ex.record(id, out.runID(), "skipped")
		l.teardown(id)
		return false, nil

	case v.Success:
		if _, err := task.MarkCompleted(l.store, id); err != nil {
			return false, err
		}
		ex.completed = append(ex.completed, id)
		ex.record(id, out.runID(), "completed")
		l.teardown(id)
		return false, nil

	case v.ShouldContinue:
		_, err := task.MarkForContinuation(l.store, id, v.Note(), l.cfg.MaxContinuationIterations)
		if err != nil {
			if !errors.Is(err, errors.ErrMaxRetries) {
				return false, err
			}
			if _, berr := task.MarkBlocked(l.store, id, "continuation budget exhausted: "+v.Reason); berr != nil {
				return false, berr
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, out.runID(), "blocked: continuation budget exhausted")
			pending, eerr := l.escalate(ctx, ex, escalationRequest{
				target: session.EscalateUser,
				reason: "continuation budget exhausted: " + v.Reason,
				taskID: id,
				runID:  out.runID(),
			})
			if eerr != nil {
				return false, eerr
			}
			ex.pending = pending
			return true, nil
		}
		ex.record(id, out.runID(), "queued for continuation")
		l.detect.RecordTransition(string(id)+"/RUNNING", string(id)+"/NEEDS_CONTINUATION", v.Reason)
		return false, nil

	case v.ShouldReplan:
		pending, err := l.escalate(ctx, ex, escalationRequest{
			target:  session.EscalatePlanner,
			reason:  v.Reason,
			taskID:  id,
			runID:   out.runID(),
			verdict: v,
		})
		if err != nil {
			return false, err
		}
		ex.record(id, out.runID(), "replanned")
		if pending != nil {
			ex.pending = pending
			return true, nil
		}
		return false, nil

	default:
		if _, err := task.MarkBlocked(l.store, id, "awaiting user guidance: "+v.Reason); err != nil {
			return false, err
		}
		ex.failed = append(ex.failed, id)
		ex.record(id, out.runID(), "escalated to user")
		pending, err := l.escalate(ctx, ex, escalationRequest{
			target: session.EscalateUser,
			reason: v.Reason,
			taskID: id,
			runID:  out.runID(),
		})
		if err != nil {
			return false, err
		}
		ex.pending = pending
		return true, nil
	}
}

// consultDetector feeds one finished attempt into the loop detector and
// applies its recommendation. handled=true means the detector routed the
// task itself and the verdict must not be dispatched.
func (l *Leader) consultDetector(ctx context.Context, ex *execution, out *attemptOutcome) (halt bool, handled bool, err error) {
	id := out.t.ID
	step := "work:" + string(id)

	results := []loopdetect.Result{
		l.detect.RecordStepExecution(step),
		l.detect.RecordResponse(step, out.res.Response),
	}
	for _, r := range results {
		action := l.detect.ActionFor(r)
		switch action.Kind {
		case loopdetect.ActionAbort:
			if _, err := task.MarkBlocked(l.store, id, "livelock: "+action.Reason); err != nil {
				return false, true, err
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, out.runID(), "blocked: livelock")
			l.logger.Warn("livelock abort", "task_id", string(id), "reason", action.Reason)
			return false, true, nil

		case loopdetect.ActionEscalate:
			if _, err := task.MarkBlocked(l.store, id, "livelock: "+action.Reason); err != nil {
				return false, true, err
			}
			ex.failed = append(ex.failed, id)
			ex.record(id, out.runID(), "blocked: livelock")
			pending, eerr := l.escalate(ctx, ex, escalationRequest{
				target: session.EscalateLogicValidator,
				reason: action.Reason,
				taskID: id,
				runID:  out.runID(),
			})
			if eerr != nil {
				return false, true, eerr
			}
			ex.pending = pending
			return true, true, nil

		case loopdetect.ActionRetryWithHint:
			ex.hints[id] = action.Hint

		case loopdetect.ActionForceContinue:
			l.logger.Warn("loop detector warning", "task_id", string(id), "warning", action.Warning)
		}
	}
	return false, false, nil
}

// teardown is best-effort worktree removal after a terminal verdict.
func (l *Leader) teardown(id task.ID) {
	if err := l.worker.Teardown(id); err != nil {
		l.logger.Warn("worktree teardown failed", "task_id", string(id), "error", err.Error())
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
