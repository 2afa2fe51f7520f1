package leader

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/planner"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
	"github.com/Iron-Ham/maestro/internal/worker"
)

const (
	successVerdict  = `{"success": true, "reason": "meets acceptance"}`
	skipVerdict     = `{"success": false, "alreadySatisfied": true, "reason": "already in place"}`
	continueVerdict = `{"success": false, "shouldContinue": true, "reason": "missing tests", "missingRequirements": ["add tests"]}`
	replanVerdict   = `{"success": false, "shouldReplan": true, "reason": "wrong approach"}`
	failVerdict     = `{"success": false, "reason": "cannot proceed"}`
)

// recordingExecutor accepts every git command and records it.
type recordingExecutor struct {
	calls []string
}

func (e *recordingExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	e.calls = append(e.calls, name+" "+strings.Join(args, " "))
	return nil, nil
}

func (e *recordingExecutor) count(prefix string) int {
	n := 0
	for _, c := range e.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type fixture struct {
	leader   *Leader
	store    *task.Store
	sessions *session.Store
	runner   *agent.ScriptedRunner
	exec     *recordingExecutor
}

func newFixture(t *testing.T, cfg Config, responses ...agent.ScriptedResponse) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := task.NewStore(dir, nil)
	require.NoError(t, err)
	sessions, err := session.NewStore(dir)
	require.NoError(t, err)

	runner := agent.NewScriptedRunner(responses...)
	exec := &recordingExecutor{}
	client := git.NewClientWithExecutor("/repo", exec)
	runs := agent.NewRuns(store)

	w := worker.New(store, runs, runner, client,
		worker.Config{AgentType: "claude", Model: "sonnet", Remote: "origin"}, nil)
	j := judge.New(store, runs, runner,
		judge.Config{AgentType: "claude", Model: "sonnet", LogBudgetBytes: 150 << 10, LogHeadBytes: 10 << 10}, nil)
	p := planner.New(store, sessions, runner, planner.Config{
		AgentType:                "claude",
		Model:                    "sonnet",
		Repo:                     "/repo",
		MaxQualityRetries:        5,
		MaxConsecutiveJSONErrors: 3,
		QualityThreshold:         60,
		MaxReplanIterations:      3,
		LogBudgetBytes:           150 << 10,
		LogHeadBytes:             10 << 10,
	}, nil)

	l := New(store, sessions, runs, w, j, p, cfg, nil)
	return &fixture{leader: l, store: store, sessions: sessions, runner: runner, exec: exec}
}

func newLeaderSession() *session.LeaderSession {
	return &session.LeaderSession{
		SessionID: "leader-1",
		Status:    session.LeaderPlanning,
		CreatedAt: time.Now().UTC(),
	}
}

func newPlannerSession() *session.PlannerSession {
	return &session.PlannerSession{
		SessionID:   "0123456789abcdef",
		Instruction: "build the thing",
		CreatedAt:   time.Now().UTC(),
	}
}

func seedTask(t *testing.T, store *task.Store, id task.ID, deps ...task.ID) *task.Task {
	t.Helper()
	created, err := store.CreateTask(&task.Task{
		ID:           id,
		State:        task.StateReady,
		Repo:         "/repo",
		Branch:       git.BranchName("task-" + string(id)),
		Acceptance:   "acceptance for " + string(id),
		TaskType:     task.TypeImplementation,
		Dependencies: deps,
	})
	require.NoError(t, err)
	return created
}

func TestRunCompletesSingleTask(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("did the work", successVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.Equal(t, []task.ID{"aaaaaaaa"}, res.CompletedTaskIDs)
	assert.Empty(t, res.FailedTaskIDs)
	assert.Nil(t, res.PendingEscalation)
	assert.Equal(t, 1, res.Session.CompletedTaskCount)
	assert.Equal(t, 1, res.Session.TotalTaskCount)

	done, err := f.store.ReadTask("aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, task.StateDone, done.State)
	assert.Empty(t, done.Owner)
}

func TestRunAllTerminalCompletesWithoutAgent(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1})
	created := seedTask(t, f.store, "aaaaaaaa")
	_, err := task.Claim(f.store, created.ID, created.Version, "w")
	require.NoError(t, err)
	_, err = task.MarkCompleted(f.store, created.ID)
	require.NoError(t, err)

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.Zero(t, f.runner.CallCount())
}

func TestRunIndependentTasksSequentially(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("work a", successVerdict, "work b", successVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")
	seedTask(t, f.store, "bbbbbbbb")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.ElementsMatch(t, []task.ID{"aaaaaaaa", "bbbbbbbb"}, res.CompletedTaskIDs)
}

func TestRunDependentTasksAsChain(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("built the base", successVerdict, "built on top", successVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")
	seedTask(t, f.store, "bbbbbbbb", "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)
	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.Equal(t, []task.ID{"aaaaaaaa", "bbbbbbbb"}, res.CompletedTaskIDs)

	// Chain branch continuity: the second task inherits the head's branch.
	second, err := f.store.ReadTask("bbbbbbbb")
	require.NoError(t, err)
	assert.Equal(t, git.BranchName("task-aaaaaaaa"), second.Branch)

	// One worktree for the whole chain, one push at its end.
	assert.Equal(t, 1, f.exec.count("git worktree add"))
	assert.Equal(t, 1, f.exec.count("git push"))

	// The second task saw the first task's output.
	reqs := f.runner.Requests()
	assert.Contains(t, reqs[2].Prompt, "built the base")
}

func TestRunSkipsAlreadySatisfiedTask(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("nothing to do", skipVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.Empty(t, res.CompletedTaskIDs)

	skipped, err := f.store.ReadTask("aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, task.StateSkipped, skipped.State)
}

func TestRunContinuationThenSuccess(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("first pass", continueVerdict, "second pass", successVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)
	assert.Equal(t, session.LeaderCompleted, res.Session.Status)

	outcomes := make([]string, 0, len(res.Session.MemberTaskHistory))
	for _, h := range res.Session.MemberTaskHistory {
		outcomes = append(outcomes, h.Outcome)
	}
	assert.Contains(t, outcomes, "queued for continuation")
	assert.Contains(t, outcomes, "completed")

	// The retry prompt carries the judge's feedback.
	reqs := f.runner.Requests()
	require.Len(t, reqs, 4)
	assert.Contains(t, reqs[2].Prompt, "missing tests")
}

func TestRunBlocksTaskOnWorkerFailure(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1}, agent.ScriptedResponse{
		Err: errors.NewAgentError("agent crashed", errors.ErrAgentExecution),
	})
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	// A blocked task is not terminal and not ready, so the loop parks in
	// REVIEWING.
	assert.Equal(t, session.LeaderReviewing, res.Session.Status)
	assert.Equal(t, []task.ID{"aaaaaaaa"}, res.FailedTaskIDs)

	blocked, readErr := f.store.ReadTask("aaaaaaaa")
	require.NoError(t, readErr)
	assert.Equal(t, task.StateBlocked, blocked.State)
	assert.Contains(t, blocked.BlockedReason, "agent crashed")
}

func TestRunEscalatesToUserOnFailedVerdict(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1},
		agent.Respond("tried", failVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderEscalating, res.Session.Status)
	require.NotNil(t, res.PendingEscalation)
	assert.Equal(t, session.EscalateUser, res.PendingEscalation.Target)
	assert.Contains(t, res.PendingEscalation.Reason, "cannot proceed")
	assert.Equal(t, task.ID("aaaaaaaa"), res.PendingEscalation.RelatedTaskID)
	assert.Equal(t, 1, res.Session.EscalationAttempts.User)
}

func TestRunReplanCreatesSuccessorsAndFinishes(t *testing.T) {
	successors := `[{"id": "fix", "description": "take the simpler route",
		"acceptance": "simpler route implemented", "type": "implementation",
		"estimatedDuration": 1}]`
	f := newFixture(t, Config{MaxWorkers: 1}, agent.Respond(
		"went down the wrong path", replanVerdict, // original attempt
		successors,                     // replan decomposition
		"simpler route", successVerdict, // successor attempt
	)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)
	assert.Equal(t, session.LeaderCompleted, res.Session.Status)
	assert.Equal(t, []task.ID{"task-01234567-fix"}, res.CompletedTaskIDs)

	original, readErr := f.store.ReadTask("aaaaaaaa")
	require.NoError(t, readErr)
	assert.Equal(t, task.StateReplacedByReplan, original.State)
	require.NotNil(t, original.ReplanningInfo)
	assert.Equal(t, []task.ID{"task-01234567-fix"}, original.ReplanningInfo.ReplacedBy)

	// The planner escalation resolved itself without halting the loop.
	assert.Equal(t, 1, res.Session.EscalationAttempts.Planner)
	require.Len(t, res.Session.EscalationRecords, 1)
	assert.True(t, res.Session.EscalationRecords[0].Resolved)
}

func TestRunPlannerLimitFallsBackToUser(t *testing.T) {
	f := newFixture(t, Config{
		MaxWorkers: 1,
		Limits:     EscalationLimits{User: 10, Planner: 0, LogicValidator: 5, ExternalAdvisor: 5},
	}, agent.Respond("tried", replanVerdict)...)
	seedTask(t, f.store, "aaaaaaaa")

	res, err := f.leader.Run(context.Background(), newLeaderSession(), newPlannerSession())
	require.NoError(t, err)

	assert.Equal(t, session.LeaderEscalating, res.Session.Status)
	require.NotNil(t, res.PendingEscalation)
	assert.Equal(t, session.EscalateUser, res.PendingEscalation.Target)
	assert.Contains(t, res.PendingEscalation.Reason, "replanning limit reached")
}

func TestEscalateValidatorFallsBackWithPrefix(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1})
	sess := newLeaderSession()
	sess.Status = session.LeaderExecuting
	require.NoError(t, f.sessions.SaveLeader(sess))

	ex := &execution{sess: sess, plannerSess: newPlannerSession()}
	rec, err := f.leader.escalate(context.Background(), ex, escalationRequest{
		target: session.EscalateLogicValidator,
		reason: "repeating transition pattern",
		taskID: "aaaaaaaa",
	})
	require.NoError(t, err)

	require.NotNil(t, rec)
	assert.Equal(t, session.EscalateUser, rec.Target)
	assert.True(t, strings.HasPrefix(rec.Reason, "[Technical difficulty] "))
	assert.Equal(t, 1, sess.EscalationAttempts.LogicValidator)
	assert.Equal(t, 1, sess.EscalationAttempts.User)
}

func TestEscalateUserLimitFailsSession(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1, Limits: EscalationLimits{User: 1, Planner: 3, LogicValidator: 5, ExternalAdvisor: 5}})
	sess := newLeaderSession()
	sess.Status = session.LeaderExecuting
	sess.EscalationAttempts.User = 1
	require.NoError(t, f.sessions.SaveLeader(sess))

	ex := &execution{sess: sess}
	_, err := f.leader.escalate(context.Background(), ex, escalationRequest{
		target: session.EscalateUser,
		reason: "still stuck",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEscalationLimit))
	assert.Equal(t, session.LeaderFailed, sess.Status)
}

func TestResolveEscalation(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1})
	sess := newLeaderSession()
	sess.Status = session.LeaderEscalating
	sess.EscalationRecords = []session.EscalationRecord{{
		ID:          "esc-1",
		Target:      session.EscalateUser,
		Reason:      "which schema version?",
		EscalatedAt: time.Now().UTC(),
	}}
	require.NoError(t, f.sessions.SaveLeader(sess))

	resolved, err := f.leader.ResolveEscalation(sess.SessionID, "esc-1", "use v2")
	require.NoError(t, err)

	assert.Equal(t, session.LeaderExecuting, resolved.Status)
	require.True(t, resolved.EscalationRecords[0].Resolved)
	assert.Equal(t, "use v2", resolved.EscalationRecords[0].Resolution)
	assert.NotNil(t, resolved.EscalationRecords[0].ResolvedAt)
}

func TestResolveEscalationUnknownID(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1})
	sess := newLeaderSession()
	require.NoError(t, f.sessions.SaveLeader(sess))

	_, err := f.leader.ResolveEscalation(sess.SessionID, "esc-missing", "answer")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestResumeRejectsUnresolvedEscalation(t *testing.T) {
	f := newFixture(t, Config{MaxWorkers: 1})
	sess := newLeaderSession()
	sess.Status = session.LeaderEscalating
	sess.EscalationRecords = []session.EscalationRecord{{
		ID:          "esc-1",
		Target:      session.EscalateUser,
		Reason:      "pending question",
		EscalatedAt: time.Now().UTC(),
	}}
	require.NoError(t, f.sessions.SaveLeader(sess))

	_, err := f.leader.ResumeFromEscalation(context.Background(), sess.SessionID, newPlannerSession())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestEscalationLimitsLimit(t *testing.T) {
	limits := DefaultEscalationLimits()
	tests := []struct {
		target session.EscalationTarget
		want   int
	}{
		{session.EscalateUser, 10},
		{session.EscalatePlanner, 3},
		{session.EscalateLogicValidator, 5},
		{session.EscalateExternalAdvisor, 5},
		{session.EscalationTarget("bogus"), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, limits.Limit(tt.target), string(tt.target))
	}
}
