package worker

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
	"github.com/Iron-Ham/maestro/internal/task"
)

// recordingExecutor accepts every git command and records it.
type recordingExecutor struct {
	calls []string
}

func (e *recordingExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	e.calls = append(e.calls, name+" "+strings.Join(args, " "))
	return nil, nil
}

func (e *recordingExecutor) called(prefix string) bool {
	for _, c := range e.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type fixture struct {
	worker *Worker
	store  *task.Store
	exec   *recordingExecutor
	runner *agent.ScriptedRunner
}

func newFixture(t *testing.T, responses ...agent.ScriptedResponse) *fixture {
	t.Helper()
	store, err := task.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	exec := &recordingExecutor{}
	runner := agent.NewScriptedRunner(responses...)
	w := New(store, agent.NewRuns(store), runner, git.NewClientWithExecutor("/repo", exec),
		Config{AgentType: "claude", Model: "sonnet", Remote: "origin"}, nil)
	return &fixture{worker: w, store: store, exec: exec, runner: runner}
}

func runningTask(t *testing.T, store *task.Store, id task.ID) *task.Task {
	t.Helper()
	created, err := store.CreateTask(&task.Task{
		ID:         id,
		State:      task.StateReady,
		Repo:       "/repo",
		Branch:     git.BranchName("task-" + string(id)),
		Acceptance: "implement the parser\nwith tests",
		Context:    "parser lives in internal/parse",
		ScopePaths: []string{"internal/parse"},
		TaskType:   task.TypeImplementation,
	})
	require.NoError(t, err)
	claimed, err := task.Claim(store, id, created.Version, "worker-1")
	require.NoError(t, err)
	return claimed
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, agent.Respond("implemented the parser, tests pass")...)
	tk := runningTask(t, f.store, "abc12345")

	res, err := f.worker.Execute(context.Background(), tk, Options{Push: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "implemented the parser, tests pass", res.Response)

	// Worktree created on the task branch, changes committed, branch pushed.
	assert.True(t, f.exec.called("git worktree add -b task-abc12345"))
	assert.True(t, f.exec.called("git add -A"))
	assert.True(t, f.exec.called("git commit -m"))
	assert.True(t, f.exec.called("git push -u origin task-abc12345"))

	// Run record finalized as SUCCESS, task points at it.
	current, err := f.store.ReadTask("abc12345")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, current.LatestRunID)
	run, err := f.store.ReadRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, task.RunSuccess, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestExecuteNoPushWithoutOption(t *testing.T) {
	f := newFixture(t, agent.Respond("done")...)
	tk := runningTask(t, f.store, "abc12345")

	_, err := f.worker.Execute(context.Background(), tk, Options{})
	require.NoError(t, err)
	assert.False(t, f.exec.called("git push"))
}

func TestExecuteReusesWorktree(t *testing.T) {
	f := newFixture(t, agent.Respond("continued work")...)
	tk := runningTask(t, f.store, "abc12345")

	res, err := f.worker.Execute(context.Background(), tk, Options{ReuseWorktree: "/existing/wt"})
	require.NoError(t, err)
	assert.Equal(t, git.WorktreePath("/existing/wt"), res.Worktree)
	assert.False(t, f.exec.called("git worktree add"), "must not create a new worktree")

	reqs := f.runner.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/existing/wt", reqs[0].WorkDir)
}

func TestExecuteRejectsNonRunningTask(t *testing.T) {
	f := newFixture(t)
	created, err := f.store.CreateTask(&task.Task{
		ID: "abc12345", State: task.StateReady, Repo: "/repo",
		Branch: "task-abc12345", Acceptance: "x", TaskType: task.TypeImplementation,
	})
	require.NoError(t, err)

	_, err = f.worker.Execute(context.Background(), created, Options{})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestExecuteAgentFailureFinalizesRun(t *testing.T) {
	f := newFixture(t, agent.ScriptedResponse{
		Err: errors.NewAgentError("agent crashed", errors.ErrAgentExecution),
	})
	tk := runningTask(t, f.store, "abc12345")

	res, err := f.worker.Execute(context.Background(), tk, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAgentExecution))

	// The run is finalized as FAILURE with the error recorded.
	run, readErr := f.store.ReadRun(res.RunID)
	require.NoError(t, readErr)
	assert.Equal(t, task.RunFailure, run.Status)
	assert.Contains(t, run.ErrorMessage, "agent crashed")

	// No commit was attempted.
	assert.False(t, f.exec.called("git commit"))
}

func TestExecuteRetriesAfterRateLimit(t *testing.T) {
	f := newFixture(t,
		agent.ScriptedResponse{Err: errors.NewRateLimitError("429 from runner", 5*time.Millisecond)},
		agent.ScriptedResponse{Response: "recovered on retry"},
	)
	tk := runningTask(t, f.store, "abc12345")

	res, err := f.worker.Execute(context.Background(), tk, Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "recovered on retry", res.Response)
	assert.Equal(t, 2, f.runner.CallCount())
}

func TestExecuteRateLimitRetryHonorsCancellation(t *testing.T) {
	f := newFixture(t,
		agent.ScriptedResponse{Err: errors.NewRateLimitError("429 from runner", time.Hour)},
	)
	tk := runningTask(t, f.store, "abc12345")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.worker.Execute(ctx, tk, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	// The cancelled wait never re-ran the agent.
	assert.Equal(t, 1, f.runner.CallCount())
}

func TestBuildPromptIncludesFeedback(t *testing.T) {
	tk := &task.Task{
		ID:         "abc12345",
		Acceptance: "do the thing",
		JudgementFeedback: &task.JudgementFeedback{
			Iteration:     1,
			MaxIterations: 3,
			LastJudgement: &task.JudgementNote{
				Reason:              "error handling missing",
				MissingRequirements: []string{"handle EOF"},
			},
		},
	}

	prompt := BuildPrompt(tk, "previous task emitted schema v2")
	assert.Contains(t, prompt, "do the thing")
	assert.Contains(t, prompt, "error handling missing")
	assert.Contains(t, prompt, "handle EOF")
	assert.Contains(t, prompt, "attempt 1 of 3")
	assert.Contains(t, prompt, "schema v2")
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	tk := &task.Task{ID: "abc12345", Acceptance: "do the thing"}
	prompt := BuildPrompt(tk, "")
	assert.NotContains(t, prompt, "Feedback")
	assert.NotContains(t, prompt, "Preceding Task")
	assert.NotContains(t, prompt, "## Scope")
}
