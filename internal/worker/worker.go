// Package worker executes one task attempt: set up (or reuse) a worktree,
// run the coding agent against a prompt built from the task, commit whatever
// changed, and optionally push the branch.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Config carries the worker's tunables.
type Config struct {
	AgentType string
	Model     string
	Remote    string
	// WorktreeRoot is where task worktrees are created. Defaults to
	// <coord>/worktrees when empty.
	WorktreeRoot string
}

// Options modifies one execution.
type Options struct {
	// ReuseWorktree skips worktree creation and runs in the given checkout:
	// continuations, and every chain task after the first.
	ReuseWorktree git.WorktreePath
	// Push pushes the branch after committing. Chains push once, at the end.
	Push bool
	// PreviousOutput is the prior chain task's final response, passed as a
	// hint.
	PreviousOutput string
}

// Result is the outcome of one execution attempt.
type Result struct {
	RunID    task.RunID
	Worktree git.WorktreePath
	Response string
	Success  bool
}

// Worker runs task attempts.
type Worker struct {
	store  *task.Store
	runs   *agent.Runs
	runner agent.Runner
	client *git.Client
	cfg    Config
	logger *logging.Logger
}

// New creates a Worker.
func New(store *task.Store, runs *agent.Runs, runner agent.Runner, client *git.Client, cfg Config, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.WorktreeRoot == "" {
		cfg.WorktreeRoot = filepath.Join(store.CoordDir(), "worktrees")
	}
	return &Worker{store: store, runs: runs, runner: runner, client: client, cfg: cfg, logger: logger}
}

// WorktreePathFor returns where the worker would place a task's worktree.
func (w *Worker) WorktreePathFor(id task.ID) git.WorktreePath {
	return git.WorktreePath(filepath.Join(w.cfg.WorktreeRoot, string(id)))
}

// Execute runs one attempt of the task. The task must already be RUNNING and
// owned by the caller. A store write failure or a setup failure fails the
// attempt; the task record itself is never left torn.
func (w *Worker) Execute(ctx context.Context, t *task.Task, opts Options) (*Result, error) {
	if t.State != task.StateRunning {
		return nil, errors.NewValidationError("task " + string(t.ID)).
			Add("worker requires a RUNNING task, got %s", t.State)
	}

	worktree := opts.ReuseWorktree
	if worktree == "" {
		worktree = w.WorktreePathFor(t.ID)
		if err := w.client.CreateWorktree(worktree, t.Branch); err != nil {
			return nil, err
		}
	}

	run := &task.Run{
		ID:        task.RunID("run-" + uuid.NewString()[:8]),
		TaskID:    t.ID,
		AgentType: w.cfg.AgentType,
		Model:     w.cfg.Model,
		StartedAt: time.Now().UTC(),
	}
	if err := w.runs.InitializeLogFile(run); err != nil {
		return nil, err
	}
	if err := w.runs.SaveRunMetadata(run); err != nil {
		return nil, err
	}
	if _, err := task.SetLatestRun(w.store, t.ID, run.ID); err != nil {
		return nil, err
	}

	req := agent.Request{
		AgentType: w.cfg.AgentType,
		Model:     w.cfg.Model,
		Prompt:    BuildPrompt(t, opts.PreviousOutput),
		WorkDir:   string(worktree),
		RunID:     run.ID,
	}
	resp, agentErr := w.runner.Run(ctx, req)
	if agentErr != nil {
		// A rate-limited run gets one more attempt after the server-advised
		// delay; every other failure fails the attempt.
		if wait := errors.RetryAfterHint(agentErr); wait > 0 {
			w.logger.Warn("agent rate limited, backing off",
				"run_id", string(run.ID), "retry_after", wait.String())
			select {
			case <-ctx.Done():
			case <-time.After(wait):
				resp, agentErr = w.runner.Run(ctx, req)
			}
		}
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if agentErr != nil {
		run.Status = task.RunFailure
		run.ErrorMessage = agentErr.Error()
		if err := w.runs.SaveRunMetadata(run); err != nil {
			w.logger.Error("failed to finalize run metadata", "run_id", string(run.ID), "error", err.Error())
		}
		return &Result{RunID: run.ID, Worktree: worktree}, agentErr
	}

	if err := w.runs.AppendLog(run.ID, resp.FinalResponse); err != nil {
		return nil, err
	}
	run.Status = task.RunSuccess
	if err := w.runs.SaveRunMetadata(run); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("%s: %s", t.ID, firstLine(t.Acceptance))
	if err := w.client.CommitChanges(string(worktree), message); err != nil {
		return &Result{RunID: run.ID, Worktree: worktree, Response: resp.FinalResponse}, err
	}

	if opts.Push {
		if err := w.client.PushBranch(string(worktree), t.Branch, w.cfg.Remote); err != nil {
			return &Result{RunID: run.ID, Worktree: worktree, Response: resp.FinalResponse}, err
		}
	}

	w.logger.Info("task attempt finished",
		"task_id", string(t.ID),
		"run_id", string(run.ID),
		"worktree", string(worktree),
		"pushed", opts.Push,
	)
	return &Result{RunID: run.ID, Worktree: worktree, Response: resp.FinalResponse, Success: true}, nil
}

// Teardown removes the task's worktree. A worktree that was never created
// or is already gone is not an error.
func (w *Worker) Teardown(id task.ID) error {
	path := w.WorktreePathFor(id)
	if _, err := os.Stat(string(path)); os.IsNotExist(err) {
		return nil
	}
	return w.client.RemoveWorktree(path)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
