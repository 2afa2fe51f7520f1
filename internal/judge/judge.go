// Package judge evaluates finished task runs: it feeds the acceptance
// criteria and the (truncated) run log to an agent and parses the verdict.
//
// Parsing is deliberately forgiving. A verdict the judge cannot parse is
// treated as acceptance ("parse fallback") rather than failing the task:
// the orchestrator prefers availability over strictness here, since a
// blocked pipeline costs more than an occasional unreviewed pass.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Judgement is the agent's verdict on one run.
type Judgement struct {
	Success             bool     `json:"success"`
	Reason              string   `json:"reason"`
	ShouldContinue      bool     `json:"shouldContinue"`
	ShouldReplan        bool     `json:"shouldReplan"`
	AlreadySatisfied    bool     `json:"alreadySatisfied"`
	MissingRequirements []string `json:"missingRequirements,omitempty"`
}

// Note converts the judgement into the feedback note stored on a task for
// its next continuation attempt.
func (j *Judgement) Note() task.JudgementNote {
	return task.JudgementNote{
		Reason:              j.Reason,
		MissingRequirements: j.MissingRequirements,
		EvaluatedAt:         time.Now().UTC(),
	}
}

// parseFallback is the conservative verdict used when the agent's response
// cannot be parsed.
func parseFallback() *Judgement {
	return &Judgement{Success: true, Reason: "parse fallback"}
}

// ParseJudgement extracts a Judgement from an agent response. Any parse or
// validation failure yields the conservative fallback, never an error.
func ParseJudgement(response string) *Judgement {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return parseFallback()
	}
	var j Judgement
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return parseFallback()
	}
	if j.Reason == "" {
		// A verdict with no reason is not a usable judgement.
		return parseFallback()
	}
	return &j
}

// Config carries the judge's tunables.
type Config struct {
	AgentType      string
	Model          string
	LogBudgetBytes int
	LogHeadBytes   int
}

// Judge evaluates runs against task acceptance criteria.
type Judge struct {
	store  *task.Store
	runs   *agent.Runs
	runner agent.Runner
	cfg    Config
	logger *logging.Logger
}

// New creates a Judge.
func New(store *task.Store, runs *agent.Runs, runner agent.Runner, cfg Config, logger *logging.Logger) *Judge {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Judge{store: store, runs: runs, runner: runner, cfg: cfg, logger: logger}
}

// Evaluate judges the given run of a task. The task must be RUNNING; the
// judgement is returned for the caller to map onto a state transition.
func (j *Judge) Evaluate(ctx context.Context, taskID task.ID, runID task.RunID, worktree git.WorktreePath) (*Judgement, error) {
	t, err := j.store.ReadTask(taskID)
	if err != nil {
		return nil, err
	}
	if t.State != task.StateRunning {
		return nil, errors.NewValidationError("task " + string(taskID)).
			Add("cannot judge task in state %s", t.State)
	}

	log, err := j.runs.ReadLog(runID)
	if err != nil {
		return nil, err
	}
	truncated := TruncateLog(log, j.cfg.LogBudgetBytes, j.cfg.LogHeadBytes)

	prompt := j.buildPrompt(t, truncated, worktree)
	resp, err := j.runner.Run(ctx, agent.Request{
		AgentType: j.cfg.AgentType,
		Model:     j.cfg.Model,
		Prompt:    prompt,
		WorkDir:   string(worktree),
		RunID:     runID,
	})
	if err != nil {
		return nil, err
	}

	verdict := ParseJudgement(resp.FinalResponse)
	j.logger.Info("run judged",
		"task_id", string(taskID),
		"run_id", string(runID),
		"success", verdict.Success,
		"should_continue", verdict.ShouldContinue,
		"should_replan", verdict.ShouldReplan,
	)
	return verdict, nil
}

func (j *Judge) buildPrompt(t *task.Task, log string, worktree git.WorktreePath) string {
	var b strings.Builder
	b.WriteString("You are reviewing the output of a coding task.\n\n")
	fmt.Fprintf(&b, "## Acceptance Criteria\n%s\n\n", t.Acceptance)
	if t.Context != "" {
		fmt.Fprintf(&b, "## Task Context\n%s\n\n", t.Context)
	}
	if worktree != "" {
		fmt.Fprintf(&b, "The work was done in the checkout at %s; inspect it if the log is inconclusive.\n\n", worktree)
	}
	fmt.Fprintf(&b, "## Run Log\n%s\n\n", log)
	b.WriteString(`Respond with a single JSON object:
{
  "success": bool,            // acceptance criteria met
  "reason": "string",         // one-paragraph justification
  "shouldContinue": bool,     // more work on the same task would get there
  "shouldReplan": bool,       // the task needs to be broken down differently
  "alreadySatisfied": bool,   // criteria were met before this run started
  "missingRequirements": ["string"]
}
`)
	return b.String()
}
