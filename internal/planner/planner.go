package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Config carries the planner's tunables.
type Config struct {
	AgentType string
	Model     string
	// JudgeModel is used for the quality and completion judges; falls back
	// to Model when empty.
	JudgeModel string
	Repo       git.RepoPath

	MaxQualityRetries        int
	MaxConsecutiveJSONErrors int
	QualityThreshold         int
	MaxReplanIterations      int
	UseQualityJudge          bool

	LogBudgetBytes int
	LogHeadBytes   int
}

func (c Config) judgeModel() string {
	if c.JudgeModel != "" {
		return c.JudgeModel
	}
	return c.Model
}

// Planner generates, replans, and evaluates tasks.
type Planner struct {
	store    *task.Store
	sessions *session.Store
	runner   agent.Runner
	cfg      Config
	logger   *logging.Logger
}

// New creates a Planner.
func New(store *task.Store, sessions *session.Store, runner agent.Runner, cfg Config, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Planner{store: store, sessions: sessions, runner: runner, cfg: cfg, logger: logger}
}

// PlanTasks decomposes the session's instruction into persisted tasks.
//
// Generation is quality-guarded: up to MaxQualityRetries attempts, each
// rejection feeding its critique back into the next prompt. Malformed JSON
// gets its own smaller budget (MaxConsecutiveJSONErrors) and does not
// consume a quality retry. Accepted breakdowns are persisted with
// deterministic ids derived from the session, and dependency references are
// translated to the persisted ids.
func (p *Planner) PlanTasks(ctx context.Context, sess *session.PlannerSession) ([]*task.Task, error) {
	feedback := ""
	jsonErrors := 0

	for attempt := 1; attempt <= p.cfg.MaxQualityRetries; attempt++ {
		prompt := p.decompositionPrompt(sess.Instruction, feedback)
		resp, err := p.runner.Run(ctx, agent.Request{
			AgentType: p.cfg.AgentType,
			Model:     p.cfg.Model,
			Prompt:    prompt,
		})
		if err != nil {
			return nil, err
		}
		p.recordExchange(sess, prompt, resp.FinalResponse)

		items, err := ParseBreakdowns(resp.FinalResponse)
		if err != nil {
			jsonErrors++
			if jsonErrors > p.cfg.MaxConsecutiveJSONErrors {
				return nil, errors.NewTaskError(
					fmt.Sprintf("planner emitted malformed JSON %d times in a row", jsonErrors),
					errors.ErrParse,
				)
			}
			// JSON noise does not consume a quality retry.
			attempt--
			continue
		}
		jsonErrors = 0

		if err := ValidateBreakdowns(items); err != nil {
			feedback = fmt.Sprintf("The previous breakdown was structurally invalid:\n%v\nPrevious attempt:\n%s",
				err, resp.FinalResponse)
			p.logger.Warn("decomposition rejected", "attempt", attempt, "reason", err.Error())
			continue
		}

		if p.cfg.UseQualityJudge {
			verdict := p.judgeQuality(ctx, sess.Instruction, items)
			if !verdict.Accepted(p.cfg.QualityThreshold) {
				feedback = fmt.Sprintf("A reviewer rejected the previous breakdown:\n%sPrevious attempt:\n%s",
					verdict.Critique(), resp.FinalResponse)
				p.logger.Warn("decomposition rejected by quality judge", "attempt", attempt)
				continue
			}
		}

		return p.persistBreakdowns(sess, items, nil)
	}

	return nil, errors.NewTaskError("task generation rejected on every attempt", errors.ErrMaxRetries)
}

// SeedTasks persists a hand-written breakdown, bypassing generation. The
// breakdown is validated the same way a generated one is.
func (p *Planner) SeedTasks(sess *session.PlannerSession, raw string) ([]*task.Task, error) {
	items, err := ParseBreakdowns(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateBreakdowns(items); err != nil {
		return nil, err
	}
	return p.persistBreakdowns(sess, items, nil)
}

// judgeQuality runs the second-pass quality judge. Agent or parse failure
// accepts: an unreviewable plan still beats no plan.
func (p *Planner) judgeQuality(ctx context.Context, instruction string, items []TaskBreakdown) *TaskQualityJudgement {
	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return &TaskQualityJudgement{IsAcceptable: true}
	}
	prompt := fmt.Sprintf(`You are reviewing a task breakdown for this instruction:

%s

The breakdown:

%s

Respond with a single JSON object:
{"isAcceptable": bool, "issues": ["string"], "suggestions": ["string"], "overallScore": 0-100}
`, instruction, string(encoded))

	resp, err := p.runner.Run(ctx, agent.Request{
		AgentType: p.cfg.AgentType,
		Model:     p.cfg.judgeModel(),
		Prompt:    prompt,
	})
	if err != nil {
		return &TaskQualityJudgement{IsAcceptable: true}
	}
	raw, err := judge.ExtractJSONObject(resp.FinalResponse)
	if err != nil {
		return &TaskQualityJudgement{IsAcceptable: true}
	}
	var verdict TaskQualityJudgement
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return &TaskQualityJudgement{IsAcceptable: true}
	}
	return &verdict
}

// persistBreakdowns creates tasks from an accepted decomposition. IDs are
// deterministic: task-<sessionShort>-<rawId>. Dependency references inside
// the breakdown are translated to the persisted ids. lineage, when non-nil,
// stamps replanning info onto every created task.
func (p *Planner) persistBreakdowns(sess *session.PlannerSession, items []TaskBreakdown, lineage *task.ReplanningInfo) ([]*task.Task, error) {
	idFor := make(map[string]task.ID, len(items))
	for _, item := range items {
		idFor[item.ID] = task.ID(fmt.Sprintf("task-%s-%s", sess.ShortID(), item.ID))
	}

	created := make([]*task.Task, 0, len(items))
	for _, item := range items {
		deps := make([]task.ID, 0, len(item.Dependencies))
		for _, d := range item.Dependencies {
			deps = append(deps, idFor[d])
		}

		branch := item.Branch
		if branch == "" {
			branch = string(idFor[item.ID])
		}

		t := &task.Task{
			ID:           idFor[item.ID],
			State:        task.StateReady,
			Repo:         p.cfg.Repo,
			Branch:       git.BranchName(branch),
			ScopePaths:   item.ScopePaths,
			Acceptance:   item.Acceptance,
			Context:      joinContext(item.Description, item.Context),
			TaskType:     task.Type(item.Type),
			Dependencies: deps,
		}
		if lineage != nil {
			info := *lineage
			t.ReplanningInfo = &info
		}

		stored, err := p.store.CreateTask(t)
		if err != nil {
			return nil, err
		}
		created = append(created, stored)
		sess.GeneratedTasks = append(sess.GeneratedTasks, stored.ID)
	}

	if err := p.sessions.SavePlanner(sess); err != nil {
		return nil, err
	}
	p.logger.Info("tasks planned", "session_id", sess.SessionID, "count", len(created))
	return created, nil
}

func (p *Planner) decompositionPrompt(instruction, feedback string) string {
	var b strings.Builder
	b.WriteString("Decompose the following instruction into independent, verifiable coding tasks.\n\n")
	fmt.Fprintf(&b, "## Instruction\n%s\n\n", instruction)
	if feedback != "" {
		fmt.Fprintf(&b, "## Feedback On Your Previous Attempt\n%s\n\n", feedback)
	}
	b.WriteString(`Respond with a JSON array. Each element:
{
  "id": "short-slug",
  "description": "what to build",
  "branch": "",
  "scopePaths": ["paths/the/task/may/touch"],
  "acceptance": "objectively checkable completion criteria",
  "type": "implementation|documentation|investigation|integration",
  "estimatedDuration": 0.5,
  "context": "background a fresh engineer needs",
  "dependencies": ["ids of tasks that must finish first"]
}
Estimated durations are hours in [0.5, 8]. Prefer few, coherent tasks over many fragments.
`)
	return b.String()
}

func (p *Planner) recordExchange(sess *session.PlannerSession, prompt, response string) {
	now := time.Now().UTC()
	sess.ConversationHistory = append(sess.ConversationHistory,
		session.Message{Role: "user", Content: prompt, Timestamp: now},
		session.Message{Role: "assistant", Content: response, Timestamp: now},
	)
}

func joinContext(description, context string) string {
	switch {
	case description == "":
		return context
	case context == "":
		return description
	default:
		return description + "\n\n" + context
	}
}
