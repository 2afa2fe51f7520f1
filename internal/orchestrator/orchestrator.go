// Package orchestrator wires the pipeline end to end: instruction intake,
// task generation, the leader execution loop, final-completion judgement,
// and follow-up task rounds.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/maestro/internal/issue"
	"github.com/Iron-Ham/maestro/internal/leader"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/planner"
	"github.com/Iron-Ham/maestro/internal/planning"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Config carries the orchestrator's tunables.
type Config struct {
	// MaxAdditionalRounds bounds how many follow-up task rounds may run
	// after an incomplete final-completion verdict.
	MaxAdditionalRounds int
}

func (c Config) withDefaults() Config {
	if c.MaxAdditionalRounds <= 0 {
		c.MaxAdditionalRounds = 1
	}
	return c
}

// Outcome is everything one orchestrated run produced.
type Outcome struct {
	PlannerSession  *session.PlannerSession
	Leader          *leader.Result
	Completion      *planner.FinalCompletionJudgement
	AdditionalTasks []*task.Task
}

// Orchestrator drives an instruction from intake to a finished task set.
type Orchestrator struct {
	store    *task.Store
	sessions *session.Store
	planning *planning.Planning
	planner  *planner.Planner
	leader   *leader.Leader
	issues   *issue.Service
	cfg      Config
	logger   *logging.Logger
}

// New creates an Orchestrator from its wired components.
func New(store *task.Store, sessions *session.Store, planningMachine *planning.Planning, plannerOps *planner.Planner, leaderLoop *leader.Leader, issues *issue.Service, cfg Config, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Orchestrator{
		store:    store,
		sessions: sessions,
		planning: planningMachine,
		planner:  plannerOps,
		leader:   leaderLoop,
		issues:   issues,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Execute runs the non-interactive pipeline: resolve the instruction,
// generate tasks, execute them, and judge whether the instruction is
// actually satisfied, planning one round of follow-up tasks when it is
// not.
func (o *Orchestrator) Execute(ctx context.Context, instruction string) (*Outcome, error) {
	instruction, err := o.resolveInstruction(ctx, instruction)
	if err != nil {
		return nil, err
	}

	plannerSess := &session.PlannerSession{
		SessionID:   uuid.NewString(),
		Instruction: instruction,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.sessions.SavePlanner(plannerSess); err != nil {
		return nil, err
	}
	out := &Outcome{PlannerSession: plannerSess}

	tasks, err := o.planner.PlanTasks(ctx, plannerSess)
	if err != nil {
		return out, err
	}
	o.logger.Info("instruction planned",
		"planner_session_id", plannerSess.SessionID, "tasks", len(tasks))

	return o.lead(ctx, out, plannerSess)
}

// ExecutePlanned runs an already-seeded planner session, the path taken
// after interactive planning approves a plan.
func (o *Orchestrator) ExecutePlanned(ctx context.Context, plannerSessionID string) (*Outcome, error) {
	plannerSess, err := o.sessions.LoadPlanner(plannerSessionID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{PlannerSession: plannerSess}

	if len(plannerSess.GeneratedTasks) == 0 {
		tasks, err := o.planner.PlanTasks(ctx, plannerSess)
		if err != nil {
			return out, err
		}
		o.logger.Info("planner session expanded", "session_id", plannerSessionID, "tasks", len(tasks))
	}
	return o.lead(ctx, out, plannerSess)
}

// ExecuteSeeded persists a hand-written task breakdown and runs it. The
// breakdown uses the same JSON schema the planner generates, and the
// instruction stands in for the decomposition conversation when the
// final-completion judge reviews the result.
func (o *Orchestrator) ExecuteSeeded(ctx context.Context, instruction, breakdown string) (*Outcome, error) {
	plannerSess := &session.PlannerSession{
		SessionID:   uuid.NewString(),
		Instruction: instruction,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.sessions.SavePlanner(plannerSess); err != nil {
		return nil, err
	}
	out := &Outcome{PlannerSession: plannerSess}

	tasks, err := o.planner.SeedTasks(plannerSess, breakdown)
	if err != nil {
		return out, err
	}
	o.logger.Info("plan seeded", "planner_session_id", plannerSess.SessionID, "tasks", len(tasks))

	return o.lead(ctx, out, plannerSess)
}

// StartPlanning begins an interactive planning session for the
// instruction. The caller drives questions, decisions, and review through
// the planning machine; approval seeds the planner session that
// ExecutePlanned picks up.
func (o *Orchestrator) StartPlanning(ctx context.Context, instruction string) (*session.PlanningSession, error) {
	instruction, err := o.resolveInstruction(ctx, instruction)
	if err != nil {
		return nil, err
	}
	return o.planning.Start(ctx, instruction)
}

// Planning exposes the interactive planning machine for the CLI surface.
func (o *Orchestrator) Planning() *planning.Planning {
	return o.planning
}

// ResolveEscalation records a resolution and flips the leader session back
// to EXECUTING.
func (o *Orchestrator) ResolveEscalation(sessionID, escalationID, resolution string) (*session.LeaderSession, error) {
	return o.leader.ResolveEscalation(sessionID, escalationID, resolution)
}

// AwaitResolution blocks until the leader session leaves ESCALATING,
// watching the session file for the resolver's write.
func (o *Orchestrator) AwaitResolution(ctx context.Context, sessionID string) (*session.LeaderSession, error) {
	return o.sessions.WaitForLeaderChange(ctx, sessionID, func(s *session.LeaderSession) bool {
		return s.Status != session.LeaderEscalating
	})
}

// Resume re-enters the leader loop for a session whose escalations are
// resolved.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, plannerSessionID string) (*leader.Result, error) {
	plannerSess, err := o.sessions.LoadPlanner(plannerSessionID)
	if err != nil {
		return nil, err
	}
	return o.leader.ResumeFromEscalation(ctx, sessionID, plannerSess)
}

// resolveInstruction fetches and sanitizes the issue body when the
// instruction is an issue-tracker URL.
func (o *Orchestrator) resolveInstruction(ctx context.Context, instruction string) (string, error) {
	if o.issues == nil || !issue.IsIssueURL(instruction) {
		return instruction, nil
	}
	fetched, err := o.issues.Fetch(ctx, instruction)
	if err != nil {
		return "", err
	}
	o.logger.Info("instruction fetched from issue tracker", "url", instruction)
	return fetched, nil
}

// lead creates the leader session, runs the loop, and closes with the
// final-completion judgement and any follow-up rounds it justifies.
func (o *Orchestrator) lead(ctx context.Context, out *Outcome, plannerSess *session.PlannerSession) (*Outcome, error) {
	leaderSess := &session.LeaderSession{
		SessionID:      "leader-" + uuid.NewString()[:8],
		Status:         session.LeaderPlanning,
		TotalTaskCount: len(plannerSess.GeneratedTasks),
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.sessions.SaveLeader(leaderSess); err != nil {
		return out, err
	}

	res, err := o.leader.Run(ctx, leaderSess, plannerSess)
	out.Leader = res
	if err != nil {
		return out, err
	}

	for round := 0; ; round++ {
		if res.Session.Status != session.LeaderCompleted {
			break
		}
		all, err := o.store.ListTasks()
		if err != nil {
			return out, err
		}
		verdict, err := o.planner.JudgeFinalCompletion(ctx, plannerSess, all)
		if err != nil {
			return out, err
		}
		out.Completion = verdict
		if verdict.IsComplete || len(verdict.MissingAspects) == 0 || round >= o.cfg.MaxAdditionalRounds {
			break
		}

		extra, err := o.planner.PlanAdditionalTasks(ctx, plannerSess, verdict.MissingAspects)
		if err != nil {
			return out, err
		}
		out.AdditionalTasks = append(out.AdditionalTasks, extra...)
		o.logger.Info("follow-up round planned", "round", round+1, "tasks", len(extra))

		res, err = o.leader.Run(ctx, leaderSess, plannerSess)
		out.Leader = res
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
