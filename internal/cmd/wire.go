package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/issue"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/leader"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/loopdetect"
	"github.com/Iron-Ham/maestro/internal/orchestrator"
	"github.com/Iron-Ham/maestro/internal/planner"
	"github.com/Iron-Ham/maestro/internal/planning"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
	"github.com/Iron-Ham/maestro/internal/worker"
)

// app is the fully wired command surface: stores, clients, and the
// orchestrator, all rooted at the repository the command runs in.
type app struct {
	cfg      *config.Config
	repoRoot string
	coordDir string
	logger   *logging.Logger
	store    *task.Store
	sessions *session.Store
	runs     *agent.Runs
	client   *git.Client
	orch     *orchestrator.Orchestrator
}

// newApp resolves the repository root and wires every component from the
// loaded configuration.
func newApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	repoRoot, err := findRepoRoot(cwd)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	coordDir := cfg.CoordDir(repoRoot)

	logger, err := logging.NewLogger(coordDir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	store, err := task.NewStore(coordDir, logger)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewStore(coordDir)
	if err != nil {
		return nil, err
	}

	runs := agent.NewRuns(store)
	runner := agent.NewCLIRunner(logger, cfg.Agent.Timeout())
	client := git.NewClient(git.RepoPath(repoRoot))

	judgeModel := cfg.Agent.JudgeModel
	if judgeModel == "" {
		judgeModel = cfg.Agent.Model
	}

	w := worker.New(store, runs, runner, client, worker.Config{
		AgentType: cfg.Agent.Type,
		Model:     cfg.Agent.Model,
		Remote:    cfg.Branch.Remote,
	}, logger)
	j := judge.New(store, runs, runner, judge.Config{
		AgentType:      cfg.Agent.Type,
		Model:          judgeModel,
		LogBudgetBytes: cfg.Judge.LogBudgetBytes,
		LogHeadBytes:   cfg.Judge.LogHeadBytes,
	}, logger)
	p := planner.New(store, sessions, runner, planner.Config{
		AgentType:                cfg.Agent.Type,
		Model:                    cfg.Agent.Model,
		JudgeModel:               cfg.Agent.JudgeModel,
		Repo:                     git.RepoPath(repoRoot),
		MaxQualityRetries:        cfg.Planner.MaxQualityRetries,
		MaxConsecutiveJSONErrors: cfg.Planner.MaxConsecutiveJSONErrors,
		QualityThreshold:         cfg.Planner.QualityThreshold,
		MaxReplanIterations:      cfg.Planner.MaxReplanIterations,
		UseQualityJudge:          cfg.Planner.UseQualityJudge,
		LogBudgetBytes:           cfg.Judge.LogBudgetBytes,
		LogHeadBytes:             cfg.Judge.LogHeadBytes,
	}, logger)
	machine := planning.New(sessions, runner, planning.Config{
		AgentType: cfg.Agent.Type,
		Model:     cfg.Agent.Model,
	}, logger)
	lead := leader.New(store, sessions, runs, w, j, p, leader.Config{
		MaxWorkers:                cfg.Scheduler.MaxWorkers,
		MaxIterations:             cfg.Leader.MaxIterations,
		MaxContinuationIterations: cfg.Judge.MaxContinuations,
		SerialChainTaskRetries:    cfg.Leader.SerialChainTaskRetries,
		Limits: leader.EscalationLimits{
			User:            cfg.Escalation.UserLimit,
			Planner:         cfg.Escalation.PlannerLimit,
			LogicValidator:  cfg.Escalation.LogicValidatorLimit,
			ExternalAdvisor: cfg.Escalation.ExternalAdvisorLimit,
		},
		LoopThresholds: loopdetect.Thresholds{
			MaxStepIterations:      cfg.Loop.MaxStepIterations,
			SimilarityThreshold:    cfg.Loop.SimilarityThreshold,
			ResponseWindow:         cfg.Loop.ResponseWindow,
			TransitionPatternLimit: cfg.Loop.TransitionPatternLimit,
		},
	}, logger)
	issues := issue.NewService(logger)

	orch := orchestrator.New(store, sessions, machine, p, lead, issues, orchestrator.Config{}, logger)

	return &app{
		cfg:      cfg,
		repoRoot: repoRoot,
		coordDir: coordDir,
		logger:   logger,
		store:    store,
		sessions: sessions,
		runs:     runs,
		client:   client,
		orch:     orch,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Close()
}

// findRepoRoot walks up from dir to the enclosing git repository root.
func findRepoRoot(dir string) (string, error) {
	client := git.NewClient(git.RepoPath(dir))
	out, err := client.Raw("rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
	}
	return strings.TrimSpace(out), nil
}
