// Package task defines Maestro's central task model and its persistent
// store. A Task is the unit of work handed to a coding agent; the store
// owns every Task record and is the only component allowed to mutate one,
// via optimistic compare-and-swap keyed by the record version.
package task

import (
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/git"
)

// ID uniquely identifies a task. IDs are opaque strings; equality is
// byte-equality.
type ID string

// String returns the task ID as a plain string.
func (id ID) String() string {
	return string(id)
}

// RunID uniquely identifies an agent execution record.
type RunID string

// String returns the run ID as a plain string.
func (id RunID) String() string {
	return string(id)
}

// WorkerID identifies the worker currently owning a RUNNING task.
type WorkerID string

// String returns the worker ID as a plain string.
func (id WorkerID) String() string {
	return string(id)
}

// CheckID uniquely identifies a validator result.
type CheckID string

// -----------------------------------------------------------------------------
// Task State
// -----------------------------------------------------------------------------

// State represents the lifecycle state of a task.
type State string

const (
	// StateReady indicates the task can be claimed: every dependency is in a
	// satisfied terminal state.
	StateReady State = "READY"

	// StateRunning indicates a worker owns the task and is executing it.
	StateRunning State = "RUNNING"

	// StateNeedsContinuation indicates the task is paused between a judge
	// continuation verdict and re-queueing.
	StateNeedsContinuation State = "NEEDS_CONTINUATION"

	// StateBlocked indicates the task cannot make progress without outside
	// intervention.
	StateBlocked State = "BLOCKED"

	// StateDone indicates the task completed and was accepted by the judge.
	StateDone State = "DONE"

	// StateSkipped indicates the judge found the acceptance criteria already
	// satisfied; no work was needed.
	StateSkipped State = "SKIPPED"

	// StateCancelled indicates the task was withdrawn before completion.
	StateCancelled State = "CANCELLED"

	// StateReplacedByReplan indicates the task was decomposed into successor
	// tasks; the successors carry the work forward.
	StateReplacedByReplan State = "REPLACED_BY_REPLAN"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if this state is final: the scheduler never picks
// a terminal task again.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateSkipped, StateCancelled, StateReplacedByReplan:
		return true
	default:
		return false
	}
}

// IsValid returns true if this is a recognized state value.
func (s State) IsValid() bool {
	switch s {
	case StateReady, StateRunning, StateNeedsContinuation, StateBlocked,
		StateDone, StateSkipped, StateCancelled, StateReplacedByReplan:
		return true
	default:
		return false
	}
}

// SatisfiesDependency returns true if a dependency in this state unblocks
// its dependents.
func (s State) SatisfiesDependency() bool {
	return s == StateDone || s == StateSkipped
}

// -----------------------------------------------------------------------------
// Task Type
// -----------------------------------------------------------------------------

// Type categorizes what kind of work a task represents.
type Type string

const (
	TypeImplementation Type = "implementation"
	TypeDocumentation  Type = "documentation"
	TypeInvestigation  Type = "investigation"
	TypeIntegration    Type = "integration"
)

// IsValid returns true if this is a recognized task type.
func (t Type) IsValid() bool {
	switch t {
	case TypeImplementation, TypeDocumentation, TypeInvestigation, TypeIntegration:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Judgement Feedback and Replanning Info
// -----------------------------------------------------------------------------

// JudgementNote is the part of a judge verdict that is persisted on the task
// for the next continuation attempt.
type JudgementNote struct {
	Reason              string    `json:"reason"`
	MissingRequirements []string  `json:"missingRequirements,omitempty"`
	EvaluatedAt         time.Time `json:"evaluatedAt"`
}

// JudgementFeedback accumulates judge continuation verdicts across attempts.
// Iteration must stay strictly below MaxIterations while the task is queued
// as READY; reaching the maximum forces BLOCKED.
type JudgementFeedback struct {
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	LastJudgement *JudgementNote `json:"lastJudgement,omitempty"`
}

// ReplanningInfo records a task's position in a replanning lineage.
// OriginalTaskID always names the root of the lineage, so replan depth is
// bounded per-lineage rather than per-record.
type ReplanningInfo struct {
	Iteration      int    `json:"iteration"`
	MaxIterations  int    `json:"maxIterations"`
	OriginalTaskID ID     `json:"originalTaskId"`
	ReplacedBy     []ID   `json:"replacedBy,omitempty"`
	ReplanReason   string `json:"replanReason,omitempty"`
}

// -----------------------------------------------------------------------------
// Task
// -----------------------------------------------------------------------------

// Task is the central mutable entity of the orchestrator.
//
// Invariants maintained by the store:
//   - RUNNING implies Owner != ""; any other state implies Owner == "".
//   - READY implies every dependency exists and is DONE or SKIPPED.
//   - Version strictly increases on every successful mutation.
//   - The dependency graph over non-terminal tasks is acyclic.
type Task struct {
	ID    ID    `json:"id"`
	State State `json:"state"`

	// Version is the CAS token: it increases by exactly one on every
	// successful mutation.
	Version int `json:"version"`

	// Owner is the claiming worker while RUNNING, empty otherwise.
	Owner WorkerID `json:"owner,omitempty"`

	Repo       git.RepoPath   `json:"repo"`
	Branch     git.BranchName `json:"branch"`
	ScopePaths []string       `json:"scopePaths,omitempty"`

	Acceptance string `json:"acceptance"`
	Context    string `json:"context,omitempty"`
	Summary    string `json:"summary,omitempty"`
	TaskType   Type   `json:"taskType"`

	Dependencies []ID `json:"dependencies,omitempty"`

	LatestRunID RunID `json:"latestRunId,omitempty"`

	JudgementFeedback *JudgementFeedback `json:"judgementFeedback,omitempty"`
	ReplanningInfo    *ReplanningInfo    `json:"replanningInfo,omitempty"`

	// BlockedReason records why the task was blocked, for escalation surfaces.
	BlockedReason string `json:"blockedReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DependsOn returns true if the task lists dep as a dependency.
func (t *Task) DependsOn(dep ID) bool {
	for _, d := range t.Dependencies {
		if d == dep {
			return true
		}
	}
	return false
}

// Validate checks structural and state invariants of a single record.
// Cross-record invariants (dependency existence, acyclicity) are checked by
// the scheduler against a full task set.
func (t *Task) Validate() error {
	v := errors.NewValidationError("task " + string(t.ID))

	if t.ID == "" {
		v.Add("id is empty")
	}
	if !t.State.IsValid() {
		v.Add("unknown state %q", t.State)
	}
	if t.Version < 0 {
		v.Add("version %d is negative", t.Version)
	}
	if t.State == StateRunning && t.Owner == "" {
		v.Add("RUNNING task has no owner")
	}
	if t.State != StateRunning && t.Owner != "" {
		v.Add("%s task has owner %q", t.State, t.Owner)
	}
	if t.TaskType != "" && !t.TaskType.IsValid() {
		v.Add("unknown task type %q", t.TaskType)
	}
	if fb := t.JudgementFeedback; fb != nil {
		if t.State == StateReady && fb.Iteration >= fb.MaxIterations {
			v.Add("READY task has exhausted continuation budget (%d/%d)", fb.Iteration, fb.MaxIterations)
		}
	}
	if ri := t.ReplanningInfo; ri != nil {
		if ri.Iteration > ri.MaxIterations {
			v.Add("replanning iteration %d exceeds maximum %d", ri.Iteration, ri.MaxIterations)
		}
	}

	if v.HasIssues() {
		return v
	}
	return nil
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// RunStatus is the terminal status of an agent execution.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// Run is an execution record for one agent invocation. It is immutable once
// Status is set.
type Run struct {
	ID           RunID      `json:"id"`
	TaskID       ID         `json:"taskId"`
	AgentType    string     `json:"agentType"`
	Model        string     `json:"model"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Status       RunStatus  `json:"status,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	LogPath      string     `json:"logPath,omitempty"`
}

// Finalized returns true once the run has a terminal status.
func (r *Run) Finalized() bool {
	return r.Status == RunSuccess || r.Status == RunFailure
}

// -----------------------------------------------------------------------------
// Check
// -----------------------------------------------------------------------------

// Check is a validator result linked to a task.
type Check struct {
	ID      CheckID `json:"id"`
	TaskID  ID      `json:"taskId"`
	Success bool    `json:"success"`
	Details string  `json:"details,omitempty"`
}
