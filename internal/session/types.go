// Package session persists Maestro's session records: planning sessions
// (the interactive discovery/design/review phase machine), planner sessions
// (task generation), leader sessions (execution), and exploration sessions.
//
// Sessions are created once, mutated through phase transitions, and never
// deleted; the on-disk files are append-only in the sense that a session
// file is only ever replaced by a newer revision of the same session.
package session

import (
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/task"
)

// maxHistoryMessages bounds conversation history growth; older messages are
// pruned first.
const maxHistoryMessages = 100

// Message is one entry of a session's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PruneHistory returns the last maxHistoryMessages entries of history.
func PruneHistory(history []Message) []Message {
	if len(history) <= maxHistoryMessages {
		return history
	}
	return history[len(history)-maxHistoryMessages:]
}

// -----------------------------------------------------------------------------
// Planning Session
// -----------------------------------------------------------------------------

// PlanningStatus is the phase of a planning session.
type PlanningStatus string

const (
	PlanningDiscovery PlanningStatus = "DISCOVERY"
	PlanningDesign    PlanningStatus = "DESIGN"
	PlanningReview    PlanningStatus = "REVIEW"
	PlanningApproved  PlanningStatus = "APPROVED"
	PlanningCancelled PlanningStatus = "CANCELLED"
	PlanningFailed    PlanningStatus = "FAILED"
)

// IsTerminal returns true if the planning session can make no further
// transitions.
func (s PlanningStatus) IsTerminal() bool {
	return s == PlanningApproved || s == PlanningCancelled || s == PlanningFailed
}

// IsValid returns true if this is a recognized status value.
func (s PlanningStatus) IsValid() bool {
	switch s {
	case PlanningDiscovery, PlanningDesign, PlanningReview,
		PlanningApproved, PlanningCancelled, PlanningFailed:
		return true
	default:
		return false
	}
}

// MaxPlanRejections is how many review rejections cancel a planning session.
const MaxPlanRejections = 3

// Question is a discovery-phase question put to the user.
type Question struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Important bool   `json:"important"`
	Answer    string `json:"answer,omitempty"`
	Answered  bool   `json:"answered"`
}

// DecisionPoint is a design-phase decision put to the user.
type DecisionPoint struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic"`
	Options  []string `json:"options,omitempty"`
	Decision string   `json:"decision,omitempty"`
	Decided  bool     `json:"decided"`
}

// PlanningSession drives the interactive Discovery -> Design -> Review ->
// Approved phase machine that precedes task generation.
type PlanningSession struct {
	SessionID            string          `json:"sessionId"`
	Instruction          string          `json:"instruction"`
	Status               PlanningStatus  `json:"status"`
	Questions            []Question      `json:"questions,omitempty"`
	DecisionPoints       []DecisionPoint `json:"decisionPoints,omitempty"`
	RejectCount          int             `json:"rejectCount"`
	CurrentQuestionIndex int             `json:"currentQuestionIndex"`
	CurrentDecisionIndex int             `json:"currentDecisionIndex"`
	PlannerSessionID     string          `json:"plannerSessionId,omitempty"`
	ConversationHistory  []Message       `json:"conversationHistory,omitempty"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Validate checks structural invariants of a planning session record.
func (s *PlanningSession) Validate() error {
	v := errors.NewValidationError("planning session " + s.SessionID)
	if s.SessionID == "" {
		v.Add("sessionId is empty")
	}
	if !s.Status.IsValid() {
		v.Add("unknown status %q", s.Status)
	}
	if s.RejectCount < 0 || s.RejectCount > MaxPlanRejections {
		v.Add("rejectCount %d outside [0,%d]", s.RejectCount, MaxPlanRejections)
	}
	if v.HasIssues() {
		return v
	}
	return nil
}

// -----------------------------------------------------------------------------
// Planner Session
// -----------------------------------------------------------------------------

// PlannerSession records a task-generation conversation and the tasks it
// produced.
type PlannerSession struct {
	SessionID           string    `json:"sessionId"`
	Instruction         string    `json:"instruction"`
	GeneratedTasks      []task.ID `json:"generatedTasks,omitempty"`
	ConversationHistory []Message `json:"conversationHistory,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Validate checks structural invariants of a planner session record.
func (s *PlannerSession) Validate() error {
	v := errors.NewValidationError("planner session " + s.SessionID)
	if s.SessionID == "" {
		v.Add("sessionId is empty")
	}
	if s.Instruction == "" {
		v.Add("instruction is empty")
	}
	if v.HasIssues() {
		return v
	}
	return nil
}

// ShortID returns the first 8 characters of the session ID, used as the
// deterministic prefix of generated task IDs.
func (s *PlannerSession) ShortID() string {
	if len(s.SessionID) <= 8 {
		return s.SessionID
	}
	return s.SessionID[:8]
}

// -----------------------------------------------------------------------------
// Leader Session
// -----------------------------------------------------------------------------

// LeaderStatus is the phase of a leader session.
type LeaderStatus string

const (
	LeaderPlanning   LeaderStatus = "PLANNING"
	LeaderExecuting  LeaderStatus = "EXECUTING"
	LeaderReviewing  LeaderStatus = "REVIEWING"
	LeaderEscalating LeaderStatus = "ESCALATING"
	LeaderCompleted  LeaderStatus = "COMPLETED"
	LeaderFailed     LeaderStatus = "FAILED"
)

// IsValid returns true if this is a recognized status value.
func (s LeaderStatus) IsValid() bool {
	switch s {
	case LeaderPlanning, LeaderExecuting, LeaderReviewing,
		LeaderEscalating, LeaderCompleted, LeaderFailed:
		return true
	default:
		return false
	}
}

// EscalationTarget identifies who an escalation hands authority to.
type EscalationTarget string

const (
	EscalateUser            EscalationTarget = "USER"
	EscalatePlanner         EscalationTarget = "PLANNER"
	EscalateLogicValidator  EscalationTarget = "LOGIC_VALIDATOR"
	EscalateExternalAdvisor EscalationTarget = "EXTERNAL_ADVISOR"
)

// IsValid returns true if this is a recognized escalation target.
func (t EscalationTarget) IsValid() bool {
	switch t {
	case EscalateUser, EscalatePlanner, EscalateLogicValidator, EscalateExternalAdvisor:
		return true
	default:
		return false
	}
}

// EscalationRecord captures one escalation and, once handled, its resolution.
type EscalationRecord struct {
	ID            string           `json:"id"`
	Target        EscalationTarget `json:"target"`
	Reason        string           `json:"reason"`
	RelatedTaskID task.ID          `json:"relatedTaskId,omitempty"`
	EscalatedAt   time.Time        `json:"escalatedAt"`
	Resolved      bool             `json:"resolved"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
	Resolution    string           `json:"resolution,omitempty"`
}

// EscalationAttempts counts escalations issued per target for limit
// enforcement.
type EscalationAttempts struct {
	User            int `json:"user"`
	Planner         int `json:"planner"`
	LogicValidator  int `json:"logicValidator"`
	ExternalAdvisor int `json:"externalAdvisor"`
}

// Count returns the attempt count for a target.
func (a EscalationAttempts) Count(target EscalationTarget) int {
	switch target {
	case EscalateUser:
		return a.User
	case EscalatePlanner:
		return a.Planner
	case EscalateLogicValidator:
		return a.LogicValidator
	case EscalateExternalAdvisor:
		return a.ExternalAdvisor
	default:
		return 0
	}
}

// Increment bumps the attempt count for a target.
func (a *EscalationAttempts) Increment(target EscalationTarget) {
	switch target {
	case EscalateUser:
		a.User++
	case EscalatePlanner:
		a.Planner++
	case EscalateLogicValidator:
		a.LogicValidator++
	case EscalateExternalAdvisor:
		a.ExternalAdvisor++
	}
}

// TaskHistoryEntry records one task outcome observed by the leader loop.
type TaskHistoryEntry struct {
	TaskID     task.ID    `json:"taskId"`
	RunID      task.RunID `json:"runId,omitempty"`
	Outcome    string     `json:"outcome"`
	RecordedAt time.Time  `json:"recordedAt"`
}

// LeaderSession is the persistent state of one leader execution loop.
type LeaderSession struct {
	SessionID          string             `json:"sessionId"`
	PlanFilePath       string             `json:"planFilePath,omitempty"`
	Status             LeaderStatus       `json:"status"`
	MemberTaskHistory  []TaskHistoryEntry `json:"memberTaskHistory,omitempty"`
	EscalationRecords  []EscalationRecord `json:"escalationRecords,omitempty"`
	ActiveTaskIDs      []task.ID          `json:"activeTaskIds,omitempty"`
	CompletedTaskCount int                `json:"completedTaskCount"`
	TotalTaskCount     int                `json:"totalTaskCount"`
	EscalationAttempts EscalationAttempts `json:"escalationAttempts"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Validate checks structural invariants of a leader session record.
func (s *LeaderSession) Validate() error {
	v := errors.NewValidationError("leader session " + s.SessionID)
	if s.SessionID == "" {
		v.Add("sessionId is empty")
	}
	if !s.Status.IsValid() {
		v.Add("unknown status %q", s.Status)
	}
	for i, rec := range s.EscalationRecords {
		if !rec.Target.IsValid() {
			v.Add("escalation record %d has unknown target %q", i, rec.Target)
		}
	}
	if v.HasIssues() {
		return v
	}
	return nil
}

// UnresolvedEscalations returns the escalation records awaiting resolution.
func (s *LeaderSession) UnresolvedEscalations() []EscalationRecord {
	var pending []EscalationRecord
	for _, rec := range s.EscalationRecords {
		if !rec.Resolved {
			pending = append(pending, rec)
		}
	}
	return pending
}

// -----------------------------------------------------------------------------
// Exploration Session
// -----------------------------------------------------------------------------

// ExplorationSession records a free-form codebase exploration conversation.
type ExplorationSession struct {
	SessionID           string    `json:"sessionId"`
	Topic               string    `json:"topic"`
	Findings            []string  `json:"findings,omitempty"`
	ConversationHistory []Message `json:"conversationHistory,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Validate checks structural invariants of an exploration session record.
func (s *ExplorationSession) Validate() error {
	v := errors.NewValidationError("exploration session " + s.SessionID)
	if s.SessionID == "" {
		v.Add("sessionId is empty")
	}
	if v.HasIssues() {
		return v
	}
	return nil
}
