package leader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
)

// EscalationLimits bounds how many times each target may be escalated to
// within one leader session.
type EscalationLimits struct {
	User            int
	Planner         int
	LogicValidator  int
	ExternalAdvisor int
}

// DefaultEscalationLimits returns the per-target defaults.
func DefaultEscalationLimits() EscalationLimits {
	return EscalationLimits{User: 10, Planner: 3, LogicValidator: 5, ExternalAdvisor: 5}
}

// Limit returns the bound for a target.
func (l EscalationLimits) Limit(target session.EscalationTarget) int {
	switch target {
	case session.EscalateUser:
		return l.User
	case session.EscalatePlanner:
		return l.Planner
	case session.EscalateLogicValidator:
		return l.LogicValidator
	case session.EscalateExternalAdvisor:
		return l.ExternalAdvisor
	default:
		return 0
	}
}

// escalationRequest is one escalation demand from the dispatch table.
type escalationRequest struct {
	target  session.EscalationTarget
	reason  string
	taskID  task.ID
	runID   task.RunID
	verdict *judge.Judgement
}

// escalate routes a request to its target handler.
//
// The planner target replans the failed task in place and lets the loop
// resume; it falls back to a user escalation when replanning fails or its
// limit is reached. Validator and advisor targets have no handler and fall
// back to the user with a marked reason. A non-nil record in the return
// means the loop must halt and wait for resolution.
func (l *Leader) escalate(ctx context.Context, ex *execution, req escalationRequest) (*session.EscalationRecord, error) {
	switch req.target {
	case session.EscalateLogicValidator, session.EscalateExternalAdvisor:
		ex.sess.EscalationAttempts.Increment(req.target)
		req.target = session.EscalateUser
		req.reason = "[Technical difficulty] " + req.reason
		return l.escalateToUser(ex, req)
	case session.EscalatePlanner:
		return l.escalateToPlanner(ctx, ex, req)
	default:
		return l.escalateToUser(ex, req)
	}
}

// escalateToUser appends an unresolved record and parks the session in
// ESCALATING. Hitting the user limit fails the session: there is nobody
// left to ask.
func (l *Leader) escalateToUser(ex *execution, req escalationRequest) (*session.EscalationRecord, error) {
	sess := ex.sess
	if sess.EscalationAttempts.Count(session.EscalateUser) >= l.cfg.Limits.User {
		sess.Status = session.LeaderFailed
		if err := l.sessions.SaveLeader(sess); err != nil {
			l.logger.Error("failed to persist leader session", "session_id", sess.SessionID, "error", err.Error())
		}
		return nil, errors.NewSessionError("user escalation limit reached", errors.ErrEscalationLimit).
			WithSessionID(sess.SessionID)
	}

	sess.EscalationAttempts.Increment(session.EscalateUser)
	sess.EscalationRecords = append(sess.EscalationRecords, session.EscalationRecord{
		ID:            "esc-" + uuid.NewString()[:8],
		Target:        session.EscalateUser,
		Reason:        req.reason,
		RelatedTaskID: req.taskID,
		EscalatedAt:   time.Now().UTC(),
	})
	sess.Status = session.LeaderEscalating
	if err := l.sessions.SaveLeader(sess); err != nil {
		return nil, err
	}

	rec := &sess.EscalationRecords[len(sess.EscalationRecords)-1]
	l.logger.Warn("escalated to user",
		"session_id", sess.SessionID,
		"escalation_id", rec.ID,
		"task_id", string(req.taskID),
		"reason", req.reason,
	)
	return rec, nil
}

// escalateToPlanner replans the failed task. On success the record is
// resolved immediately and the loop keeps executing; the new tasks are in
// the store for the next pass.
func (l *Leader) escalateToPlanner(ctx context.Context, ex *execution, req escalationRequest) (*session.EscalationRecord, error) {
	sess := ex.sess
	if sess.EscalationAttempts.Count(session.EscalatePlanner) >= l.cfg.Limits.Planner {
		req.target = session.EscalateUser
		req.reason = "replanning limit reached: " + req.reason
		return l.escalateToUser(ex, req)
	}

	sess.EscalationAttempts.Increment(session.EscalatePlanner)
	sess.EscalationRecords = append(sess.EscalationRecords, session.EscalationRecord{
		ID:            "esc-" + uuid.NewString()[:8],
		Target:        session.EscalatePlanner,
		Reason:        req.reason,
		RelatedTaskID: req.taskID,
		EscalatedAt:   time.Now().UTC(),
	})
	rec := &sess.EscalationRecords[len(sess.EscalationRecords)-1]

	failed, err := l.store.ReadTask(req.taskID)
	if err != nil {
		return l.plannerFallback(ex, rec, req, err)
	}
	runLog := ""
	if req.runID != "" {
		if logText, err := l.runs.ReadLog(req.runID); err == nil {
			runLog = logText
		}
	}
	verdict := req.verdict
	if verdict == nil {
		verdict = &judge.Judgement{Reason: req.reason, ShouldReplan: true}
	}

	created, err := l.planner.ReplanFailedTask(ctx, ex.plannerSess, failed, runLog, verdict)
	if err != nil {
		return l.plannerFallback(ex, rec, req, err)
	}

	now := time.Now().UTC()
	rec.Resolved = true
	rec.ResolvedAt = &now
	rec.Resolution = fmt.Sprintf("replanned into %d tasks", len(created))
	if err := l.sessions.SaveLeader(sess); err != nil {
		return nil, err
	}
	return nil, nil
}

// plannerFallback resolves the planner record as handed off and raises the
// user escalation that replaces it.
func (l *Leader) plannerFallback(ex *execution, rec *session.EscalationRecord, req escalationRequest, cause error) (*session.EscalationRecord, error) {
	now := time.Now().UTC()
	rec.Resolved = true
	rec.ResolvedAt = &now
	rec.Resolution = "replanning failed; escalated to user"

	req.target = session.EscalateUser
	req.reason = "replanning failed: " + cause.Error()
	return l.escalateToUser(ex, req)
}

// ResolveEscalation writes the resolution onto the record and flips the
// session back to EXECUTING in a single save, so a watcher never observes a
// resolved record on a still-escalating session.
func (l *Leader) ResolveEscalation(sessionID, escalationID, resolution string) (*session.LeaderSession, error) {
	sess, err := l.sessions.LoadLeader(sessionID)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range sess.EscalationRecords {
		rec := &sess.EscalationRecords[i]
		if rec.ID != escalationID || rec.Resolved {
			continue
		}
		now := time.Now().UTC()
		rec.Resolved = true
		rec.ResolvedAt = &now
		rec.Resolution = resolution
		found = true
		break
	}
	if !found {
		return nil, errors.NewNotFoundError("escalation", escalationID)
	}

	sess.Status = session.LeaderExecuting
	if err := l.sessions.SaveLeader(sess); err != nil {
		return nil, err
	}
	l.logger.Info("escalation resolved", "session_id", sessionID, "escalation_id", escalationID)
	return sess, nil
}

// ResumeFromEscalation re-enters the leader loop after a resolution. The
// session must have been flipped back to EXECUTING by ResolveEscalation.
func (l *Leader) ResumeFromEscalation(ctx context.Context, sessionID string, plannerSess *session.PlannerSession) (*Result, error) {
	sess, err := l.sessions.LoadLeader(sessionID)
	if err != nil {
		return nil, err
	}
	if pending := sess.UnresolvedEscalations(); len(pending) > 0 {
		return nil, errors.NewValidationError("leader session " + sessionID).
			Add("%d escalations still unresolved", len(pending))
	}
	if sess.Status != session.LeaderExecuting {
		return nil, errors.NewValidationError("leader session " + sessionID).
			Add("cannot resume from status %s", sess.Status)
	}
	return l.Run(ctx, sess, plannerSess)
}
