// Package errors provides centralized error definitions and error handling
// utilities for the Maestro codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - TaskError: errors related to the task store and task lifecycle
//   - SessionError: errors related to session management
//   - GitError: errors related to git operations (worktrees, branches, commits)
//   - AgentError: errors related to external agent execution
//
// Semantic sentinel errors represent common error conditions:
//   - ErrNotFound: resource not found
//   - ErrAlreadyExists: resource already exists
//   - ErrVersionConflict: optimistic concurrency (CAS) check failed
//   - ErrLockHeld: per-task lock is held by another operation
//   - ErrValidation: schema or invariant violated
//   - ErrParse: agent output not usable
//   - ErrTimeout: operation timed out
//   - ErrMaxRetries: a bounded retry budget was exhausted
//   - ErrEscalationLimit: an escalation target's limit was reached
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewTaskError("failed to claim task", errors.ErrVersionConflict)
//
//	// With context wrapping
//	err := errors.NewGitError("checkout failed", baseErr).WithBranch("feature-x")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrVersionConflict) { ... }
//
//	var taskErr *errors.TaskError
//	if errors.As(err, &taskErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Store and lifecycle sentinel errors
var (
	// ErrNotFound indicates that a requested record could not be found.
	ErrNotFound = New("not found")
	// ErrAlreadyExists indicates that a record with the same ID already exists.
	ErrAlreadyExists = New("already exists")
	// ErrVersionConflict indicates an optimistic concurrency check failed:
	// the record was mutated between read and write.
	ErrVersionConflict = New("version conflict")
	// ErrLockHeld indicates that the per-task lock is held by another
	// operation. Callers should treat this as a fail-fast signal, not block.
	ErrLockHeld = New("lock held")
	// ErrValidation indicates that a schema or invariant was violated.
	ErrValidation = New("validation failed")
	// ErrIO indicates a filesystem or network failure.
	ErrIO = New("io failure")
)

// Agent and control-loop sentinel errors
var (
	// ErrAgentExecution indicates that an external agent run failed.
	ErrAgentExecution = New("agent execution failed")
	// ErrRateLimited indicates the agent runner was rate limited. It wraps
	// ErrAgentExecution so callers matching the broad kind still succeed.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrAgentExecution)
	// ErrParse indicates that agent output could not be parsed into the
	// expected schema.
	ErrParse = New("parse failed")
	// ErrTimeout indicates that an operation exceeded its deadline.
	ErrTimeout = New("timeout exceeded")
	// ErrMaxRetries indicates that a bounded retry budget was exhausted.
	ErrMaxRetries = New("max retries exceeded")
	// ErrEscalationLimit indicates that an escalation target's per-target
	// limit was reached.
	ErrEscalationLimit = New("escalation limit reached")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrProtectedBranch indicates an attempt to delete a protected branch.
	ErrProtectedBranch = New("branch is protected")

	// ErrMergeConflict indicates a merge stopped on conflicting changes.
	ErrMergeConflict = New("merge conflict")
	// ErrDependencyCycle indicates a circular dependency between tasks.
	ErrDependencyCycle = New("dependency cycle detected")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TaskError represents errors from the task store and task lifecycle.
//
// Example:
//
//	err := errors.NewTaskError("failed to claim task", errors.ErrVersionConflict).
//		WithTaskID("task-ab12-3")
type TaskError struct {
	baseError
	TaskID string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  errors.Is(cause, ErrVersionConflict) || errors.Is(cause, ErrLockHeld),
			userFacing: true,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithSeverity sets the error severity.
func (e *TaskError) WithSeverity(s Severity) *TaskError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	prefix := "task error"
	if e.TaskID != "" {
		prefix = fmt.Sprintf("task error [task=%s]", e.TaskID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents errors related to session management.
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to push", cause).
//		WithRepository("/repo").
//		WithBranch("task-abc12345").
//		WithGitOutput(string(output))
type GitError struct {
	baseError
	Repository string
	Branch     string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(repo string) *GitError {
	e.Repository = repo
	return e
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithGitOutput attaches the raw git command output.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := prefix + ": " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = msg + "\n" + e.GitOutput
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentError represents errors from external agent execution.
//
// RetryAfter carries the server-advised backoff when the cause is
// ErrRateLimited; it is zero otherwise.
type AgentError struct {
	baseError
	RunID      string
	AgentType  string
	Output     string
	RetryAfter time.Duration
}

// NewAgentError creates a new AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  errors.Is(cause, ErrRateLimited),
			userFacing: false,
		},
	}
}

// NewRateLimitError creates an AgentError for a rate-limited run with the
// server-advised retry delay.
func NewRateLimitError(message string, retryAfter time.Duration) *AgentError {
	e := NewAgentError(message, ErrRateLimited)
	e.RetryAfter = retryAfter
	e.retryable = true
	return e
}

// WithRunID adds a run ID to the error context.
func (e *AgentError) WithRunID(id string) *AgentError {
	e.RunID = id
	return e
}

// WithAgentType adds the agent type to the error context.
func (e *AgentError) WithAgentType(t string) *AgentError {
	e.AgentType = t
	return e
}

// WithOutput attaches the captured agent output for diagnostics.
func (e *AgentError) WithOutput(output string) *AgentError {
	e.Output = output
	return e
}

// Error returns the formatted error message.
func (e *AgentError) Error() string {
	var parts []string
	if e.AgentType != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.AgentType))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}

	prefix := "agent error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("agent error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError indicates that a named resource could not be found.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError for the given resource kind and ID.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is reports whether the target is ErrNotFound or another NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*NotFoundError)
	return ok
}

// ValidationError indicates that input or persisted state failed validation.
// Issues holds one entry per violated field or rule.
type ValidationError struct {
	Subject string
	Issues  []string
}

// NewValidationError creates a ValidationError for the given subject.
func NewValidationError(subject string, issues ...string) *ValidationError {
	return &ValidationError{Subject: subject, Issues: issues}
}

// Add appends an issue and returns the error for chaining.
func (e *ValidationError) Add(format string, args ...any) *ValidationError {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
	return e
}

// HasIssues reports whether any issues were recorded.
func (e *ValidationError) HasIssues() bool {
	return len(e.Issues) > 0
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("validation failed for %s", e.Subject)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Subject, strings.Join(e.Issues, "; "))
}

// Is reports whether the target is ErrValidation or another ValidationError.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classifier is implemented by errors that carry classification metadata.
type classifier interface {
	IsRetryable() bool
	Severity() Severity
	IsUserFacing() bool
}

// IsRetryable reports whether the error is transient and the operation may
// succeed on retry. CAS conflicts, held locks, and rate limits are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c classifier
	if errors.As(err, &c) {
		return c.IsRetryable()
	}
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrRateLimited)
}

// RetryAfterHint extracts the server-advised backoff from a rate-limited
// agent error. Zero when the error is not rate limited or carries no delay.
func RetryAfterHint(err error) time.Duration {
	var agentErr *AgentError
	if errors.As(err, &agentErr) && errors.Is(err, ErrRateLimited) {
		return agentErr.RetryAfter
	}
	return 0
}

// IsConflict reports whether the error is a CAS version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUserFacing reports whether the error message is safe to display to users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var c classifier
	if errors.As(err, &c) {
		return c.IsUserFacing()
	}
	return false
}

// SeverityOf returns the severity of the error, defaulting to SeverityError
// for errors without classification metadata.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityInfo
	}
	var c classifier
	if errors.As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}
