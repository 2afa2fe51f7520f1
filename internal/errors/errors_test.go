package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestSentinelMatching(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "wrapped version conflict",
			err:    fmt.Errorf("update task: %w", ErrVersionConflict),
			target: ErrVersionConflict,
			want:   true,
		},
		{
			name:   "rate limit wraps agent execution",
			err:    ErrRateLimited,
			target: ErrAgentExecution,
			want:   true,
		},
		{
			name:   "unrelated sentinels",
			err:    ErrLockHeld,
			target: ErrVersionConflict,
			want:   false,
		},
		{
			name:   "task error carries cause",
			err:    NewTaskError("claim failed", ErrVersionConflict),
			target: ErrVersionConflict,
			want:   true,
		},
		{
			name:   "git error carries cause",
			err:    NewGitError("push failed", ErrBranchNotFound),
			target: ErrBranchNotFound,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.want {
				t.Errorf("Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.want)
			}
		})
	}
}

func TestTaskErrorFormatting(t *testing.T) {
	err := NewTaskError("claim failed", ErrVersionConflict).WithTaskID("task-ab12-3")

	msg := err.Error()
	want := "task error [task=task-ab12-3]: claim failed: version conflict"
	if msg != want {
		t.Errorf("Error() = %q, want %q", msg, want)
	}
}

func TestGitErrorFormatting(t *testing.T) {
	err := NewGitError("push failed", New("exit status 1")).
		WithRepository("/repo").
		WithBranch("task-abc12345").
		WithGitOutput("remote rejected\n")

	msg := err.Error()
	if msg != "git error [repo=/repo, branch=task-abc12345]: push failed: exit status 1\nremote rejected" {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("task", "task-1")

	if !Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
	if err.Error() != `task "task-1" not found` {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("task breakdown")
	if err.HasIssues() {
		t.Error("new validation error should have no issues")
	}

	err.Add("missing field %q", "acceptance").Add("bad type")
	if !err.HasIssues() {
		t.Error("expected issues after Add")
	}
	if !Is(err, ErrValidation) {
		t.Error("ValidationError should match ErrValidation")
	}
	want := `validation failed for task breakdown: missing field "acceptance"; bad type`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"version conflict", ErrVersionConflict, true},
		{"lock held", fmt.Errorf("store: %w", ErrLockHeld), true},
		{"rate limited agent error", NewRateLimitError("429", time.Minute), true},
		{"plain agent error", NewAgentError("crashed", ErrAgentExecution), false},
		{"validation", NewValidationError("session"), false},
		{"task error wrapping conflict", NewTaskError("claim", ErrVersionConflict), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	err := NewRateLimitError("429 from runner", 30*time.Second)

	var agentErr *AgentError
	if !As(err, &agentErr) {
		t.Fatal("expected AgentError")
	}
	if agentErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", agentErr.RetryAfter)
	}
	if !Is(err, ErrRateLimited) {
		t.Error("expected ErrRateLimited match")
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"rate limited", NewRateLimitError("429", 30*time.Second), 30 * time.Second},
		{"other agent error", NewAgentError("crashed", ErrAgentExecution), 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryAfterHint(tt.err); got != tt.want {
				t.Errorf("RetryAfterHint(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.sev.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.sev, got, tt.want)
		}
	}
}
