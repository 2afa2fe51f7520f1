// Package agent invokes the external coding agent and manages run logs.
// The Runner interface is the seam between the orchestration core and the
// model: production code shells out to the agent CLI, tests script the
// responses.
package agent

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Request describes one agent invocation.
type Request struct {
	AgentType string
	Model     string
	Prompt    string
	WorkDir   string
	RunID     task.RunID
}

// Usage reports token consumption when the agent surfaces it.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Response is the agent's answer to a Request.
type Response struct {
	FinalResponse string
	Usage         *Usage
}

// Runner executes agent requests.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// CLIRunner shells out to the agent's command-line binary in one-shot
// print mode: the prompt goes in on stdin, the final response comes back on
// stdout.
type CLIRunner struct {
	logger  *logging.Logger
	timeout time.Duration
}

// NewCLIRunner creates a CLIRunner. A non-positive timeout disables the
// per-invocation deadline.
func NewCLIRunner(logger *logging.Logger, timeout time.Duration) *CLIRunner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIRunner{logger: logger, timeout: timeout}
}

// commandFor maps an agent type to its binary and one-shot arguments.
func commandFor(agentType, model string) (string, []string, error) {
	switch agentType {
	case "claude", "":
		args := []string{"-p", "--dangerously-skip-permissions"}
		if model != "" {
			args = append(args, "--model", model)
		}
		return "claude", args, nil
	case "codex":
		args := []string{"exec", "--full-auto"}
		if model != "" {
			args = append(args, "--model", model)
		}
		return "codex", args, nil
	default:
		return "", nil, errors.NewAgentError("unsupported agent type", nil).WithAgentType(agentType)
	}
}

// Run invokes the agent and returns its final response. Timeouts surface as
// ErrTimeout, rate limiting as a retryable rate-limit error, and any other
// failure as an agent execution error carrying the captured output.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Response, error) {
	name, args, err := commandFor(req.AgentType, req.Model)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Debug("agent invocation starting",
		"agent_type", req.AgentType,
		"model", req.Model,
		"run_id", string(req.RunID),
	)
	runErr := cmd.Run()
	elapsed := time.Since(start)

	output := stdout.String()
	if runErr != nil {
		combined := output + stderr.String()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewAgentError("agent timed out", errors.ErrTimeout).
				WithAgentType(req.AgentType)
		}
		if isRateLimited(combined) {
			return nil, errors.NewRateLimitError("agent rate limited", 60*time.Second)
		}
		return nil, errors.NewAgentError("agent execution failed", runErr).
			WithAgentType(req.AgentType).
			WithOutput(combined)
	}

	r.logger.Debug("agent invocation finished",
		"agent_type", req.AgentType,
		"run_id", string(req.RunID),
		"elapsed", elapsed.String(),
		"response_bytes", len(output),
	)
	return &Response{FinalResponse: output}, nil
}

func isRateLimited(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "429") ||
		strings.Contains(lower, "overloaded")
}
