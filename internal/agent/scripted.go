package agent

import (
	"context"
	"sync"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// ScriptedRunner replays canned responses in order. It records every request
// it receives, so tests can assert on prompts and invocation counts.
type ScriptedRunner struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	next      int
	requests  []Request
}

// ScriptedResponse is one canned step of a ScriptedRunner.
type ScriptedResponse struct {
	Response string
	Err      error
}

// NewScriptedRunner creates a runner that returns the given responses in
// order.
func NewScriptedRunner(responses ...ScriptedResponse) *ScriptedRunner {
	return &ScriptedRunner{responses: responses}
}

// Respond is a convenience for scripting successful text responses.
func Respond(texts ...string) []ScriptedResponse {
	out := make([]ScriptedResponse, len(texts))
	for i, t := range texts {
		out[i] = ScriptedResponse{Response: t}
	}
	return out
}

// Run replays the next scripted response. Running past the script fails.
func (s *ScriptedRunner) Run(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewAgentError("context cancelled", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.responses) {
		return nil, errors.NewAgentError("scripted runner exhausted", errors.ErrAgentExecution)
	}
	step := s.responses[s.next]
	s.next++
	if step.Err != nil {
		return nil, step.Err
	}
	return &Response{FinalResponse: step.Response}, nil
}

// Requests returns a copy of every request seen so far.
func (s *ScriptedRunner) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Run was invoked.
func (s *ScriptedRunner) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
