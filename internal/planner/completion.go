package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
)

// JudgeFinalCompletion asks, once every task is terminal, whether the
// session's original instruction is actually satisfied. Agent or parse
// failure reports complete: the pipeline never wedges on an unreviewable
// verdict.
func (p *Planner) JudgeFinalCompletion(ctx context.Context, sess *session.PlannerSession, tasks []*task.Task) (*FinalCompletionJudgement, error) {
	complete := &FinalCompletionJudgement{IsComplete: true}

	var b strings.Builder
	fmt.Fprintf(&b, "The instruction below was decomposed into tasks, all of which have finished.\n\n## Instruction\n%s\n\n## Task Outcomes\n", sess.Instruction)
	for _, t := range tasks {
		summary := t.Summary
		if summary == "" {
			summary = t.Acceptance
		}
		fmt.Fprintf(&b, "- %s [%s]: %s\n", t.ID, t.State, summary)
	}
	b.WriteString(`
Is the original instruction fully satisfied? Respond with a single JSON object:
{"isComplete": bool, "missingAspects": ["string"], "additionalTaskSuggestions": ["string"], "completionScore": 0-100}
`)

	resp, err := p.runner.Run(ctx, agent.Request{
		AgentType: p.cfg.AgentType,
		Model:     p.cfg.judgeModel(),
		Prompt:    b.String(),
	})
	if err != nil {
		return complete, nil
	}
	p.recordExchange(sess, b.String(), resp.FinalResponse)

	raw, err := judge.ExtractJSONObject(resp.FinalResponse)
	if err != nil {
		return complete, nil
	}
	var verdict FinalCompletionJudgement
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return complete, nil
	}
	return &verdict, nil
}

// PlanAdditionalTasks generates follow-up tasks for the aspects the final
// completion judge found missing, preserving the session's conversation
// history so the agent sees what was already built.
func (p *Planner) PlanAdditionalTasks(ctx context.Context, sess *session.PlannerSession, missingAspects []string) ([]*task.Task, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "The instruction below is mostly done, but aspects are missing.\n\n## Instruction\n%s\n\n## Missing Aspects\n", sess.Instruction)
	for _, aspect := range missingAspects {
		fmt.Fprintf(&b, "- %s\n", aspect)
	}
	if n := len(sess.ConversationHistory); n > 0 {
		// The tail of the planning conversation gives the agent the ids and
		// shape of the work already generated.
		b.WriteString("\n## Prior Planning Conversation (most recent)\n")
		start := n - 4
		if start < 0 {
			start = 0
		}
		for _, msg := range sess.ConversationHistory[start:] {
			fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
		}
	}
	b.WriteString(`
Generate only the tasks needed to close these gaps, as a JSON array using the usual schema:
[{"id", "description", "branch", "scopePaths", "acceptance", "type", "estimatedDuration", "context", "dependencies"}]
`)

	prompt := b.String()
	jsonErrors := 0
	for {
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
		if err == nil {
			if verr := ValidateBreakdowns(items); verr == nil {
				return p.persistBreakdowns(sess, items, nil)
			} else {
				err = verr
			}
		}
		if jsonErrors++; jsonErrors > p.cfg.MaxConsecutiveJSONErrors {
			return nil, err
		}
	}
}
