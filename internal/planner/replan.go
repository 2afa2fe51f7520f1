package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/judge"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"

	"github.com/Iron-Ham/maestro/internal/agent"
)

// ReplanFailedTask decomposes a failed task into successor tasks and marks
// the original REPLACED_BY_REPLAN.
//
// Lineage is preserved: successors inherit the original task id of the
// lineage root, and the replanning counter travels with them so one task
// cannot be replanned forever through intermediaries. A lineage already at
// its budget fails with ValidationError before anything is created; the
// caller should block the task instead.
func (p *Planner) ReplanFailedTask(ctx context.Context, sess *session.PlannerSession, failed *task.Task, runLog string, verdict *judge.Judgement) ([]*task.Task, error) {
	iteration := 0
	originalID := failed.ID
	maxIterations := p.cfg.MaxReplanIterations
	if ri := failed.ReplanningInfo; ri != nil {
		iteration = ri.Iteration
		originalID = ri.OriginalTaskID
		maxIterations = ri.MaxIterations
	}
	if iteration+1 > maxIterations {
		return nil, errors.NewValidationError("task " + string(failed.ID)).
			Add("replanning budget exhausted (%d/%d)", iteration, maxIterations)
	}

	prompt := p.replanPrompt(failed, runLog, verdict)
	jsonErrors := 0
	var items []TaskBreakdown
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

		items, err = ParseBreakdowns(resp.FinalResponse)
		if err == nil {
			if err := ValidateBreakdowns(items); err == nil {
				break
			} else if jsonErrors++; jsonErrors > p.cfg.MaxConsecutiveJSONErrors {
				return nil, err
			}
			continue
		}
		if jsonErrors++; jsonErrors > p.cfg.MaxConsecutiveJSONErrors {
			return nil, err
		}
	}

	lineage := &task.ReplanningInfo{
		Iteration:      iteration + 1,
		MaxIterations:  maxIterations,
		OriginalTaskID: originalID,
	}
	created, err := p.persistBreakdowns(sess, items, lineage)
	if err != nil {
		return nil, err
	}

	successorIDs := make([]task.ID, len(created))
	for i, t := range created {
		successorIDs[i] = t.ID
	}
	if _, err := task.MarkReplanned(p.store, failed.ID, successorIDs, verdict.Reason, maxIterations); err != nil {
		return nil, err
	}

	p.logger.Info("task replanned",
		"task_id", string(failed.ID),
		"successors", len(successorIDs),
		"lineage_iteration", lineage.Iteration,
	)
	return created, nil
}

func (p *Planner) replanPrompt(failed *task.Task, runLog string, verdict *judge.Judgement) string {
	var b strings.Builder
	b.WriteString("A coding task failed and needs to be broken down differently.\n\n")
	fmt.Fprintf(&b, "## Failed Task %s\nAcceptance: %s\n", failed.ID, failed.Acceptance)
	if failed.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", failed.Context)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Why It Failed\n%s\n", verdict.Reason)
	if len(verdict.MissingRequirements) > 0 {
		b.WriteString("Missing:\n")
		for _, m := range verdict.MissingRequirements {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	b.WriteString("\n")

	if runLog != "" {
		fmt.Fprintf(&b, "## Run Log (truncated)\n%s\n\n",
			judge.TruncateLog(runLog, p.cfg.LogBudgetBytes, p.cfg.LogHeadBytes))
	}

	b.WriteString(`Produce replacement tasks that together achieve the original acceptance criteria. Use the same JSON array schema as before:
[{"id", "description", "branch", "scopePaths", "acceptance", "type", "estimatedDuration", "context", "dependencies"}]
`)
	return b.String()
}
