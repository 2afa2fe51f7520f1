package worker

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/maestro/internal/task"
)

// BuildPrompt assembles the agent prompt for one task attempt: acceptance
// criteria, context, scope, accumulated judge feedback, and the previous
// chain task's output when one exists.
func BuildPrompt(t *task.Task, previousOutput string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are implementing task %s.\n\n", t.ID)
	fmt.Fprintf(&b, "## Acceptance Criteria\n%s\n\n", t.Acceptance)

	if t.Context != "" {
		fmt.Fprintf(&b, "## Context\n%s\n\n", t.Context)
	}

	if len(t.ScopePaths) > 0 {
		b.WriteString("## Scope\nRestrict your changes to these paths:\n")
		for _, p := range t.ScopePaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	if fb := t.JudgementFeedback; fb != nil && fb.LastJudgement != nil {
		fmt.Fprintf(&b, "## Feedback From Previous Attempt (attempt %d of %d)\n%s\n",
			fb.Iteration, fb.MaxIterations, fb.LastJudgement.Reason)
		if len(fb.LastJudgement.MissingRequirements) > 0 {
			b.WriteString("Still missing:\n")
			for _, m := range fb.LastJudgement.MissingRequirements {
				fmt.Fprintf(&b, "- %s\n", m)
			}
		}
		b.WriteString("\n")
	}

	if previousOutput != "" {
		fmt.Fprintf(&b, "## Output Of The Preceding Task\n%s\n\n", previousOutput)
	}

	b.WriteString("Work in the current directory. Commit nothing yourself; the orchestrator commits for you. When done, summarize what you changed.\n")
	return b.String()
}
