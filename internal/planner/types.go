// Package planner turns instructions into tasks: quality-guarded
// decomposition, replanning of failed tasks, final-completion judgement, and
// follow-up task generation.
package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/task"
)

// Duration bounds for a single task, in hours. Anything outside is either
// trivial enough to fold into a neighbor or too big to judge.
const (
	minEstimatedDuration = 0.5
	maxEstimatedDuration = 8.0
)

var rawIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// TaskBreakdown is one decomposed task as the agent emits it. Field names
// are contractual with the prompt schema.
type TaskBreakdown struct {
	ID                string         `json:"id"`
	Description       string         `json:"description"`
	Branch            string         `json:"branch"`
	ScopePaths        []string       `json:"scopePaths"`
	Acceptance        string         `json:"acceptance"`
	Type              string         `json:"type"`
	EstimatedDuration float64        `json:"estimatedDuration"`
	Context           string         `json:"context"`
	Dependencies      DependencyRefs `json:"dependencies"`
}

// DependencyRefs is the dependencies array as agents actually emit it:
// raw task ids, or numeric indexes into the breakdown list. Numbers are
// normalized to their decimal form here; resolveIndexDependencies rewrites
// them to ids once the whole list is known.
type DependencyRefs []string

func (d *DependencyRefs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	refs := make([]string, 0, len(raw))
	for _, el := range raw {
		var s string
		if err := json.Unmarshal(el, &s); err == nil {
			refs = append(refs, s)
			continue
		}
		var n int
		if err := json.Unmarshal(el, &n); err != nil {
			return fmt.Errorf("dependency %s is neither a task id nor an index", string(el))
		}
		refs = append(refs, strconv.Itoa(n))
	}
	*d = refs
	return nil
}

// resolveIndexDependencies rewrites numeric-index dependency references to
// the id of the breakdown at that position. A reference that names a
// declared id wins over an index reading; out-of-range indexes are left
// for validation to flag.
func resolveIndexDependencies(items []TaskBreakdown) {
	ids := make(map[string]bool, len(items))
	for _, item := range items {
		ids[item.ID] = true
	}
	for i := range items {
		for j, dep := range items[i].Dependencies {
			if ids[dep] {
				continue
			}
			n, err := strconv.Atoi(dep)
			if err != nil || n < 0 || n >= len(items) {
				continue
			}
			items[i].Dependencies[j] = items[n].ID
		}
	}
}

// Validate collects every problem with a single breakdown item.
func (b *TaskBreakdown) Validate(v *errors.ValidationError) {
	if b.ID == "" {
		v.Add("task has no id")
	} else if !rawIDPattern.MatchString(b.ID) {
		v.Add("task id %q contains invalid characters", b.ID)
	}
	if b.Description == "" {
		v.Add("task %s has no description", b.ID)
	}
	if b.Acceptance == "" {
		v.Add("task %s has no acceptance criteria", b.ID)
	}
	if !task.Type(b.Type).IsValid() {
		v.Add("task %s has unknown type %q", b.ID, b.Type)
	}
	if b.EstimatedDuration < minEstimatedDuration || b.EstimatedDuration > maxEstimatedDuration {
		v.Add("task %s estimatedDuration %.2f outside [%.1f,%.1f]",
			b.ID, b.EstimatedDuration, minEstimatedDuration, maxEstimatedDuration)
	}
}

// ValidateBreakdowns validates a whole decomposition: per-item fields,
// duplicate ids, dangling dependency references, and dependency cycles.
func ValidateBreakdowns(items []TaskBreakdown) error {
	v := errors.NewValidationError("task breakdown")
	if len(items) == 0 {
		v.Add("no tasks generated")
		return v
	}

	ids := make(map[string]bool, len(items))
	for i := range items {
		items[i].Validate(v)
		if items[i].ID != "" {
			if ids[items[i].ID] {
				v.Add("duplicate task id %q", items[i].ID)
			}
			ids[items[i].ID] = true
		}
	}

	for _, item := range items {
		for _, dep := range item.Dependencies {
			if !ids[dep] {
				v.Add("task %s depends on unknown task %q", item.ID, dep)
			}
		}
	}
	if v.HasIssues() {
		return v
	}

	if cycle := breakdownCycle(items); cycle != "" {
		v.Add("dependency cycle: %s", cycle)
		return v
	}
	return nil
}

// breakdownCycle returns a formatted cycle path if one exists, else "".
func breakdownCycle(items []TaskBreakdown) string {
	deps := make(map[string][]string, len(items))
	for _, item := range items {
		deps[item.ID] = item.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var stack []string
	var found string

	var visit func(id string)
	visit = func(id string) {
		if found != "" {
			return
		}
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := ""
				for _, s := range stack[start:] {
					path += s + " -> "
				}
				found = path + dep
				return
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, item := range items {
		if color[item.ID] == white {
			visit(item.ID)
		}
	}
	return found
}

// TaskQualityJudgement is the quality judge's verdict on a decomposition.
type TaskQualityJudgement struct {
	IsAcceptable bool     `json:"isAcceptable"`
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`
	OverallScore *int     `json:"overallScore,omitempty"`
}

// Accepted reports whether the decomposition passes: explicitly acceptable,
// or scored at or above the threshold.
func (q *TaskQualityJudgement) Accepted(threshold int) bool {
	if q.IsAcceptable {
		return true
	}
	return q.OverallScore != nil && *q.OverallScore >= threshold
}

// Critique renders the judge's objections as retry feedback.
func (q *TaskQualityJudgement) Critique() string {
	out := ""
	for _, issue := range q.Issues {
		out += fmt.Sprintf("- issue: %s\n", issue)
	}
	for _, s := range q.Suggestions {
		out += fmt.Sprintf("- suggestion: %s\n", s)
	}
	return out
}

// FinalCompletionJudgement is the verdict on whether the whole instruction
// is satisfied after all tasks finished.
type FinalCompletionJudgement struct {
	IsComplete                bool     `json:"isComplete"`
	MissingAspects            []string `json:"missingAspects"`
	AdditionalTaskSuggestions []string `json:"additionalTaskSuggestions"`
	CompletionScore           *int     `json:"completionScore,omitempty"`
}
