// Package loopdetect watches a control loop for livelock: steps that repeat
// past their iteration ceiling, near-identical agent responses, and state
// transitions that recur in a pattern. The detector is a plain value owned
// by the loop that consults it; there is no shared global state.
package loopdetect

import (
	"fmt"
	"strings"
)

// Thresholds configures the detector. The zero value is unusable; use
// DefaultThresholds or fill every field.
type Thresholds struct {
	// MaxStepIterations is the per-step execution ceiling.
	MaxStepIterations int
	// SimilarityThreshold is the cutoff in [0,1] above which two responses
	// count as the same.
	SimilarityThreshold float64
	// ResponseWindow is how many recent response fingerprints to retain
	// per step.
	ResponseWindow int
	// TransitionPatternLimit is the occurrence count at which a repeated
	// transition is reported.
	TransitionPatternLimit int
}

// DefaultThresholds returns the standard detector configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxStepIterations:      10,
		SimilarityThreshold:    0.9,
		ResponseWindow:         5,
		TransitionPatternLimit: 3,
	}
}

// ResultKind classifies a detector observation.
type ResultKind string

const (
	ResultOK                    ResultKind = "ok"
	ResultStepIterationExceeded ResultKind = "step_iteration_exceeded"
	ResultSimilarResponse       ResultKind = "similar_response"
	ResultTransitionPattern     ResultKind = "transition_pattern"
)

// Result is one detector observation.
type Result struct {
	Kind        ResultKind
	Step        string
	Iteration   int
	Max         int
	Similarity  float64
	Occurrences int
}

// OK reports whether the observation requires no intervention.
func (r Result) OK() bool {
	return r.Kind == ResultOK
}

// ActionKind classifies what the consulting loop should do.
type ActionKind string

const (
	ActionOK            ActionKind = "ok"
	ActionAbort         ActionKind = "abort"
	ActionEscalate      ActionKind = "escalate"
	ActionForceContinue ActionKind = "force_continue"
	ActionRetryWithHint ActionKind = "retry_with_hint"
)

// Action is the detector's recommendation for an observation.
type Action struct {
	Kind    ActionKind
	Reason  string
	Target  string
	Warning string
	Hint    string
}

// Detector tracks per-step iteration counts, response fingerprints, and
// transition history for one control loop.
type Detector struct {
	thresholds  Thresholds
	stepCounts  map[string]int
	responses   map[string][]fingerprint
	transitions map[string]int
}

// New creates a detector with the given thresholds.
func New(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds:  thresholds,
		stepCounts:  make(map[string]int),
		responses:   make(map[string][]fingerprint),
		transitions: make(map[string]int),
	}
}

// RecordStepExecution counts one execution of the named step and reports
// whether the step exceeded its iteration ceiling.
func (d *Detector) RecordStepExecution(step string) Result {
	d.stepCounts[step]++
	n := d.stepCounts[step]
	if n > d.thresholds.MaxStepIterations {
		return Result{
			Kind:      ResultStepIterationExceeded,
			Step:      step,
			Iteration: n,
			Max:       d.thresholds.MaxStepIterations,
		}
	}
	return Result{Kind: ResultOK, Step: step, Iteration: n}
}

// RecordResponse fingerprints an agent response for the named step and
// compares it to the retained window. A similarity above the threshold to
// any retained response reports similar_response.
func (d *Detector) RecordResponse(step, text string) Result {
	fp := newFingerprint(text)

	best := 0.0
	for _, prev := range d.responses[step] {
		if sim := fp.jaccard(prev); sim > best {
			best = sim
		}
	}

	window := append(d.responses[step], fp)
	if len(window) > d.thresholds.ResponseWindow {
		window = window[len(window)-d.thresholds.ResponseWindow:]
	}
	d.responses[step] = window

	if best > d.thresholds.SimilarityThreshold {
		return Result{Kind: ResultSimilarResponse, Step: step, Similarity: best}
	}
	return Result{Kind: ResultOK, Step: step, Similarity: best}
}

// RecordTransition counts a state transition and reports a pattern once the
// same transition has occurred TransitionPatternLimit times.
func (d *Detector) RecordTransition(from, to, reason string) Result {
	key := from + "->" + to
	d.transitions[key]++
	n := d.transitions[key]
	if n >= d.thresholds.TransitionPatternLimit {
		return Result{Kind: ResultTransitionPattern, Occurrences: n}
	}
	return Result{Kind: ResultOK, Occurrences: n}
}

// ActionFor maps an observation to the loop's recommended reaction:
// exceeding the iteration ceiling aborts, a repeated transition pattern
// escalates to the logic validator, and a near-duplicate response retries
// with a hint telling the agent to change approach.
func (d *Detector) ActionFor(r Result) Action {
	switch r.Kind {
	case ResultStepIterationExceeded:
		return Action{
			Kind:   ActionAbort,
			Reason: fmt.Sprintf("step %q executed %d times (limit %d)", r.Step, r.Iteration, r.Max),
		}
	case ResultTransitionPattern:
		return Action{
			Kind:   ActionEscalate,
			Target: "LOGIC_VALIDATOR",
			Reason: fmt.Sprintf("transition repeated %d times", r.Occurrences),
		}
	case ResultSimilarResponse:
		return Action{
			Kind: ActionRetryWithHint,
			Hint: fmt.Sprintf(
				"The previous attempt at %q produced nearly identical output (similarity %.2f). Take a different approach instead of repeating it.",
				r.Step, r.Similarity,
			),
		}
	default:
		return Action{Kind: ActionOK}
	}
}

// Reset clears all recorded history, for reuse across loop restarts.
func (d *Detector) Reset() {
	d.stepCounts = make(map[string]int)
	d.responses = make(map[string][]fingerprint)
	d.transitions = make(map[string]int)
}

// -----------------------------------------------------------------------------
// Fingerprints
// -----------------------------------------------------------------------------

const shingleSize = 3

// fingerprint is a set of word shingles extracted from a normalized
// response, compared with Jaccard similarity.
type fingerprint map[string]struct{}

func newFingerprint(text string) fingerprint {
	words := strings.Fields(strings.ToLower(text))
	fp := make(fingerprint)
	if len(words) == 0 {
		return fp
	}
	if len(words) < shingleSize {
		fp[strings.Join(words, " ")] = struct{}{}
		return fp
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		fp[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return fp
}

// jaccard returns |a ∩ b| / |a ∪ b|, with identical empty sets counting as
// fully similar.
func (a fingerprint) jaccard(b fingerprint) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for s := range a {
		if _, ok := b[s]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
