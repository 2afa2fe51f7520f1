package loopdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepIterationCeiling(t *testing.T) {
	th := DefaultThresholds()
	th.MaxStepIterations = 3
	d := New(th)

	for i := 1; i <= 3; i++ {
		r := d.RecordStepExecution("judge")
		assert.True(t, r.OK(), "iteration %d should be ok", i)
		assert.Equal(t, i, r.Iteration)
	}

	r := d.RecordStepExecution("judge")
	assert.Equal(t, ResultStepIterationExceeded, r.Kind)
	assert.Equal(t, 4, r.Iteration)
	assert.Equal(t, 3, r.Max)

	// Steps are tracked independently.
	assert.True(t, d.RecordStepExecution("worker").OK())
}

func TestIdenticalResponseDetectedOnSecondCall(t *testing.T) {
	d := New(DefaultThresholds())

	text := "I could not find the configuration file so I gave up on this task"
	first := d.RecordResponse("worker", text)
	assert.True(t, first.OK())

	second := d.RecordResponse("worker", text)
	assert.Equal(t, ResultSimilarResponse, second.Kind)
	assert.InDelta(t, 1.0, second.Similarity, 0.001)
}

func TestDissimilarResponsesPass(t *testing.T) {
	d := New(DefaultThresholds())

	assert.True(t, d.RecordResponse("worker", "implemented the parser with a new token type").OK())
	r := d.RecordResponse("worker", "all tests pass and the branch was pushed upstream")
	assert.True(t, r.OK())
	assert.Less(t, r.Similarity, 0.9)
}

func TestResponseWindowForgetsOldEntries(t *testing.T) {
	th := DefaultThresholds()
	th.ResponseWindow = 2
	d := New(th)

	old := "the very first response text that should age out of the window"
	d.RecordResponse("worker", old)
	d.RecordResponse("worker", "something entirely different happened on the second try here")
	d.RecordResponse("worker", "and a third unrelated response pushes the first one out now")

	// The first response is outside the window, so repeating it is not
	// flagged.
	r := d.RecordResponse("worker", old)
	assert.True(t, r.OK())
}

func TestResponsesTrackedPerStep(t *testing.T) {
	d := New(DefaultThresholds())

	text := "identical text recorded against two different step names here"
	d.RecordResponse("worker", text)
	r := d.RecordResponse("judge", text)
	assert.True(t, r.OK(), "similarity must not leak across steps")
}

func TestTransitionPattern(t *testing.T) {
	th := DefaultThresholds()
	th.TransitionPatternLimit = 3
	d := New(th)

	assert.True(t, d.RecordTransition("RUNNING", "READY", "continuation").OK())
	assert.True(t, d.RecordTransition("RUNNING", "READY", "continuation").OK())

	r := d.RecordTransition("RUNNING", "READY", "continuation")
	assert.Equal(t, ResultTransitionPattern, r.Kind)
	assert.Equal(t, 3, r.Occurrences)
}

func TestActionMapping(t *testing.T) {
	d := New(DefaultThresholds())

	tests := []struct {
		name   string
		result Result
		want   ActionKind
	}{
		{"ok", Result{Kind: ResultOK}, ActionOK},
		{"iteration exceeded", Result{Kind: ResultStepIterationExceeded, Step: "judge", Iteration: 11, Max: 10}, ActionAbort},
		{"similar response", Result{Kind: ResultSimilarResponse, Step: "worker", Similarity: 0.97}, ActionRetryWithHint},
		{"transition pattern", Result{Kind: ResultTransitionPattern, Occurrences: 3}, ActionEscalate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.ActionFor(tt.result)
			assert.Equal(t, tt.want, got.Kind)
		})
	}
}

func TestActionEscalateTargetsLogicValidator(t *testing.T) {
	d := New(DefaultThresholds())
	a := d.ActionFor(Result{Kind: ResultTransitionPattern, Occurrences: 5})
	assert.Equal(t, "LOGIC_VALIDATOR", a.Target)
}

func TestActionRetryHintNamesStep(t *testing.T) {
	d := New(DefaultThresholds())
	a := d.ActionFor(Result{Kind: ResultSimilarResponse, Step: "worker", Similarity: 0.95})
	require.NotEmpty(t, a.Hint)
	assert.Contains(t, a.Hint, "worker")
}

func TestReset(t *testing.T) {
	th := DefaultThresholds()
	th.MaxStepIterations = 1
	d := New(th)

	d.RecordStepExecution("judge")
	assert.Equal(t, ResultStepIterationExceeded, d.RecordStepExecution("judge").Kind)

	d.Reset()
	assert.True(t, d.RecordStepExecution("judge").OK())
}

func TestJaccardSimilarity(t *testing.T) {
	a := newFingerprint("the quick brown fox jumps over the lazy dog")
	b := newFingerprint("the quick brown fox jumps over the lazy dog")
	assert.InDelta(t, 1.0, a.jaccard(b), 0.001)

	c := newFingerprint("a completely unrelated sentence about compilers and linkers")
	assert.Equal(t, 0.0, a.jaccard(c))

	// Short texts fall back to a single whole-text shingle.
	d := newFingerprint("hi")
	e := newFingerprint("hi")
	assert.InDelta(t, 1.0, d.jaccard(e), 0.001)
}
