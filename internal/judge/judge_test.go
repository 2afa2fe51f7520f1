package judge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/task"
)

func TestTruncateLogShortLogUnchanged(t *testing.T) {
	log := "short log"
	assert.Equal(t, log, TruncateLog(log, 1024, 128))
}

func TestTruncateLogPreservesHeadAndTail(t *testing.T) {
	head := strings.Repeat("H", 100)
	middle := strings.Repeat("M", 10000)
	tail := strings.Repeat("T", 100)
	log := head + middle + tail

	got := TruncateLog(log, 1000, 100)
	assert.LessOrEqual(t, len(got), 1000)
	assert.True(t, strings.HasPrefix(got, head), "head must be preserved")
	assert.True(t, strings.HasSuffix(got, tail), "tail must be preserved")
	assert.Contains(t, got, "truncated")
}

func TestTruncateLogIdempotent(t *testing.T) {
	log := strings.Repeat("x ", 100000)
	once := TruncateLog(log, 2048, 256)
	twice := TruncateLog(once, 2048, 256)
	assert.Equal(t, once, twice)
}

func TestTruncateLogUTF8Safe(t *testing.T) {
	// Multi-byte runes positioned to straddle the cut points.
	log := strings.Repeat("héllo wörld ", 5000)
	got := TruncateLog(log, 1000, 100)
	assert.True(t, len(got) <= 1000)
	assert.True(t, strings.ToValidUTF8(got, "") == got, "truncation must not split runes")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"success": true}`,
			want:  `{"success": true}`,
		},
		{
			name:  "surrounded by prose",
			input: "Here is my verdict:\n{\"success\": false}\nLet me know.",
			want:  `{"success": false}`,
		},
		{
			name:  "fenced code block",
			input: "```json\n{\"success\": true}\n```",
			want:  `{"success": true}`,
		},
		{
			name:  "nested objects",
			input: `{"a": {"b": {"c": 1}}}`,
			want:  `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:  "braces inside strings",
			input: `{"reason": "use {braces} carefully"}`,
			want:  `{"reason": "use {braces} carefully"}`,
		},
		{
			name:  "escaped quotes inside strings",
			input: `{"reason": "said \"no}\" loudly"}`,
			want:  `{"reason": "said \"no}\" loudly"}`,
		},
		{
			name:    "no object",
			input:   "I was unable to produce a verdict.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			input:   `{"success": true`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJudgement(t *testing.T) {
	j := ParseJudgement(`{"success": false, "reason": "tests fail", "shouldContinue": true, "missingRequirements": ["fix TestFoo"]}`)
	assert.False(t, j.Success)
	assert.True(t, j.ShouldContinue)
	assert.Equal(t, "tests fail", j.Reason)
	assert.Equal(t, []string{"fix TestFoo"}, j.MissingRequirements)
}

func TestParseJudgementDefaults(t *testing.T) {
	j := ParseJudgement(`{"success": true, "reason": "done"}`)
	assert.True(t, j.Success)
	assert.False(t, j.ShouldContinue)
	assert.False(t, j.ShouldReplan)
	assert.False(t, j.AlreadySatisfied)
}

func TestParseJudgementConservativeFallback(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no JSON", "I think it went well overall."},
		{"malformed JSON", `{"success": "maybe",}`},
		{"missing reason", `{"success": false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := ParseJudgement(tt.input)
			assert.True(t, j.Success, "fallback must accept")
			assert.Equal(t, "parse fallback", j.Reason)
		})
	}
}

func newTestJudge(t *testing.T, runner agent.Runner) (*Judge, *task.Store, *agent.Runs) {
	t.Helper()
	store, err := task.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	runs := agent.NewRuns(store)
	cfg := Config{AgentType: "claude", Model: "sonnet", LogBudgetBytes: 150 * 1024, LogHeadBytes: 10 * 1024}
	return New(store, runs, runner, cfg, nil), store, runs
}

func seedRunningTask(t *testing.T, store *task.Store, runs *agent.Runs) {
	t.Helper()
	created, err := store.CreateTask(&task.Task{
		ID:         "task-1",
		State:      task.StateReady,
		Repo:       "/repo",
		Branch:     "task-abcd1234",
		Acceptance: "all tests pass",
		TaskType:   task.TypeImplementation,
	})
	require.NoError(t, err)
	_, err = task.Claim(store, "task-1", created.Version, "worker-1")
	require.NoError(t, err)

	run := &task.Run{ID: "run-1", TaskID: "task-1", AgentType: "claude", StartedAt: time.Now()}
	require.NoError(t, runs.InitializeLogFile(run))
	require.NoError(t, runs.AppendLog("run-1", "ran tests, everything green\n"))
}

func TestEvaluate(t *testing.T) {
	runner := agent.NewScriptedRunner(agent.Respond(
		`{"success": true, "reason": "acceptance criteria met"}`,
	)...)
	j, store, runs := newTestJudge(t, runner)
	seedRunningTask(t, store, runs)

	verdict, err := j.Evaluate(context.Background(), "task-1", "run-1", "/repo/wt")
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, "acceptance criteria met", verdict.Reason)

	// The prompt carries acceptance criteria and the log.
	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "all tests pass")
	assert.Contains(t, reqs[0].Prompt, "everything green")
}

func TestEvaluateRejectsNonRunningTask(t *testing.T) {
	j, store, runs := newTestJudge(t, agent.NewScriptedRunner())
	seedRunningTask(t, store, runs)
	_, err := task.MarkCompleted(store, "task-1")
	require.NoError(t, err)

	_, err = j.Evaluate(context.Background(), "task-1", "run-1", "")
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestEvaluateUnparseableVerdictFallsOpen(t *testing.T) {
	runner := agent.NewScriptedRunner(agent.Respond("I feel good about this one.")...)
	j, store, runs := newTestJudge(t, runner)
	seedRunningTask(t, store, runs)

	verdict, err := j.Evaluate(context.Background(), "task-1", "run-1", "")
	require.NoError(t, err)
	assert.True(t, verdict.Success)
	assert.Equal(t, "parse fallback", verdict.Reason)
}

func TestJudgementNote(t *testing.T) {
	j := &Judgement{Reason: "missing docs", MissingRequirements: []string{"add README"}}
	note := j.Note()
	assert.Equal(t, "missing docs", note.Reason)
	assert.Equal(t, []string{"add README"}, note.MissingRequirements)
	assert.False(t, note.EvaluatedAt.IsZero())
}
