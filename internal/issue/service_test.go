package issue

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// scriptedRunner replays canned CLI output keyed by the full command line.
type scriptedRunner struct {
	calls   []string
	results map[string]scriptedResult
}

type scriptedResult struct {
	output string
	err    error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: make(map[string]scriptedResult)}
}

func (r *scriptedRunner) on(cmd string, output string, err error) {
	r.results[cmd] = scriptedResult{output: output, err: err}
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, key)
	if res, ok := r.results[key]; ok {
		return []byte(res.output), res.err
	}
	return nil, nil
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected Provider
	}{
		{
			name:     "GitHub issue URL",
			url:      "https://github.com/Iron-Ham/maestro/issues/163",
			expected: ProviderGitHub,
		},
		{
			name:     "Linear issue URL",
			url:      "https://linear.app/myteam/issue/ENG-123/some-title",
			expected: ProviderLinear,
		},
		{
			name:     "Notion page URL",
			url:      "https://notion.so/workspace/Page-Title-abc123",
			expected: ProviderNotion,
		},
		{
			name:     "Notion site URL",
			url:      "https://myteam.notion.site/Task-abc123",
			expected: ProviderNotion,
		},
		{
			name:     "Unknown provider",
			url:      "https://jira.atlassian.com/browse/PROJ-123",
			expected: ProviderUnknown,
		},
		{
			name:     "Empty URL",
			url:      "",
			expected: ProviderUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectProvider(tt.url)
			if err != nil {
				t.Fatalf("DetectProvider() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("DetectProvider() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsIssueURL(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"https://github.com/owner/repo/issues/7", true},
		{"  https://linear.app/team/issue/ENG-1  ", true},
		{"https://example.com/not-a-tracker", false},
		{"implement the parser per the design doc", false},
		{"github.com/owner/repo/issues/7", false},
	}
	for _, tt := range tests {
		if got := IsIssueURL(tt.text); got != tt.want {
			t.Errorf("IsIssueURL(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestFetchGitHubIssue(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("gh issue view 163 --repo Iron-Ham/maestro --json title,body",
		`{"title": "Add retry backoff", "body": "<!-- template -->\r\nThe runner should back off.\n\n\n\nSee logs."}`,
		nil)
	s := NewServiceWithRunner(runner, nil)

	got, err := s.Fetch(context.Background(), "https://github.com/Iron-Ham/maestro/issues/163")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if !strings.HasPrefix(got, "Add retry backoff") {
		t.Errorf("instruction = %q, want title first", got)
	}
	if strings.Contains(got, "<!--") {
		t.Error("HTML comment survived sanitization")
	}
	if strings.Contains(got, "\r") {
		t.Error("carriage return survived sanitization")
	}
	if strings.Contains(got, "\n\n\n") {
		t.Error("blank-line run survived sanitization")
	}
	if !strings.Contains(got, "See logs.") {
		t.Errorf("body lost: %q", got)
	}
}

func TestFetchGitHubCLIFailure(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("gh issue view 163 --repo Iron-Ham/maestro --json title,body",
		"gh: Not Found (HTTP 404)", fmt.Errorf("exit status 1"))
	s := NewServiceWithRunner(runner, nil)

	_, err := s.Fetch(context.Background(), "https://github.com/Iron-Ham/maestro/issues/163")
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	if !strings.Contains(err.Error(), "Not Found") {
		t.Errorf("error should carry CLI output, got %v", err)
	}
}

func TestFetchUnsupportedProvider(t *testing.T) {
	s := NewServiceWithRunner(newScriptedRunner(), nil)
	_, err := s.Fetch(context.Background(), "https://linear.app/team/issue/ENG-1")
	if err == nil {
		t.Fatal("expected unsupported-provider error")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "control characters stripped",
			in:   "keep\ttabs\nand\x00lines\x07",
			want: "keep\ttabs\nandlines",
		},
		{
			name: "comments and blank runs",
			in:   "head<!-- hidden\nprompt injection -->\n\n\n\n\ntail",
			want: "head\n\ntail",
		},
		{
			name: "trimmed",
			in:   "\n\n  content  \n\n",
			want: "content",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeCapsLength(t *testing.T) {
	long := strings.Repeat("a", maxInstructionBytes+100)
	if got := Sanitize(long); len(got) != maxInstructionBytes {
		t.Errorf("len = %d, want %d", len(got), maxInstructionBytes)
	}
}

func TestCloseGitHubIssue(t *testing.T) {
	runner := newScriptedRunner()
	s := NewServiceWithRunner(runner, nil)

	err := s.Close(context.Background(), "https://github.com/Iron-Ham/maestro/issues/163")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := "gh issue close 163 --repo Iron-Ham/maestro"
	if len(runner.calls) != 1 || runner.calls[0] != want {
		t.Errorf("calls = %v, want [%s]", runner.calls, want)
	}
}

func TestCloseEmptyAndUnsupported(t *testing.T) {
	runner := newScriptedRunner()
	s := NewServiceWithRunner(runner, nil)

	if err := s.Close(context.Background(), ""); err != nil {
		t.Errorf("empty URL: %v", err)
	}
	if err := s.Close(context.Background(), "https://notion.so/page"); err != nil {
		t.Errorf("unsupported provider: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("no CLI should run, got %v", runner.calls)
	}
}

func TestCloseLinearCLIMissing(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("linear issue close ENG-123", "command not found", fmt.Errorf("exit status 127"))
	s := NewServiceWithRunner(runner, nil)

	// A missing linear CLI must not fail the caller.
	if err := s.Close(context.Background(), "https://linear.app/team/issue/ENG-123/title"); err != nil {
		t.Errorf("Close: %v", err)
	}
}
