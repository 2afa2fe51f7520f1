package cleanup

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Iron-Ham/maestro/internal/git"
)

// mockExecutor records commands and replays scripted results.
type mockExecutor struct {
	calls   []string
	results map[string]mockResult
}

type mockResult struct {
	output string
	err    error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{results: make(map[string]mockResult)}
}

func (m *mockExecutor) on(args string, output string, err error) {
	m.results[args] = mockResult{output: output, err: err}
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, key)
	if res, ok := m.results[key]; ok {
		return []byte(res.output), res.err
	}
	return nil, nil
}

func (m *mockExecutor) called(want string) bool {
	for _, c := range m.calls {
		if c == want {
			return true
		}
	}
	return false
}

// seedRepo scripts a repository on main with a mix of branch kinds.
func seedRepo(exec *mockExecutor) {
	exec.on("git rev-parse --abbrev-ref HEAD", "main\n", nil)
	exec.on("git branch --format=%(refname:short)",
		strings.Join([]string{
			"main",
			"develop",
			"release/1.2",
			"integration/run-7",
			"task-abc12345",
			"worker-def67890",
			"feature/keep-me",
			"",
		}, "\n"), nil)
	exec.on("git branch --merged main --format=%(refname:short)",
		"main\nintegration/run-7\n", nil)
}

func newCleaner(exec *mockExecutor) *Cleaner {
	return New(git.NewClientWithExecutor("/repo", exec), nil)
}

func TestIsProtected(t *testing.T) {
	tests := []struct {
		branch git.BranchName
		want   bool
	}{
		{"main", true},
		{"master", true},
		{"develop", true},
		{"development", true},
		{"production", true},
		{"staging", true},
		{"release/1.2", true},
		{"hotfix/urgent-fix", true},
		{"released/1.2", false},
		{"task-abc12345", false},
		{"integration/run-1", false},
		{"feature/misc", false},
	}
	for _, tt := range tests {
		if got := IsProtected(tt.branch); got != tt.want {
			t.Errorf("IsProtected(%q) = %v, want %v", tt.branch, got, tt.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		branch git.BranchName
		want   Category
	}{
		{"integration/run-1", CategoryIntegration},
		{"task-abc12345", CategoryTask},
		{"worker-def67890", CategoryTask},
		{"task-abc1234", CategoryOther}, // suffix too short
		{"Task-abc12345", CategoryOther},
		{"feature/keep-me", CategoryOther},
		{"main", CategoryOther},
	}
	for _, tt := range tests {
		if got := Categorize(tt.branch); got != tt.want {
			t.Errorf("Categorize(%q) = %q, want %q", tt.branch, got, tt.want)
		}
	}
}

func TestRunDryRunListsWithoutDeleting(t *testing.T) {
	exec := newMockExecutor()
	seedRepo(exec)

	report, err := newCleaner(exec).Run(Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.DryRun {
		t.Error("report should be marked dry run")
	}
	if len(report.Deleted) != 0 {
		t.Errorf("dry run deleted %v", report.Deleted)
	}

	// integration/run-7 (merged), task-abc12345, worker-def67890. Protected
	// branches, the current branch, and "other" branches are not targets.
	if len(report.Targets) != 3 {
		t.Fatalf("targets = %+v, want 3", report.Targets)
	}
	byBranch := make(map[git.BranchName]Target)
	for _, target := range report.Targets {
		byBranch[target.Branch] = target
	}
	if target := byBranch["integration/run-7"]; !target.Merged || target.Category != CategoryIntegration {
		t.Errorf("integration/run-7 = %+v", target)
	}
	if target := byBranch["task-abc12345"]; target.Merged || target.Category != CategoryTask {
		t.Errorf("task-abc12345 = %+v", target)
	}
	if _, ok := byBranch["feature/keep-me"]; ok {
		t.Error("other-category branch must not be a target")
	}

	for _, c := range exec.calls {
		if strings.HasPrefix(c, "git branch -d") || strings.HasPrefix(c, "git branch -D") {
			t.Errorf("dry run issued %q", c)
		}
	}
}

func TestRunExecuteDeletesForceForUnmerged(t *testing.T) {
	exec := newMockExecutor()
	seedRepo(exec)

	report, err := newCleaner(exec).Run(Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Deleted) != 3 {
		t.Fatalf("deleted = %v", report.Deleted)
	}

	// Merged branch deleted safely, unmerged branches force-deleted.
	if !exec.called("git branch -d integration/run-7") {
		t.Error("merged branch should use -d")
	}
	if !exec.called("git branch -D task-abc12345") {
		t.Error("unmerged branch should use -D")
	}
	if !exec.called("git branch -D worker-def67890") {
		t.Error("unmerged branch should use -D")
	}
}

func TestRunDeleteRemote(t *testing.T) {
	exec := newMockExecutor()
	seedRepo(exec)

	report, err := newCleaner(exec).Run(Options{Execute: true, DeleteRemote: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.RemoteDeleted) != 3 {
		t.Errorf("remote deleted = %v", report.RemoteDeleted)
	}
	if !exec.called("git push origin --delete task-abc12345") {
		t.Errorf("remote delete not issued, calls: %v", exec.calls)
	}
}

func TestRunCategoryFilters(t *testing.T) {
	exec := newMockExecutor()
	seedRepo(exec)
	report, err := newCleaner(exec).Run(Options{IntegrationOnly: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Targets) != 1 || report.Targets[0].Branch != "integration/run-7" {
		t.Errorf("integration-only targets = %+v", report.Targets)
	}

	exec = newMockExecutor()
	seedRepo(exec)
	report, err = newCleaner(exec).Run(Options{TaskOnly: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Targets) != 2 {
		t.Errorf("task-only targets = %+v", report.Targets)
	}
	for _, target := range report.Targets {
		if target.Category != CategoryTask {
			t.Errorf("task-only included %+v", target)
		}
	}
}

func TestRunNeverTargetsCurrentBranch(t *testing.T) {
	exec := newMockExecutor()
	// The current branch matches the task pattern but must survive.
	exec.on("git rev-parse --abbrev-ref HEAD", "task-abc12345\n", nil)
	exec.on("git branch --format=%(refname:short)", "main\ntask-abc12345\n", nil)
	exec.on("git branch --merged task-abc12345 --format=%(refname:short)", "", nil)

	report, err := newCleaner(exec).Run(Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Targets) != 0 {
		t.Errorf("targets = %+v", report.Targets)
	}
}

func TestRunCollectsDeletionErrors(t *testing.T) {
	exec := newMockExecutor()
	seedRepo(exec)
	exec.on("git branch -D task-abc12345", "error: branch checked out elsewhere",
		fmt.Errorf("exit status 1"))

	report, err := newCleaner(exec).Run(Options{Execute: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v", report.Errors)
	}
	// The failure does not stop the pass.
	if len(report.Deleted) != 2 {
		t.Errorf("deleted = %v", report.Deleted)
	}
}
