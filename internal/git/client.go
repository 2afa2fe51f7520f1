// Package git is the VCS adapter: branch, worktree, commit, and push
// operations wrapping the git CLI. The CommandExecutor seam lets tests mock
// git without real repositories.
package git

import (
	"os/exec"
	"strings"

	"github.com/Iron-Ham/maestro/internal/errors"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Client performs git operations against one repository.
type Client struct {
	repo     RepoPath
	executor CommandExecutor
}

// NewClient creates a Client for the repository using the real git CLI.
func NewClient(repo RepoPath) *Client {
	return &Client{repo: repo, executor: NewCLICommandExecutor()}
}

// NewClientWithExecutor creates a Client with a custom executor, primarily
// for tests.
func NewClientWithExecutor(repo RepoPath, executor CommandExecutor) *Client {
	return &Client{repo: repo, executor: executor}
}

// Repo returns the repository this client operates on.
func (c *Client) Repo() RepoPath {
	return c.repo
}

func (c *Client) git(dir string, args ...string) (string, error) {
	output, err := c.executor.Run(dir, "git", args...)
	if err != nil {
		return string(output), errors.NewGitError("git "+strings.Join(args, " ")+" failed", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return string(output), nil
}

// CurrentBranch returns the branch currently checked out at the repository
// root.
func (c *Client) CurrentBranch() (BranchName, error) {
	output, err := c.git(string(c.repo), "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return BranchName(strings.TrimSpace(output)), nil
}

// ListBranches returns all local branch names.
func (c *Client) ListBranches() ([]BranchName, error) {
	output, err := c.git(string(c.repo), "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []BranchName
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, BranchName(line))
		}
	}
	return branches, nil
}

// BranchExists reports whether a local branch exists.
func (c *Client) BranchExists(branch BranchName) (bool, error) {
	_, err := c.executor.Run(string(c.repo), "git", "show-ref", "--verify", "--quiet",
		"refs/heads/"+string(branch))
	return err == nil, nil
}

// CreateBranch creates a branch from the given base without checking it out.
func (c *Client) CreateBranch(branch BranchName, base BranchName) error {
	args := []string{"branch", string(branch)}
	if base != "" {
		args = append(args, string(base))
	}
	_, err := c.git(string(c.repo), args...)
	return err
}

// CheckoutBranch checks the branch out in the given directory (repository
// root or a worktree).
func (c *Client) CheckoutBranch(dir string, branch BranchName) error {
	_, err := c.git(dir, "checkout", string(branch))
	return err
}

// DeleteBranch deletes a local branch. With force, unmerged branches are
// deleted too.
func (c *Client) DeleteBranch(branch BranchName, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := c.git(string(c.repo), "branch", flag, string(branch))
	return err
}

// DeleteRemoteBranch deletes a branch on the given remote.
func (c *Client) DeleteRemoteBranch(branch BranchName, remote string) error {
	_, err := c.git(string(c.repo), "push", remote, "--delete", string(branch))
	return err
}

// CreateWorktree creates a worktree at path on a new branch created from
// HEAD.
func (c *Client) CreateWorktree(path WorktreePath, branch BranchName) error {
	_, err := c.git(string(c.repo), "worktree", "add", "-b", string(branch), string(path))
	return err
}

// CreateWorktreeFromBranch creates a worktree at path checked out on an
// existing branch.
func (c *Client) CreateWorktreeFromBranch(path WorktreePath, branch BranchName) error {
	_, err := c.git(string(c.repo), "worktree", "add", string(path), string(branch))
	return err
}

// RemoveWorktree removes the worktree at path, discarding its checkout.
func (c *Client) RemoveWorktree(path WorktreePath) error {
	_, err := c.git(string(c.repo), "worktree", "remove", "--force", string(path))
	return err
}

// ListWorktrees returns the paths of all worktrees attached to the
// repository.
func (c *Client) ListWorktrees() ([]WorktreePath, error) {
	output, err := c.git(string(c.repo), "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []WorktreePath
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, WorktreePath(strings.TrimSpace(rest)))
		}
	}
	return paths, nil
}

// CommitChanges stages everything in dir and commits with the message.
// Nothing to commit is not an error; no commit is created.
func (c *Client) CommitChanges(dir string, message string) error {
	if _, err := c.git(dir, "add", "-A"); err != nil {
		return err
	}
	output, err := c.executor.Run(dir, "git", "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return errors.NewGitError("failed to commit changes", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return nil
}

// HasUncommittedChanges reports whether dir has staged or unstaged changes.
func (c *Client) HasUncommittedChanges(dir string) (bool, error) {
	output, err := c.git(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "", nil
}

// PushBranch pushes the branch to the remote, setting upstream.
func (c *Client) PushBranch(dir string, branch BranchName, remote string) error {
	if remote == "" {
		remote = "origin"
	}
	_, err := c.git(dir, "push", "-u", remote, string(branch))
	return err
}

// MergeBranch merges the source branch into the branch checked out in dir.
func (c *Client) MergeBranch(dir string, source BranchName) error {
	output, err := c.executor.Run(dir, "git", "merge", "--no-edit", string(source))
	if err != nil {
		gitErr := errors.NewGitError("failed to merge branch", err).
			WithRepository(dir).
			WithBranch(string(source)).
			WithGitOutput(string(output))
		if strings.Contains(string(output), "CONFLICT") {
			return errors.NewGitError("merge conflict", errors.ErrMergeConflict).
				WithRepository(dir).
				WithBranch(string(source)).
				WithGitOutput(string(output))
		}
		return gitErr
	}
	return nil
}

// MergedBranches returns the local branches already merged into the given
// branch.
func (c *Client) MergedBranches(into BranchName) ([]BranchName, error) {
	output, err := c.git(string(c.repo), "branch", "--merged", string(into), "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []BranchName
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, BranchName(line))
		}
	}
	return branches, nil
}

// Raw runs an arbitrary git command against the repository root and returns
// its output. Escape hatch for callers with needs the typed surface does not
// cover.
func (c *Client) Raw(args ...string) (string, error) {
	return c.git(string(c.repo), args...)
}
