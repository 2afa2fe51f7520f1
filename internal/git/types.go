package git

// BranchName is a git branch name. It is a distinct type so branch names,
// repository paths, and worktree paths cannot be cross-assigned by accident.
type BranchName string

// String returns the branch name as a plain string.
func (b BranchName) String() string {
	return string(b)
}

// RepoPath is the filesystem path of a git repository root.
type RepoPath string

// String returns the repository path as a plain string.
func (r RepoPath) String() string {
	return string(r)
}

// WorktreePath is the filesystem path of a git worktree checkout.
type WorktreePath string

// String returns the worktree path as a plain string.
func (w WorktreePath) String() string {
	return string(w)
}
