// Package cleanup finds and deletes stale local branches left behind by
// finished tasks and integrations. Dry-run is the default; nothing is
// deleted unless the caller opts in.
package cleanup

import (
	"regexp"

	"github.com/Iron-Ham/maestro/internal/git"
	"github.com/Iron-Ham/maestro/internal/logging"
)

// Category classifies a branch by naming convention.
type Category string

const (
	// CategoryIntegration is a consolidation branch (integration/...).
	CategoryIntegration Category = "integration"
	// CategoryTask is a generated task branch (prefix-hexid).
	CategoryTask Category = "task"
	// CategoryOther is anything unrecognized; never a deletion target.
	CategoryOther Category = "other"
)

var protectedNames = map[string]bool{
	"main":        true,
	"master":      true,
	"develop":     true,
	"development": true,
	"production":  true,
	"staging":     true,
}

var (
	protectedPattern   = regexp.MustCompile(`^(release|hotfix)/.*`)
	integrationPattern = regexp.MustCompile(`^integration/`)
	taskPattern        = regexp.MustCompile(`^[a-z]+-[a-zA-Z0-9]{8,}$`)
)

// IsProtected reports whether a branch must never be deleted.
func IsProtected(branch git.BranchName) bool {
	name := string(branch)
	return protectedNames[name] || protectedPattern.MatchString(name)
}

// Categorize classifies a branch by its name.
func Categorize(branch git.BranchName) Category {
	name := string(branch)
	switch {
	case integrationPattern.MatchString(name):
		return CategoryIntegration
	case taskPattern.MatchString(name):
		return CategoryTask
	default:
		return CategoryOther
	}
}

// Options controls one cleanup pass.
type Options struct {
	// Execute performs deletions. False lists targets only.
	Execute bool
	// DeleteRemote also deletes each branch on the remote.
	DeleteRemote bool
	// Remote names the remote for DeleteRemote. Defaults to origin.
	Remote string
	// IntegrationOnly restricts targets to integration branches.
	IntegrationOnly bool
	// TaskOnly restricts targets to task branches.
	TaskOnly bool
}

// Target is one branch selected for deletion.
type Target struct {
	Branch   git.BranchName
	Category Category
	Merged   bool
}

// Report is the outcome of one cleanup pass.
type Report struct {
	Current       git.BranchName
	Targets       []Target
	Deleted       []git.BranchName
	RemoteDeleted []git.BranchName
	Errors        []string
	DryRun        bool
}

// Cleaner deletes stale branches through the git client.
type Cleaner struct {
	client *git.Client
	logger *logging.Logger
}

// New creates a Cleaner.
func New(client *git.Client, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Cleaner{client: client, logger: logger}
}

// Run selects the stale branches and, when Execute is set, deletes them.
//
// The current branch and protected branches are never targets, and branches
// in the "other" category are left alone. Merged-state is checked against
// the current branch; an unmerged target is force-deleted when executing.
// Per-branch deletion failures are collected, not fatal.
func (c *Cleaner) Run(opts Options) (*Report, error) {
	current, err := c.client.CurrentBranch()
	if err != nil {
		return nil, err
	}
	branches, err := c.client.ListBranches()
	if err != nil {
		return nil, err
	}
	merged, err := c.client.MergedBranches(current)
	if err != nil {
		return nil, err
	}
	mergedSet := make(map[git.BranchName]bool, len(merged))
	for _, b := range merged {
		mergedSet[b] = true
	}

	report := &Report{Current: current, DryRun: !opts.Execute}
	for _, b := range branches {
		if b == current || IsProtected(b) {
			continue
		}
		cat := Categorize(b)
		if !c.wanted(cat, opts) {
			continue
		}
		report.Targets = append(report.Targets, Target{
			Branch:   b,
			Category: cat,
			Merged:   mergedSet[b],
		})
	}

	if !opts.Execute {
		c.logger.Info("cleanup dry run", "targets", len(report.Targets))
		return report, nil
	}

	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}
	for _, target := range report.Targets {
		if err := c.client.DeleteBranch(target.Branch, !target.Merged); err != nil {
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Deleted = append(report.Deleted, target.Branch)

		if opts.DeleteRemote {
			if err := c.client.DeleteRemoteBranch(target.Branch, remote); err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			report.RemoteDeleted = append(report.RemoteDeleted, target.Branch)
		}
	}

	c.logger.Info("cleanup finished",
		"deleted", len(report.Deleted),
		"remote_deleted", len(report.RemoteDeleted),
		"errors", len(report.Errors),
	)
	return report, nil
}

func (c *Cleaner) wanted(cat Category, opts Options) bool {
	switch {
	case opts.IntegrationOnly:
		return cat == CategoryIntegration
	case opts.TaskOnly:
		return cat == CategoryTask
	default:
		return cat == CategoryIntegration || cat == CategoryTask
	}
}
