package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/cleanup"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale integration and task branches",
	Long: `Cleanup removes the branches task execution accumulates: integration/*
branches and per-task branches that are no longer needed. Protected
branches (main, master, develop, release/*, ...) and the current branch
are never touched, and unrecognized branches are left alone.

By default cleanup only lists what would be deleted. Pass --execute to
delete. Merged branches are deleted safely; unmerged ones are force
deleted.`,
	RunE: runCleanup,
}

var (
	cleanupExecute         bool
	cleanupDeleteRemote    bool
	cleanupIntegrationOnly bool
	cleanupTaskOnly        bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupExecute, "execute", false, "Actually delete branches (default is a dry run)")
	cleanupCmd.Flags().BoolVar(&cleanupDeleteRemote, "delete-remote", false, "Also delete each branch on the remote")
	cleanupCmd.Flags().BoolVar(&cleanupIntegrationOnly, "integration-only", false, "Only target integration branches")
	cleanupCmd.Flags().BoolVar(&cleanupTaskOnly, "task-only", false, "Only target task branches")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupIntegrationOnly && cleanupTaskOnly {
		return fmt.Errorf("--integration-only and --task-only are mutually exclusive")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	deleteRemote := cleanupDeleteRemote || a.cfg.Cleanup.DeleteRemote
	cleaner := cleanup.New(a.client, a.logger)
	report, err := cleaner.Run(cleanup.Options{
		Execute:         cleanupExecute,
		DeleteRemote:    deleteRemote,
		Remote:          a.cfg.Branch.Remote,
		IntegrationOnly: cleanupIntegrationOnly,
		TaskOnly:        cleanupTaskOnly,
	})
	if err != nil {
		return err
	}

	if len(report.Targets) == 0 {
		fmt.Println("No stale branches found. Nothing to clean up.")
		return nil
	}

	if report.DryRun {
		fmt.Printf("Would delete %d branches (pass --execute to delete):\n", len(report.Targets))
	} else {
		fmt.Printf("Deleted %d of %d branches:\n", len(report.Deleted), len(report.Targets))
	}
	for _, t := range report.Targets {
		merged := "unmerged"
		if t.Merged {
			merged = "merged"
		}
		fmt.Printf("  - %s (%s, %s)\n", t.Branch, t.Category, merged)
	}
	for _, b := range report.RemoteDeleted {
		fmt.Printf("  - %s (remote)\n", b)
	}
	for _, e := range report.Errors {
		fmt.Printf("Warning: %s\n", e)
	}
	return nil
}
