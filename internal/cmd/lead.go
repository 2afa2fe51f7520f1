package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/orchestrator"
)

var leadCmd = &cobra.Command{
	Use:   "lead <planFile|plannerSessionId>",
	Short: "Execute a planned session to completion",
	Long: `Lead runs the execution loop for a planner session: tasks are
claimed, executed in worktrees, judged, and continued or replanned
until the set is terminal. When the loop needs a human decision it
pauses with an escalation; resolve it with 'maestro resolve' and lead
exits with code 2 so scripts can tell the difference.

The argument is either a planner session ID (from 'maestro plan') or a
path to a JSON plan file containing a task breakdown array.`,
	Args: cobra.ExactArgs(1),
	RunE: runLead,
}

func init() {
	rootCmd.AddCommand(leadCmd)
}

func runLead(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	var out *orchestrator.Outcome
	if info, statErr := os.Stat(args[0]); statErr == nil && !info.IsDir() {
		raw, readErr := os.ReadFile(args[0])
		if readErr != nil {
			return fmt.Errorf("failed to read plan file: %w", readErr)
		}
		instruction := "Execute the plan from " + filepath.Base(args[0])
		out, err = a.orch.ExecuteSeeded(cmd.Context(), instruction, string(raw))
	} else {
		out, err = a.orch.ExecutePlanned(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	return reportOutcome(out)
}
