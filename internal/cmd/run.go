package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/orchestrator"
	"github.com/Iron-Ham/maestro/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Plan and execute an instruction end to end",
	Long: `Run is the non-interactive pipeline: the instruction is decomposed
into tasks without clarifying questions, executed, and judged for
completeness. The instruction may be an issue-tracker URL.

With --wait, run blocks on escalations until another terminal resolves
them with 'maestro resolve', then resumes execution. Without it, run
exits with code 2 when an escalation is pending.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var runWait bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runWait, "wait", false, "Block on escalations and resume after resolution")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out, err := a.orch.Execute(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	for runWait && out.Leader.PendingEscalation != nil {
		res := out.Leader
		fmt.Printf("Escalation pending (%s): %s\n", res.PendingEscalation.Target, res.PendingEscalation.Reason)
		fmt.Printf("Waiting for resolution. In another terminal:\n  maestro resolve %s %s --message \"<guidance>\"\n",
			res.Session.SessionID, res.PendingEscalation.ID)

		if _, err := a.orch.AwaitResolution(ctx, res.Session.SessionID); err != nil {
			return err
		}
		resumed, err := a.orch.Resume(ctx, res.Session.SessionID, out.PlannerSession.SessionID)
		if err != nil {
			return err
		}
		out.Leader = resumed
	}

	return reportOutcome(out)
}

// reportOutcome prints the run summary shared by run and lead.
func reportOutcome(out *orchestrator.Outcome) error {
	res := out.Leader
	fmt.Printf("Session %s finished with status %s\n", res.Session.SessionID, res.Session.Status)
	fmt.Printf("  Completed: %d\n", len(res.CompletedTaskIDs))
	if len(res.FailedTaskIDs) > 0 {
		fmt.Printf("  Failed:    %d\n", len(res.FailedTaskIDs))
		for _, id := range res.FailedTaskIDs {
			fmt.Printf("    - %s\n", id)
		}
	}
	if out.Completion != nil && !out.Completion.IsComplete {
		fmt.Println("  Instruction not fully satisfied:")
		for _, aspect := range out.Completion.MissingAspects {
			fmt.Printf("    - %s\n", aspect)
		}
	}
	for _, extra := range out.AdditionalTasks {
		fmt.Printf("  Follow-up task: %s\n", extra.ID)
	}

	if esc := res.PendingEscalation; esc != nil {
		fmt.Printf("\nEscalation pending (%s): %s\n", esc.Target, esc.Reason)
		if esc.RelatedTaskID != "" {
			fmt.Printf("  Task: %s\n", esc.RelatedTaskID)
		}
		fmt.Printf("Resolve it with:\n  maestro resolve %s %s --message \"<guidance>\"\n",
			res.Session.SessionID, esc.ID)
		return &ExitCodeError{Code: ExitEscalation}
	}
	if res.Session.Status == session.LeaderFailed {
		return fmt.Errorf("session %s failed", res.Session.SessionID)
	}
	return nil
}
