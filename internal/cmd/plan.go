package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/session"
)

var planCmd = &cobra.Command{
	Use:   "plan <instruction>",
	Short: "Interactively plan an instruction into tasks",
	Long: `Plan runs an interactive planning session: Maestro asks clarifying
questions, surfaces design decisions, and presents a plan summary for
approval. Approval seeds a planner session; run it with 'maestro lead'.

The instruction may be an issue-tracker URL, in which case the issue
body is fetched and used as the instruction.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	instruction := strings.Join(args, " ")
	ctx := cmd.Context()

	sess, err := a.orch.StartPlanning(ctx, instruction)
	if err != nil {
		return err
	}
	machine := a.orch.Planning()
	reader := bufio.NewReader(os.Stdin)

	for {
		switch sess.Status {
		case session.PlanningDiscovery:
			q := machine.CurrentQuestion(sess)
			if q == nil {
				return fmt.Errorf("planning session %s is stuck in discovery", sess.SessionID)
			}
			marker := ""
			if q.Important {
				marker = " (important)"
			}
			fmt.Printf("\n%s%s\n> ", q.Text, marker)
			answer, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read answer: %w", err)
			}
			if err := machine.AnswerQuestion(ctx, sess, strings.TrimSpace(answer)); err != nil {
				return err
			}

		case session.PlanningDesign:
			d := machine.CurrentDecision(sess)
			if d == nil {
				return fmt.Errorf("planning session %s is stuck in design", sess.SessionID)
			}
			fmt.Printf("\nDecision: %s\n", d.Topic)
			for i, opt := range d.Options {
				fmt.Printf("  %d. %s\n", i+1, opt)
			}
			fmt.Print("> ")
			choice, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read decision: %w", err)
			}
			if err := machine.RecordDecision(ctx, sess, strings.TrimSpace(choice)); err != nil {
				return err
			}

		case session.PlanningReview:
			fmt.Printf("\n%s\n", planSummary(sess))
			fmt.Print("\nApprove this plan? [y/n] ")
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}
			if yes(response) {
				plannerSess, err := machine.Approve(sess)
				if err != nil {
					return err
				}
				fmt.Printf("\nPlan approved. Execute it with:\n  maestro lead %s\n", plannerSess.SessionID)
				return nil
			}
			fmt.Print("What should change? ")
			reason, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read feedback: %w", err)
			}
			if err := machine.Reject(sess, strings.TrimSpace(reason)); err != nil {
				return err
			}

		case session.PlanningCancelled:
			fmt.Printf("\nPlanning cancelled after %d rejections.\n", sess.RejectCount)
			return nil

		case session.PlanningFailed:
			return fmt.Errorf("planning failed: %s", sess.ErrorMessage)

		default:
			return fmt.Errorf("unexpected planning status %s", sess.Status)
		}
	}
}

// planSummary returns the review summary, which is the last agent message
// of the planning conversation.
func planSummary(sess *session.PlanningSession) string {
	for i := len(sess.ConversationHistory) - 1; i >= 0; i-- {
		if sess.ConversationHistory[i].Role == "assistant" {
			return sess.ConversationHistory[i].Content
		}
	}
	return "(no summary available)"
}

func yes(response string) bool {
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
