package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <sessionId> [escalationId]",
	Short: "Resolve a pending escalation",
	Long: `Resolve records your guidance on an escalation and moves the leader
session back to EXECUTING. A 'maestro lead' process waiting on the
session picks the resolution up through the session file.

The escalation ID may be omitted when the session has exactly one
unresolved escalation.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runResolve,
}

var resolveMessage string

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVarP(&resolveMessage, "message", "m", "", "Resolution guidance for the leader")
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sessionID := args[0]
	var escalationID string
	if len(args) == 2 {
		escalationID = args[1]
	} else {
		escalationID, err = soleUnresolvedEscalation(a, sessionID)
		if err != nil {
			return err
		}
	}

	sess, err := a.orch.ResolveEscalation(sessionID, escalationID, resolveMessage)
	if err != nil {
		return err
	}

	fmt.Printf("Escalation %s resolved. Session %s is %s.\n", escalationID, sess.SessionID, sess.Status)
	fmt.Printf("Resume execution with:\n  maestro lead <plannerSessionId>\n")
	return nil
}

func soleUnresolvedEscalation(a *app, sessionID string) (string, error) {
	sess, err := a.sessions.LoadLeader(sessionID)
	if err != nil {
		return "", err
	}
	var pending []string
	for _, rec := range sess.EscalationRecords {
		if !rec.Resolved {
			pending = append(pending, rec.ID)
		}
	}
	switch len(pending) {
	case 0:
		return "", fmt.Errorf("session %s has no unresolved escalations", sessionID)
	case 1:
		return pending[0], nil
	default:
		return "", fmt.Errorf("session %s has %d unresolved escalations, pass an escalation ID", sessionID, len(pending))
	}
}
