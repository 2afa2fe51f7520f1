package cmd

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task and session status",
	Long: `Display every task in the coordination directory with its state,
branch, and dependencies, plus any leader sessions waiting on an
escalation. With --watch the view refreshes whenever the store changes.`,
	RunE: runStatus,
}

var statusWatch bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Refresh on coordination directory changes")
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stateStyles = map[task.State]lipgloss.Style{
		task.StateReady:             lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		task.StateRunning:           lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		task.StateNeedsContinuation: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		task.StateBlocked:           lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		task.StateDone:              lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		task.StateSkipped:           dimStyle,
		task.StateCancelled:         dimStyle,
		task.StateReplacedByReplan:  dimStyle,
	}
)

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := renderStatus(a); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, sub := range []string{"tasks", "leader-sessions"} {
		if err := watcher.Add(filepath.Join(a.coordDir, sub)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", sub, err)
		}
	}

	// Coalesce event bursts: a single store mutation touches temp file,
	// rename target, and directory.
	var pending <-chan time.Time
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("status watcher error", "error", err.Error())
		case <-pending:
			pending = nil
			fmt.Print("\033[H\033[2J")
			if err := renderStatus(a); err != nil {
				return err
			}
		}
	}
}

func renderStatus(a *app) error {
	tasks, err := a.store.ListTasks()
	if err != nil {
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	fmt.Println(titleStyle.Render("Tasks"))
	if len(tasks) == 0 {
		fmt.Println(dimStyle.Render("  (none)"))
	} else {
		fmt.Println(headerStyle.Render(fmt.Sprintf("  %-28s %-20s %-24s %s", "ID", "STATE", "BRANCH", "DEPS")))
		counts := make(map[task.State]int)
		for _, t := range tasks {
			counts[t.State]++
			style, ok := stateStyles[t.State]
			if !ok {
				style = dimStyle
			}
			deps := ""
			if len(t.Dependencies) > 0 {
				parts := make([]string, len(t.Dependencies))
				for i, d := range t.Dependencies {
					parts[i] = string(d)
				}
				deps = strings.Join(parts, ",")
			}
			fmt.Printf("  %-28s %-20s %-24s %s\n",
				t.ID, style.Render(string(t.State)), t.Branch, dimStyle.Render(deps))
		}
		summary := renderCounts(counts, len(tasks))
		if runIDs, err := a.runs.ListRunLogs(); err == nil && len(runIDs) > 0 {
			summary += fmt.Sprintf(" | %d run logs", len(runIDs))
		}
		fmt.Printf("\n  %s\n", dimStyle.Render(summary))
	}

	ids, err := a.sessions.ListLeader()
	if err != nil {
		return err
	}
	var escalated []string
	for _, id := range ids {
		sess, err := a.sessions.LoadLeader(id)
		if err != nil {
			continue
		}
		for _, rec := range sess.EscalationRecords {
			if rec.Resolved {
				continue
			}
			escalated = append(escalated,
				fmt.Sprintf("  %s  %s  %s", sess.SessionID, rec.ID, rec.Reason))
		}
	}
	if len(escalated) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Pending Escalations"))
		for _, line := range escalated {
			fmt.Println(stateStyles[task.StateBlocked].Render(line))
		}
	}
	return nil
}

func renderCounts(counts map[task.State]int, total int) string {
	order := []task.State{
		task.StateReady, task.StateRunning, task.StateNeedsContinuation,
		task.StateBlocked, task.StateDone, task.StateSkipped,
		task.StateCancelled, task.StateReplacedByReplan,
	}
	parts := []string{fmt.Sprintf("%d total", total)}
	for _, s := range order {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], strings.ToLower(string(s))))
		}
	}
	return strings.Join(parts, " | ")
}
