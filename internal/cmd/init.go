package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/maestro/internal/config"
	"github.com/Iron-Ham/maestro/internal/session"
	"github.com/Iron-Ham/maestro/internal/task"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Maestro in the current repository",
	Long: `Initialize Maestro in the current git repository.
This creates the coordination directory holding tasks, runs, checks,
and session state.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	repoRoot, err := findRepoRoot(cwd)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	coordDir := cfg.CoordDir(repoRoot)

	// Constructing the stores creates the directory layout.
	if _, err := task.NewStore(coordDir, nil); err != nil {
		return fmt.Errorf("failed to initialize task store: %w", err)
	}
	if _, err := session.NewStore(coordDir); err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}

	fmt.Println("Maestro initialized successfully!")
	fmt.Printf("Coordination directory: %s\n", coordDir)
	return nil
}
