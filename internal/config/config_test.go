package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestSetDefaultsThenLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Scheduler.MaxWorkers != 1 {
		t.Errorf("MaxWorkers = %d, want 1", cfg.Scheduler.MaxWorkers)
	}
	if cfg.Leader.MaxIterations != 1000 {
		t.Errorf("MaxIterations = %d, want 1000", cfg.Leader.MaxIterations)
	}
	if cfg.Judge.LogBudgetBytes != 150*1024 {
		t.Errorf("LogBudgetBytes = %d, want %d", cfg.Judge.LogBudgetBytes, 150*1024)
	}
	if cfg.Judge.MaxContinuations != 3 {
		t.Errorf("MaxContinuations = %d, want 3", cfg.Judge.MaxContinuations)
	}
	if cfg.Planner.QualityThreshold != 60 {
		t.Errorf("QualityThreshold = %d, want 60", cfg.Planner.QualityThreshold)
	}
	if cfg.Loop.SimilarityThreshold != 0.9 {
		t.Errorf("SimilarityThreshold = %v, want 0.9", cfg.Loop.SimilarityThreshold)
	}
	if cfg.Escalation.UserLimit != 10 || cfg.Escalation.PlannerLimit != 3 {
		t.Errorf("escalation limits = %+v, want user=10 planner=3", cfg.Escalation)
	}
	if cfg.Paths.CoordDir != DefaultCoordDirName {
		t.Errorf("CoordDir = %q, want %q", cfg.Paths.CoordDir, DefaultCoordDirName)
	}
}

func TestDefaultMatchesViperDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	fromViper, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()

	if def.Judge != fromViper.Judge {
		t.Errorf("Judge defaults diverge: %+v vs %+v", def.Judge, fromViper.Judge)
	}
	if def.Planner != fromViper.Planner {
		t.Errorf("Planner defaults diverge: %+v vs %+v", def.Planner, fromViper.Planner)
	}
	if def.Escalation != fromViper.Escalation {
		t.Errorf("Escalation defaults diverge: %+v vs %+v", def.Escalation, fromViper.Escalation)
	}
}

func TestCoordDirResolution(t *testing.T) {
	cfg := Default()

	got := cfg.CoordDir("/repo")
	if got != filepath.Join("/repo", DefaultCoordDirName) {
		t.Errorf("CoordDir = %q", got)
	}

	cfg.Paths.CoordDir = "/abs/coord"
	if got := cfg.CoordDir("/repo"); got != "/abs/coord" {
		t.Errorf("absolute CoordDir = %q, want /abs/coord", got)
	}

	cfg.Paths.CoordDir = ""
	if got := cfg.CoordDir("/repo"); got != filepath.Join("/repo", DefaultCoordDirName) {
		t.Errorf("empty CoordDir = %q", got)
	}
}

func TestEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.SetEnvPrefix("MAESTRO")
	viper.SetEnvKeyReplacer(EnvKeyReplacer())
	viper.AutomaticEnv()
	t.Setenv("MAESTRO_SCHEDULER_MAX_WORKERS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4 from env", cfg.Scheduler.MaxWorkers)
	}
}
