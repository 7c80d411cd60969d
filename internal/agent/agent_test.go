package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agent-platform/internal/tool"
)

func TestCanExecute(t *testing.T) {
	cases := map[Status]bool{
		StatusCreated:    false,
		StatusBuilding:   false,
		StatusReady:      true,
		StatusRunning:    true,
		StatusPaused:     false,
		StatusError:      false,
		StatusTerminated: false,
	}
	for status, want := range cases {
		ag := &Agent{Status: status}
		if got := ag.CanExecute(); got != want {
			t.Fatalf("CanExecute(%s) = %v, want %v", status, got, want)
		}
	}
	var nilAgent *Agent
	if nilAgent.CanExecute() {
		t.Fatalf("nil agent must not execute")
	}
}

func TestApplyDefaults(t *testing.T) {
	ag := &Agent{ID: "a1", Name: "Analyst"}
	ag.ApplyDefaults()

	if ag.Type != TypeCustom || ag.Status != StatusCreated {
		t.Fatalf("unexpected defaults: %+v", ag)
	}
	if ag.SecurityClearance() != tool.LevelPublic {
		t.Fatalf("unexpected clearance: %s", ag.SecurityClearance())
	}
	if ag.Limits.Timeout() != 300*time.Second || ag.Limits.MemoryLimitMB != 512 || ag.Limits.MaxConcurrentTasks != 1 {
		t.Fatalf("unexpected limits: %+v", ag.Limits)
	}
}

func TestMemoryRepositorySnapshotsAreIsolated(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.Put(&Agent{ID: "a1", Name: "Analyst", Capabilities: []string{"excel"}, Status: StatusReady}); err != nil {
		t.Fatalf("put agent: %v", err)
	}

	first, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	first.Capabilities[0] = "mutated"

	second, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if second.Capabilities[0] != "excel" {
		t.Fatalf("repository leaked internal state: %v", second.Capabilities)
	}

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
	if err := repo.Put(&Agent{ID: "a2"}); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  - id: fin-1
    name: Ledger Bot
    description: Reconciles ledgers
    agent_type: financial_calculator
    status: ready
    capabilities: [calculation, reporting]
    security_clearance: restricted
    limits:
      timeout_seconds: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}

	agents, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected one agent, got %d", len(agents))
	}
	ag := agents[0]
	if ag.Type != TypeFinancialCalculator || ag.Clearance != tool.LevelRestricted {
		t.Fatalf("unexpected agent: %+v", ag)
	}
	if ag.Limits.TimeoutSeconds != 30 || ag.Limits.MemoryLimitMB != DefaultMemoryLimitMB {
		t.Fatalf("unexpected limits: %+v", ag.Limits)
	}
	if !ag.CanExecute() {
		t.Fatalf("ready agent should execute")
	}
}
