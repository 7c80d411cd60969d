package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"agent-platform/internal/config"
	"agent-platform/internal/dispatch"
	"agent-platform/internal/tool"
)

const bootstrapYAML = `
agents:
  - id: analyst
    name: Analyst
    agent_type: financial_calculator
    status: ready
  - id: writer
    name: Writer
    agent_type: document_generator
    status: paused
    limits:
      timeout_seconds: 60
`

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte(bootstrapYAML), 0o600); err != nil {
		t.Fatalf("write bootstrap: %v", err)
	}
	path := filepath.Join(dir, "agentd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestCreateAgentRepositorySeedsBootstrap(t *testing.T) {
	cfg := loadTestConfig(t, `
llm:
  openai:
    api_key: sk-test
platform:
  agent_timeout_seconds: 120
agents:
  bootstrap: agents.yaml
`)

	repo, err := createAgentRepository(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	agents, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	analyst, err := repo.Get(context.Background(), "analyst")
	if err != nil {
		t.Fatalf("get analyst: %v", err)
	}
	if analyst.Limits.TimeoutSeconds != 120 {
		t.Fatalf("expected platform timeout, got %d", analyst.Limits.TimeoutSeconds)
	}
	if analyst.Clearance != tool.LevelPublic || !analyst.CanExecute() {
		t.Fatalf("unexpected analyst snapshot: %+v", analyst)
	}
	writer, _ := repo.Get(context.Background(), "writer")
	if writer.Limits.TimeoutSeconds != 60 || writer.CanExecute() {
		t.Fatalf("unexpected writer snapshot: %+v", writer)
	}
	if _, err := repo.Get(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected missing agent error")
	}
}

func TestCreateComponentsFromDefaults(t *testing.T) {
	cfg := loadTestConfig(t, `
llm:
  provider: anthropic
  anthropic:
    api_key: ak-test
  requests_per_second: 2
`)

	provider, err := createProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if provider == nil {
		t.Fatalf("expected provider")
	}

	registry, err := createToolRegistry(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("create tool registry: %v", err)
	}
	if _, err := registry.Get(context.Background(), "generic_processor"); err != nil {
		t.Fatalf("expected builtin tools to be seeded: %v", err)
	}

	if _, ok := createJobStore(cfg, nil).(*dispatch.MemoryStore); !ok {
		t.Fatalf("expected memory job store by default")
	}
	queue, err := createQueue(context.Background(), cfg)
	if err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if _, ok := queue.(*dispatch.MemoryQueue); !ok {
		t.Fatalf("expected memory queue by default, got %T", queue)
	}
	_ = queue.Close()

	store, err := createMemoryStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("create memory store: %v", err)
	}
	_ = store.Close()
}
