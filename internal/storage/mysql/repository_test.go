package mysql

import (
	"context"
	stdErrors "errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"agent-platform/internal/agent"
	"agent-platform/internal/engine"
	"agent-platform/internal/tool"
)

var toolRowColumns = []string{
	"tool_name", "tool_category", "description", "version", "security_level", "is_public", "requires_approval",
	"allowed_agent_types", "required_capabilities", "config", "created_by", "created_at",
}

func TestToolCatalogGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tools WHERE tool_name = ?")).
		WithArgs("generic_processor").
		WillReturnRows(sqlmock.NewRows(toolRowColumns).AddRow(
			"generic_processor", "utility", "fallback", "1.0.0", "public", true, false,
			`["custom"]`, nil, `{"mode":"llm"}`, "system", int64(1700000000),
		))

	desc, err := NewToolCatalog(db).Get(context.Background(), "generic_processor")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if desc.Category != tool.CategoryUtility || desc.SecurityLevel != tool.LevelPublic || !desc.IsPublic {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if len(desc.AllowedAgentTypes) != 1 || desc.AllowedAgentTypes[0] != "custom" {
		t.Fatalf("unexpected allowed agent types: %v", desc.AllowedAgentTypes)
	}
	if desc.Config["mode"] != "llm" {
		t.Fatalf("unexpected config: %v", desc.Config)
	}
	if desc.CreatedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected created_at: %v", desc.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestToolCatalogGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tools WHERE tool_name = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(toolRowColumns))

	_, err = NewToolCatalog(db).Get(context.Background(), "missing")
	if !stdErrors.Is(err, tool.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestToolCatalogListFiltersByLevel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM tools WHERE tool_category = ? ORDER BY tool_name")).
		WithArgs("data_analyzer").
		WillReturnRows(sqlmock.NewRows(toolRowColumns).
			AddRow("csv_stats", "data_analyzer", nil, "1.0.0", "public", true, false, nil, nil, nil, "system", int64(1)).
			AddRow("ledger_audit", "data_analyzer", nil, "1.0.0", "classified", false, true, nil, nil, nil, "system", int64(2)))

	tools, err := NewToolCatalog(db).List(context.Background(), tool.Filter{
		Category: tool.CategoryDataAnalyzer,
		MaxLevel: tool.LevelInternal,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "csv_stats" {
		t.Fatalf("expected only csv_stats, got %+v", tools)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestToolCatalogCreateConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tools")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tools")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	catalog := NewToolCatalog(db)
	desc := tool.Descriptor{
		Name:          "csv_stats",
		Category:      tool.CategoryDataAnalyzer,
		Version:       "1.0.0",
		SecurityLevel: tool.LevelPublic,
		IsPublic:      true,
		CreatedBy:     "system",
		CreatedAt:     time.Unix(1700000000, 0),
	}
	if err := catalog.Create(context.Background(), desc); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := catalog.Create(context.Background(), desc); !stdErrors.Is(err, tool.ErrToolConflict) {
		t.Fatalf("expected ErrToolConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

var agentRowColumns = []string{
	"id", "name", "description", "agent_type", "status", "capabilities", "security_clearance", "memory_strategy",
	"memory_limit_mb", "timeout_seconds", "max_concurrent_tasks", "created_by", "created_at", "updated_at",
}

func TestAgentRepositoryGetAndList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM agents WHERE id = ?")).
		WithArgs("analyst").
		WillReturnRows(sqlmock.NewRows(agentRowColumns).AddRow(
			"analyst", "Analyst", nil, "data_converter", "ready", `["csv"]`, "internal", "window",
			512, 60, 2, "ops", int64(10), int64(20),
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM agents ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(agentRowColumns).
			AddRow("a1", "A1", "first", "custom", "ready", nil, "public", "", 512, 300, 1, "ops", int64(1), int64(1)).
			AddRow("a2", "A2", "second", "custom", "paused", nil, "public", "", 512, 300, 1, "ops", int64(1), int64(1)))

	repo := NewAgentRepository(db)
	ag, err := repo.Get(context.Background(), "analyst")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ag.Type != agent.TypeDataConverter || ag.Clearance != tool.LevelInternal || !ag.CanExecute() {
		t.Fatalf("unexpected agent: %+v", ag)
	}
	if ag.Limits.TimeoutSeconds != 60 || len(ag.Capabilities) != 1 {
		t.Fatalf("unexpected limits or capabilities: %+v", ag)
	}

	list, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[1].CanExecute() {
		t.Fatalf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAgentRepositoryGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM agents WHERE id = ?")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(agentRowColumns))

	if _, err := NewAgentRepository(db).Get(context.Background(), "ghost"); !stdErrors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestAgentRepositoryUpsertAppliesDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agents")).
		WithArgs(
			"writer", "Writer", "", "custom", "created", nil, "public", "",
			agent.DefaultMemoryLimitMB, agent.DefaultTimeoutSeconds, agent.DefaultMaxConcurrentTasks,
			"", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewAgentRepository(db).Upsert(context.Background(), &agent.Agent{ID: "writer", Name: "Writer"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskRecordRepositoryRecordTask(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	memoryUsed := 0.4
	started := time.Unix(1700000000, 0)
	record := engine.TaskRecord{
		Context: engine.ExecutionContext{
			TaskID:      "task-1",
			AgentID:     "analyst",
			SessionID:   "session-1",
			UserID:      "user-1",
			StartedAt:   started,
			CompletedAt: started.Add(2 * time.Second),
		},
		Kind:     engine.KindChat,
		TaskType: "chat",
		Input:    map[string]any{"message": "hi"},
		Result: engine.TaskResult{
			TaskID:          "task-1",
			Status:          engine.StatusCompleted,
			OutputData:      map[string]any{"response": "hello"},
			ExecutionTimeMS: 2000,
			MemoryUsedMB:    &memoryUsed,
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_task_results")).
		WithArgs(
			"task-1", "analyst", "session-1", "user-1", "chat", "chat", "completed",
			`{"message":"hi"}`, `{"response":"hello"}`, "", int64(2000), 0.4,
			nil, nil, nil, int64(1700000000), int64(1700000002),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewTaskRecordRepository(db).RecordTask(context.Background(), record); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTaskRecordRepositoryListByAgent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	columns := []string{
		"task_id", "agent_id", "session_id", "task_kind", "task_type", "status", "output_data", "error_message",
		"execution_time_ms", "memory_used_mb", "context_used", "tools_used", "warnings", "started_at", "completed_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM agent_task_results WHERE agent_id = ?")).
		WithArgs("analyst", 5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("t2", "analyst", "s", "tool", "data_analysis", "completed", `{"processed_records":3}`, nil,
				int64(12), nil, nil, `["data_processor"]`, nil, int64(5), int64(6)).
			AddRow("t1", "analyst", "s", "chat", "chat", "failed", nil, "boom",
				int64(3), 0.2, nil, nil, `["rag unavailable"]`, int64(1), int64(2)))

	results, err := NewTaskRecordRepository(db).ListByAgent(context.Background(), "analyst", 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Kind != engine.KindTool || len(results[0].Result.ToolsUsed) != 1 || results[0].Result.MemoryUsedMB != nil {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].Result.ErrorMessage != "boom" || results[1].Result.MemoryUsedMB == nil || len(results[1].Result.Warnings) != 1 {
		t.Fatalf("unexpected second result: %+v", results[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
