package engine

import (
	"time"

	xerrors "agent-platform/internal/errors"
)

// Status 表示任务在生命周期中的状态，只能单向推进：
// pending → running → {completed | failed | cancelled}。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionContext 标识一次任务。StartedAt 与 CompletedAt 由引擎写入，
// 调用方只读。
type ExecutionContext struct {
	TaskID      string         `json:"task_id"`
	AgentID     string         `json:"agent_id"`
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// TaskResult 是一次任务的最终结果，返回后不再修改。
type TaskResult struct {
	TaskID          string         `json:"task_id"`
	Status          Status         `json:"status"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorCode       xerrors.Code   `json:"error_code,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	MemoryUsedMB    *float64       `json:"memory_used_mb,omitempty"`
	ContextUsed     []string       `json:"context_used"`
	ToolsUsed       []string       `json:"tools_used"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// Succeeded 判断任务是否成功完成。
func (r TaskResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// ChatOptions 控制对话任务的检索增强行为。
type ChatOptions struct {
	UseRAG     bool
	Collection string
}

// TaskKind 区分两类任务入口。
type TaskKind string

const (
	KindChat TaskKind = "chat"
	KindTool TaskKind = "tool"
)

// TaskRecord 是交给 Recorder 持久化的任务快照。
type TaskRecord struct {
	Context  ExecutionContext
	Kind     TaskKind
	TaskType string
	Input    map[string]any
	Result   TaskResult
}

const (
	CodeTaskDuplicate xerrors.Code = "TASK_DUPLICATE"
	CodeTaskCapacity  xerrors.Code = "TASK_CAPACITY"
	CodeTaskPanic     xerrors.Code = "TASK_PANIC"
)

var (
	// ErrTaskDuplicate 表示同一 task_id 已在执行中。
	ErrTaskDuplicate = xerrors.New(CodeTaskDuplicate, "task already registered", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCapacity 表示并发任务数已达上限。
	ErrTaskCapacity = xerrors.New(CodeTaskCapacity, "maximum concurrent tasks reached", xerrors.WithRetryable(true))
)

func init() {
	xerrors.Register(CodeTaskDuplicate, xerrors.Attributes{
		Message:  "task already registered",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCapacity, xerrors.Attributes{
		Message:   "maximum concurrent tasks reached",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeTaskPanic, xerrors.Attributes{
		Message:  "task handler panicked",
		Severity: xerrors.SeverityCritical,
	})
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
