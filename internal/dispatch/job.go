package dispatch

import (
	stdErrors "errors"

	"agent-platform/internal/engine"
	xerrors "agent-platform/internal/errors"
)

// Status 表示排队作业在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Kind 决定作业交给引擎的哪个入口。
type Kind string

const (
	KindChat Kind = "chat"
	KindTool Kind = "tool"
)

// JobRequest 是提交作业时的参数。ID 为空时自动生成。
type JobRequest struct {
	ID         string         `json:"id,omitempty"`
	AgentID    string         `json:"agent_id"`
	SessionID  string         `json:"session_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message,omitempty"`
	UseRAG     bool           `json:"use_rag,omitempty"`
	Collection string         `json:"collection,omitempty"`
	TaskType   string         `json:"task_type,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Job 描述了排队等待引擎执行的任务。作业 ID 同时作为引擎的 task_id。
type Job struct {
	ID         string             `json:"id"`
	AgentID    string             `json:"agent_id"`
	SessionID  string             `json:"session_id,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	Kind       Kind               `json:"kind"`
	Message    string             `json:"message,omitempty"`
	UseRAG     bool               `json:"use_rag,omitempty"`
	Collection string             `json:"collection,omitempty"`
	TaskType   string             `json:"task_type,omitempty"`
	Input      map[string]any     `json:"input,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	Status     Status             `json:"status"`
	Attempts   int                `json:"attempts"`
	MaxRetries int                `json:"max_retries"`
	LastError  string             `json:"last_error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Result     *engine.TaskResult `json:"result,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

// Terminal 判断作业是否已结束。
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

const (
	CodeJobNotFound         xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict         xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted        xerrors.Code = "JOB_COMPLETED"
	CodeJobCancelled        xerrors.Code = "JOB_CANCELLED"
	CodeJobExhausted        xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation       xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish          xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing       xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobAgentUnavailable xerrors.Code = "JOB_AGENT_UNAVAILABLE"
)

var (
	// ErrJobNotFound 表示指定的作业不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示作业在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示作业已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed")
	// ErrJobCancelled 表示作业已被取消。
	ErrJobCancelled = xerrors.New(CodeJobCancelled, "job cancelled")
	// ErrJobExhausted 表示作业的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobCancelled, xerrors.Attributes{
		Message:  "job cancelled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeJobAgentUnavailable, xerrors.Attributes{
		Message:  "agent unavailable for job",
		Severity: xerrors.SeverityWarning,
	})
}

// IsSkippable 判断领取作业时的错误是否意味着该作业无需再处理。
func IsSkippable(err error) bool {
	return stdErrors.Is(err, ErrJobNotFound) ||
		stdErrors.Is(err, ErrJobCompleted) ||
		stdErrors.Is(err, ErrJobCancelled) ||
		stdErrors.Is(err, ErrJobExhausted) ||
		stdErrors.Is(err, ErrJobConflict)
}

// IsValidStatus 检查给定的作业状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
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

// CloneJob 返回不共享映射与结果的副本。
func CloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Input = cloneMetadata(job.Input)
	clone.Metadata = cloneMetadata(job.Metadata)
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
