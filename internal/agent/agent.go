package agent

import (
	"slices"
	"strings"
	"time"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/tool"
)

// Type 是智能体的业务类型，工具白名单按类型匹配。
type Type string

const (
	TypeExcelProcessor      Type = "excel_processor"
	TypePDFAnalyzer         Type = "pdf_analyzer"
	TypeDocumentGenerator   Type = "document_generator"
	TypeFinancialCalculator Type = "financial_calculator"
	TypeDataConverter       Type = "data_converter"
	TypeCustom              Type = "custom"
)

// Status 表示智能体的生命周期状态。
type Status string

const (
	StatusCreated    Status = "created"
	StatusBuilding   Status = "building"
	StatusReady      Status = "ready"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

const (
	DefaultMemoryLimitMB      = 512
	DefaultTimeoutSeconds     = 300
	DefaultMaxConcurrentTasks = 1
)

// Limits 描述智能体的资源限制。
type Limits struct {
	MemoryLimitMB      int `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	TimeoutSeconds     int `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxConcurrentTasks int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
}

// Timeout 以 time.Duration 返回超时时间，未配置时为 0。
func (l Limits) Timeout() time.Duration {
	if l.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Agent 是执行单个任务期间使用的只读快照。
type Agent struct {
	ID             string             `json:"id" yaml:"id"`
	Name           string             `json:"name" yaml:"name"`
	Description    string             `json:"description" yaml:"description"`
	Type           Type               `json:"agent_type" yaml:"agent_type"`
	Status         Status             `json:"status" yaml:"status"`
	Capabilities   []string           `json:"capabilities" yaml:"capabilities"`
	Clearance      tool.SecurityLevel `json:"security_clearance" yaml:"security_clearance"`
	MemoryStrategy string             `json:"memory_strategy,omitempty" yaml:"memory_strategy"`
	Limits         Limits             `json:"limits" yaml:"limits"`
	CreatedBy      string             `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt      time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" yaml:"updated_at"`
}

// CanExecute 判断智能体当前是否可以接收任务。
func (a *Agent) CanExecute() bool {
	if a == nil {
		return false
	}
	return a.Status == StatusReady || a.Status == StatusRunning
}

// SecurityClearance 返回安全许可，未配置时视为 public。
func (a *Agent) SecurityClearance() tool.SecurityLevel {
	if a == nil || a.Clearance == "" {
		return tool.LevelPublic
	}
	return a.Clearance
}

// Snapshot 返回不共享切片的副本，供单个任务在执行期间使用。
func (a *Agent) Snapshot() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Capabilities = slices.Clone(a.Capabilities)
	return &clone
}

// ApplyDefaults 为未填写的字段设置默认值。
func (a *Agent) ApplyDefaults() {
	if a.Type == "" {
		a.Type = TypeCustom
	}
	if a.Status == "" {
		a.Status = StatusCreated
	}
	if a.Clearance == "" {
		a.Clearance = tool.LevelPublic
	}
	if a.Limits.MemoryLimitMB <= 0 {
		a.Limits.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if a.Limits.TimeoutSeconds <= 0 {
		a.Limits.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if a.Limits.MaxConcurrentTasks <= 0 {
		a.Limits.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
}

// Validate 校验必填字段与枚举值。
func (a *Agent) Validate() error {
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent is required")
	}
	if strings.TrimSpace(a.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent name is required")
	}
	if a.Clearance != "" && !a.Clearance.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown security clearance: "+string(a.Clearance))
	}
	return nil
}

const CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"

// ErrAgentNotFound 表示智能体不存在。
var ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
	})
}
