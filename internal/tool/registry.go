package tool

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "agent-platform/internal/errors"
	"agent-platform/pkg/logger"
)

const (
	AccessApproved = "approved"
	AccessPending  = "pending"

	defaultApprovalWindow = "24 hours"
)

// AccessRequest 是 RequestAccess 的结果。审批流程不在平台内实现，
// 需要审批的工具只返回 pending 状态与请求编号。
type AccessRequest struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	RequestID         string `json:"request_id,omitempty"`
	EstimatedApproval string `json:"estimated_approval_time,omitempty"`
}

// Registry 是工具访问控制的唯一裁决者。
type Registry struct {
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Registry)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry 基于工具目录构造 Registry。
func NewRegistry(catalog Catalog, opts ...Option) *Registry {
	r := &Registry{
		catalog: catalog,
		logger:  logger.Named("tool"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Seed 写入内置工具，已存在的同名工具保持不变。返回新写入的数量。
func (r *Registry) Seed(ctx context.Context, tools []Descriptor) (int, error) {
	created := 0
	for _, desc := range tools {
		if desc.CreatedAt.IsZero() {
			desc.CreatedAt = r.now().UTC()
		}
		if desc.CreatedBy == "" {
			desc.CreatedBy = "system"
		}
		err := r.catalog.Create(ctx, desc)
		switch {
		case err == nil:
			created++
		case stdErrors.Is(err, ErrToolConflict):
		default:
			return created, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入内置工具 %s 失败", desc.Name))
		}
	}
	r.logger.Info("内置工具初始化完成", slog.Int("created", created), slog.Int("total", len(tools)))
	return created, nil
}

// Get 返回工具描述。
func (r *Registry) Get(ctx context.Context, name string) (Descriptor, error) {
	return r.catalog.Get(ctx, name)
}

// CheckAccess 判断指定类型与安全许可的智能体能否使用工具。
// 未知工具返回 false；目录读取失败时返回错误。
func (r *Registry) CheckAccess(ctx context.Context, name, agentType string, clearance SecurityLevel) (bool, error) {
	desc, err := r.catalog.Get(ctx, name)
	if err != nil {
		if stdErrors.Is(err, ErrToolNotFound) {
			return false, nil
		}
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取工具 %s 失败", name))
	}
	return allows(desc, agentType, clearance), nil
}

// allows 是访问判定规则：公开且最低等级的工具直接放行；
// 其余情况要求许可等级覆盖工具等级，并且类型在白名单内。
func allows(desc Descriptor, agentType string, clearance SecurityLevel) bool {
	if desc.IsPublic && desc.SecurityLevel == LevelPublic {
		return true
	}
	if !clearance.Dominates(desc.SecurityLevel) {
		return false
	}
	return desc.AllowsAgentType(agentType)
}

// RequestAccess 发起工具访问申请。
func (r *Registry) RequestAccess(ctx context.Context, name, agentID, justification string) (AccessRequest, error) {
	desc, err := r.catalog.Get(ctx, name)
	if err != nil {
		return AccessRequest{}, err
	}

	if !desc.RequiresApproval {
		logger.Audit().Info("工具访问已批准",
			slog.String("tool", name),
			slog.String("agent_id", agentID),
		)
		return AccessRequest{
			Status:  AccessApproved,
			Message: "Access granted immediately",
		}, nil
	}

	req := AccessRequest{
		Status:            AccessPending,
		Message:           "Access request submitted for approval",
		RequestID:         fmt.Sprintf("req_%s_%s", name, agentID),
		EstimatedApproval: defaultApprovalWindow,
	}
	logger.Audit().Info("工具访问申请待审批",
		slog.String("tool", name),
		slog.String("agent_id", agentID),
		slog.String("request_id", req.RequestID),
		slog.String("justification", justification),
	)
	return req, nil
}

// GetAvailableTools 返回该智能体可用的工具，可按分类过滤。
// agentType 为空时不检查白名单。
func (r *Registry) GetAvailableTools(ctx context.Context, agentType string, category Category, clearance SecurityLevel) ([]Descriptor, error) {
	if clearance == "" {
		clearance = LevelPublic
	}
	candidates, err := r.catalog.List(ctx, Filter{Category: category})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询工具目录失败")
	}
	available := make([]Descriptor, 0, len(candidates))
	for _, desc := range candidates {
		ok := allows(desc, agentType, clearance)
		if agentType == "" {
			ok = clearance.Dominates(desc.SecurityLevel)
		}
		if ok {
			available = append(available, desc)
		}
	}
	return available, nil
}

// RegisterCustomTool 校验并注册自定义工具。未指定等级时默认为 restricted 且需要审批。
func (r *Registry) RegisterCustomTool(ctx context.Context, desc Descriptor, createdBy string) (Descriptor, error) {
	desc.Name = strings.TrimSpace(desc.Name)
	var missing []string
	if desc.Name == "" {
		missing = append(missing, "tool_name")
	}
	if desc.Category == "" {
		missing = append(missing, "tool_category")
	}
	if strings.TrimSpace(desc.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(desc.Version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return Descriptor{}, xerrors.New(CodeToolValidation,
			"missing required fields: "+strings.Join(missing, ", "))
	}
	if !desc.Category.Valid() {
		return Descriptor{}, xerrors.New(CodeToolValidation, fmt.Sprintf("unknown tool category %q", desc.Category))
	}

	if desc.SecurityLevel == "" {
		desc.SecurityLevel = LevelRestricted
		desc.RequiresApproval = true
	} else if !desc.SecurityLevel.Valid() {
		return Descriptor{}, xerrors.New(CodeToolValidation, fmt.Sprintf("unknown security level %q", desc.SecurityLevel))
	}
	desc.CreatedBy = createdBy
	desc.CreatedAt = r.now().UTC()

	if err := r.catalog.Create(ctx, desc); err != nil {
		if stdErrors.Is(err, ErrToolConflict) {
			return Descriptor{}, err
		}
		return Descriptor{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "注册自定义工具失败")
	}
	logger.Audit().Info("自定义工具已注册",
		slog.String("tool", desc.Name),
		slog.String("created_by", createdBy),
		slog.String("security_level", string(desc.SecurityLevel)),
	)
	return desc.Clone(), nil
}
