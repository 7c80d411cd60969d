package tool

import (
	"slices"
	"strings"
	"time"

	xerrors "agent-platform/internal/errors"
)

// SecurityLevel 是工具的安全等级，高等级包含所有低等级。
type SecurityLevel string

const (
	LevelPublic     SecurityLevel = "public"
	LevelRestricted SecurityLevel = "restricted"
	LevelInternal   SecurityLevel = "internal"
	LevelClassified SecurityLevel = "classified"
)

var levelRank = map[SecurityLevel]int{
	LevelPublic:     0,
	LevelRestricted: 1,
	LevelInternal:   2,
	LevelClassified: 3,
}

// ParseSecurityLevel 解析等级字符串，大小写不敏感。
func ParseSecurityLevel(value string) (SecurityLevel, bool) {
	level := SecurityLevel(strings.ToLower(strings.TrimSpace(value)))
	_, ok := levelRank[level]
	return level, ok
}

// Valid 判断等级是否为已知枚举值。
func (l SecurityLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Dominates 判断当前等级是否覆盖 other。未知等级不覆盖任何等级。
func (l SecurityLevel) Dominates(other SecurityLevel) bool {
	mine, ok := levelRank[l]
	if !ok {
		return false
	}
	theirs, ok := levelRank[other]
	if !ok {
		return false
	}
	return mine >= theirs
}

// Category 是工具的功能分类。
type Category string

const (
	CategoryFileProcessor Category = "file_processor"
	CategoryDataAnalyzer  Category = "data_analyzer"
	CategoryGenerator     Category = "generator"
	CategoryIntegration   Category = "integration"
	CategorySecurity      Category = "security"
	CategoryUtility       Category = "utility"
)

// Valid 判断分类是否为已知枚举值。
func (c Category) Valid() bool {
	switch c {
	case CategoryFileProcessor, CategoryDataAnalyzer, CategoryGenerator,
		CategoryIntegration, CategorySecurity, CategoryUtility:
		return true
	default:
		return false
	}
}

// Descriptor 描述一个可被智能体调用的工具。
type Descriptor struct {
	Name                 string         `json:"tool_name"`
	Category             Category       `json:"tool_category"`
	Description          string         `json:"description"`
	Version              string         `json:"version"`
	SecurityLevel        SecurityLevel  `json:"security_level"`
	IsPublic             bool           `json:"is_public"`
	RequiresApproval     bool           `json:"requires_approval"`
	AllowedAgentTypes    []string       `json:"allowed_agent_types,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty"`
	Config               map[string]any `json:"config,omitempty"`
	CreatedBy            string         `json:"created_by,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// AllowsAgentType 判断工具的白名单是否放行该智能体类型；未声明白名单时全部放行。
func (d Descriptor) AllowsAgentType(agentType string) bool {
	if len(d.AllowedAgentTypes) == 0 {
		return true
	}
	return slices.Contains(d.AllowedAgentTypes, agentType)
}

// Clone 返回不共享切片与映射的副本。
func (d Descriptor) Clone() Descriptor {
	clone := d
	clone.AllowedAgentTypes = slices.Clone(d.AllowedAgentTypes)
	clone.RequiredCapabilities = slices.Clone(d.RequiredCapabilities)
	if d.Config != nil {
		clone.Config = make(map[string]any, len(d.Config))
		for k, v := range d.Config {
			clone.Config[k] = v
		}
	}
	return clone
}

const (
	CodeToolNotFound   xerrors.Code = "TOOL_NOT_FOUND"
	CodeToolConflict   xerrors.Code = "TOOL_CONFLICT"
	CodeToolValidation xerrors.Code = "TOOL_VALIDATION_FAILED"
)

var (
	// ErrToolNotFound 表示工具不存在。
	ErrToolNotFound = xerrors.New(CodeToolNotFound, "tool not found")
	// ErrToolConflict 表示同名工具已注册。
	ErrToolConflict = xerrors.New(CodeToolConflict, "tool already registered")
)

func init() {
	xerrors.Register(CodeToolNotFound, xerrors.Attributes{
		Message:  "tool not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeToolConflict, xerrors.Attributes{
		Message:  "tool already registered",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeToolValidation, xerrors.Attributes{
		Message:  "tool validation failed",
		Severity: xerrors.SeverityInfo,
	})
}
