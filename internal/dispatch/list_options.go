package dispatch

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 决定作业列表的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前。
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions 是查询作业存储时的过滤与分页条件，时间字段为 Unix 秒，0 表示不限。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	AgentID    string
	Kind       Kind
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// Normalize 修正越界的分页参数并去重状态过滤。
func (opts *ListOptions) Normalize() {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.AgentID = strings.TrimSpace(opts.AgentID)
}

// Matches 判断作业是否满足除分页外的全部过滤条件。
func (opts ListOptions) Matches(job *Job) bool {
	switch {
	case len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, job.Status):
		return false
	case opts.AgentID != "" && job.AgentID != opts.AgentID:
		return false
	case opts.Kind != "" && job.Kind != opts.Kind:
		return false
	case opts.UpdatedGTE > 0 && job.UpdatedAt < opts.UpdatedGTE:
		return false
	case opts.UpdatedLTE > 0 && job.UpdatedAt > opts.UpdatedLTE:
		return false
	}
	return true
}

// ListOption 以函数式选项构造 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配的作业。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses 只保留处于给定状态的作业。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithAgent 只保留提交给指定智能体的作业。
func WithAgent(agentID string) ListOption {
	return func(opts *ListOptions) {
		opts.AgentID = agentID
	}
}

// WithKind 按作业类型（对话或工具调用）过滤。
func WithKind(kind Kind) ListOption {
	return func(opts *ListOptions) {
		opts.Kind = kind
	}
}

// WithUpdatedSince 只保留在 ts 及之后更新过的作业，零值取消该条件。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 及之前更新过的作业，零值取消该条件。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// BuildListOptions 依次应用选项并规范化结果。
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.Normalize()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
