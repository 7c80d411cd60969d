package knowledge

import (
	"context"
)

// Query 描述一次检索请求。
type Query struct {
	Question       string `json:"question"`
	K              int    `json:"k"`
	Collection     string `json:"collection_name,omitempty"`
	IncludeSources bool   `json:"include_sources"`
}

// Source 是检索命中的一段资料。
type Source struct {
	ChunkID        string         `json:"chunk_id"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ContentPreview string         `json:"content_preview"`
}

// Answer 是检索结果。ContextUsed 为 false 时 Answer 不应被用作事实依据。
type Answer struct {
	Answer      string   `json:"answer"`
	Sources     []Source `json:"sources"`
	ContextUsed bool     `json:"context_used"`
	NumSources  int      `json:"num_sources"`
}

// Retriever 定义检索增强服务的查询契约，实现必须支持并发调用。
type Retriever interface {
	Query(ctx context.Context, q Query) (*Answer, error)
}

// RetrieverFunc 允许使用普通函数实现 Retriever。
type RetrieverFunc func(ctx context.Context, q Query) (*Answer, error)

// Query 实现 Retriever 接口。
func (f RetrieverFunc) Query(ctx context.Context, q Query) (*Answer, error) {
	return f(ctx, q)
}
