package tool

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter 限定 List 返回的工具范围，零值表示不过滤。
type Filter struct {
	Category Category
	MaxLevel SecurityLevel
}

func (f Filter) matches(d Descriptor) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.MaxLevel != "" && !f.MaxLevel.Dominates(d.SecurityLevel) {
		return false
	}
	return true
}

// Catalog 抽象了工具描述的持久化接口。
type Catalog interface {
	Get(ctx context.Context, name string) (Descriptor, error)
	List(ctx context.Context, filter Filter) ([]Descriptor, error)
	Create(ctx context.Context, desc Descriptor) error
}

// MemoryCatalog 以内存方式保存工具描述，主要用于测试与单机部署。
type MemoryCatalog struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewMemoryCatalog 创建 MemoryCatalog。
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{tools: make(map[string]Descriptor)}
}

// Get 实现 Catalog 接口。
func (c *MemoryCatalog) Get(_ context.Context, name string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.tools[name]
	if !ok {
		return Descriptor{}, ErrToolNotFound
	}
	return desc.Clone(), nil
}

// List 按名称排序返回匹配的工具。
func (c *MemoryCatalog) List(_ context.Context, filter Filter) ([]Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([]Descriptor, 0, len(c.tools))
	for _, desc := range c.tools {
		if filter.matches(desc) {
			results = append(results, desc.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// Create 注册新工具，同名工具返回 ErrToolConflict。
func (c *MemoryCatalog) Create(_ context.Context, desc Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[desc.Name]; ok {
		return ErrToolConflict
	}
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = time.Now().UTC()
	}
	c.tools[desc.Name] = desc.Clone()
	return nil
}

var _ Catalog = (*MemoryCatalog)(nil)
