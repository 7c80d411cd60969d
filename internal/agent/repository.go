package agent

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository 按 ID 读取智能体快照。平台核心只读，不通过该接口写入。
type Repository interface {
	Get(ctx context.Context, id string) (*Agent, error)
	List(ctx context.Context) ([]*Agent, error)
}

// MemoryRepository 以内存方式保存智能体，支持从 YAML 文件引导。
type MemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository(agents ...*Agent) *MemoryRepository {
	repo := &MemoryRepository{agents: make(map[string]*Agent, len(agents))}
	for _, ag := range agents {
		if ag != nil {
			_ = repo.Put(ag)
		}
	}
	return repo
}

// Put 写入或覆盖智能体。
func (r *MemoryRepository) Put(ag *Agent) error {
	if err := ag.Validate(); err != nil {
		return err
	}
	clone := ag.Snapshot()
	clone.ApplyDefaults()
	now := time.Now().UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	r.mu.Lock()
	r.agents[clone.ID] = clone
	r.mu.Unlock()
	return nil
}

// Get 实现 Repository 接口。
func (r *MemoryRepository) Get(_ context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return ag.Snapshot(), nil
}

// List 按 ID 排序返回全部智能体。
func (r *MemoryRepository) List(_ context.Context) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make([]*Agent, 0, len(r.agents))
	for _, ag := range r.agents {
		results = append(results, ag.Snapshot())
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

type bootstrapFile struct {
	Agents []*Agent `yaml:"agents"`
}

// LoadFile 从 YAML 引导文件读取智能体列表。
func LoadFile(path string) ([]*Agent, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体引导文件失败: %w", err)
	}
	var file bootstrapFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析智能体引导文件失败: %w", err)
	}
	for _, ag := range file.Agents {
		if err := ag.Validate(); err != nil {
			return nil, fmt.Errorf("智能体引导文件无效: %w", err)
		}
		ag.ApplyDefaults()
	}
	return file.Agents, nil
}

var _ Repository = (*MemoryRepository)(nil)
