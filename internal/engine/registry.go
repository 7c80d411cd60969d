package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type registration struct {
	ec     *ExecutionContext
	cancel context.CancelFunc
}

// Registry 记录正在执行的任务。成员集合恰好等于在途任务集合，
// 所有变更都在同一把锁内完成。
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*registration
	gate  *semaphore.Weighted
	now   func() time.Time
}

// NewRegistry 创建任务注册表。maxConcurrent<=0 表示不限制并发数。
func NewRegistry(maxConcurrent int) *Registry {
	r := &Registry{
		tasks: make(map[string]*registration),
		now:   time.Now,
	}
	if maxConcurrent > 0 {
		r.gate = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return r
}

// Register 登记任务并写入 StartedAt。重复的 task_id 与超出并发上限的任务会被拒绝。
func (r *Registry) Register(ec *ExecutionContext, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[ec.TaskID]; exists {
		return ErrTaskDuplicate
	}
	if r.gate != nil && !r.gate.TryAcquire(1) {
		return ErrTaskCapacity
	}
	ec.StartedAt = r.now().UTC()
	ec.CompletedAt = time.Time{}
	r.tasks[ec.TaskID] = &registration{ec: ec, cancel: cancel}
	return nil
}

// Unregister 写入 CompletedAt 并移除任务。只有登记时的同一个上下文才能移除条目，
// 已被 Cancel 移除的任务返回 false。
func (r *Registry) Unregister(ec *ExecutionContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ec.CompletedAt = r.now().UTC()
	reg, ok := r.tasks[ec.TaskID]
	if !ok || reg.ec != ec {
		return false
	}
	delete(r.tasks, ec.TaskID)
	r.release()
	return true
}

// Cancel 移除任务并取消其上下文，返回任务是否在途。
func (r *Registry) Cancel(taskID string) bool {
	r.mu.Lock()
	reg, ok := r.tasks[taskID]
	if ok {
		reg.ec.CompletedAt = r.now().UTC()
		delete(r.tasks, taskID)
		r.release()
	}
	r.mu.Unlock()

	if ok && reg.cancel != nil {
		reg.cancel()
	}
	return ok
}

func (r *Registry) release() {
	if r.gate != nil {
		r.gate.Release(1)
	}
}

// Status 在任务在途时返回 running；注册表不保留已结束任务的历史。
func (r *Registry) Status(taskID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		return "", false
	}
	return StatusRunning, true
}

// Active 返回在途任务的快照，按开始时间排序。
func (r *Registry) Active() []ExecutionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ExecutionContext, 0, len(r.tasks))
	for _, reg := range r.tasks {
		snapshot := *reg.ec
		snapshot.Metadata = cloneMetadata(reg.ec.Metadata)
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len 返回在途任务数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
