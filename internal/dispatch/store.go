package dispatch

import (
	"context"

	"agent-platform/internal/engine"
	xerrors "agent-platform/internal/errors"
)

// Store 抽象了作业状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 把待执行的作业标记为 running 并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkCompleted(ctx context.Context, id string, result engine.TaskResult) error
	// MarkFailed 记录失败；terminal 为 false 时作业回到 pending 等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool, result *engine.TaskResult) error
	// MarkCancelled 把未结束的作业标记为 cancelled，已结束的作业返回 ErrJobCompleted。
	MarkCancelled(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (JobStats, error)
	Close() error
}
