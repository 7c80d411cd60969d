package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "agent-platform/internal/errors"
	"agent-platform/pkg/logger"
)

// DefaultMaxRetries 是未配置时每个作业的最大尝试次数。
const DefaultMaxRetries = 3

// Canceller 取消正在引擎中执行的任务。
type Canceller interface {
	CancelTask(taskID string) bool
}

// Service 负责作业的提交、查询与取消。
type Service struct {
	store      Store
	producer   Producer
	canceller  Canceller
	maxRetries int
}

// NewService 构造作业服务。canceller 可为空，此时取消只影响尚未执行的作业。
func NewService(store Store, producer Producer, canceller Canceller, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, canceller: canceller, maxRetries: maxRetries}
}

func validateRequest(req JobRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return xerrors.New(CodeJobValidation, "agent_id is required")
	}
	switch req.Kind {
	case KindChat:
		if strings.TrimSpace(req.Message) == "" {
			return xerrors.New(CodeJobValidation, "message is required for chat jobs")
		}
	case KindTool:
		if strings.TrimSpace(req.TaskType) == "" {
			return xerrors.New(CodeJobValidation, "task_type is required for tool jobs")
		}
	default:
		return xerrors.New(CodeJobValidation, "unknown job kind: "+string(req.Kind))
	}
	return nil
}

// Submit 创建一个新的作业并推送到队列。重复提交同一 ID 返回已有作业。
func (s *Service) Submit(ctx context.Context, req JobRequest) (*Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	// 对话作业在提交时固定会话，重试沿用同一段对话记忆。
	sessionID := req.SessionID
	if req.Kind == KindChat && sessionID == "" {
		sessionID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		AgentID:    req.AgentID,
		SessionID:  sessionID,
		UserID:     req.UserID,
		Kind:       req.Kind,
		Message:    req.Message,
		UseRAG:     req.UseRAG,
		Collection: req.Collection,
		TaskType:   req.TaskType,
		Input:      cloneMetadata(req.Input),
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("作业入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true, nil)
		return nil, wrapped
	}
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", jobID),
		slog.String("agent_id", job.AgentID),
		slog.String("kind", string(job.Kind)),
		slog.String("task_type", job.TaskType),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Cancel 取消作业。排队中的作业不会再被执行；运行中的作业通过引擎取消其上下文。
// 已结束的作业返回 ErrJobCompleted。
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	previous, err := s.store.MarkCancelled(ctx, id)
	if err != nil {
		return nil, err
	}
	interrupted := false
	if previous.Status == StatusRunning && s.canceller != nil {
		interrupted = s.canceller.CancelTask(id)
	}
	logger.Audit().Info("作业已取消",
		slog.String("job_id", id),
		slog.String("agent_id", previous.AgentID),
		slog.String("previous_status", string(previous.Status)),
		slog.Bool("interrupted", interrupted),
	)
	return s.store.Get(ctx, id)
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询作业状态直到结束或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
